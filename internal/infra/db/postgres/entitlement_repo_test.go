//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/domain/ports/repository"
)

func TestEntitlementRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewEntitlementRepo(testPool)
	tm := NewTxManager(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("save and read back with unlimited and finite fields", func(t *testing.T) {
		cleanup(t)
		reset := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
		e, _ := model.NewEntitlement("u1", model.TrackContent, now)
		e.Status = model.EntitlementStatusActive
		e.Plan = model.PlanAgency
		e.BillingCycle = model.CycleYearly
		e.Credits = nil
		e.TrainingSlots = model.Limited(3)
		e.TokensResetAt = &reset
		e.ProviderCustomerRef = "cus_1"
		e.ProviderSubscriptionRef = "sub_1"
		require.NoError(t, repo.Save(ctx, nil, e))

		got, err := repo.Get(ctx, nil, "u1", model.TrackContent)
		require.NoError(t, err)
		assert.Nil(t, got.Credits)
		assert.EqualValues(t, 3, *got.TrainingSlots)
		assert.Equal(t, reset, *got.TokensResetAt)
		assert.Equal(t, model.PlanAgency, got.Plan)

		bySub, err := repo.FindBySubscriptionRef(ctx, nil, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, "u1", bySub.UserID)

		byCus, err := repo.FindByCustomerRef(ctx, nil, "cus_1")
		require.NoError(t, err)
		assert.Len(t, byCus, 1)
	})

	t.Run("cancelled rows store null plan", func(t *testing.T) {
		cleanup(t)
		e, _ := model.NewEntitlement("u2", model.TrackCompanion, now)
		e.Status = model.EntitlementStatusCancelled
		require.NoError(t, repo.Save(ctx, nil, e))
		got, err := repo.Get(ctx, nil, "u2", model.TrackCompanion)
		require.NoError(t, err)
		assert.Empty(t, got.Plan)
		assert.Empty(t, got.BillingCycle)
	})

	t.Run("missing rows", func(t *testing.T) {
		cleanup(t)
		_, err := repo.Get(ctx, nil, "nobody", model.TrackContent)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = repo.FindBySubscriptionRef(ctx, nil, "sub_x")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("GetForUpdate requires a transaction", func(t *testing.T) {
		_, err := repo.GetForUpdate(ctx, repository.NoTX, "u1", model.TrackContent)
		assert.ErrorIs(t, err, domain.ErrInvalidExecContext)
	})

	t.Run("rollback discards the write", func(t *testing.T) {
		cleanup(t)
		boom := errors.New("boom")
		err := tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			_, err := repo.GetForUpdate(ctx, tx, "u3", model.TrackContent)
			require.ErrorIs(t, err, domain.ErrNotFound)
			e, _ := model.NewEntitlement("u3", model.TrackContent, now)
			require.NoError(t, repo.Save(ctx, tx, e))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		_, err = repo.Get(ctx, nil, "u3", model.TrackContent)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
