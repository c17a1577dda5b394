package memory

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

func TestStore_TransactionCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()

	err := s.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		e, _ := model.NewEntitlement("u1", model.TrackContent, now)
		require.NoError(t, s.Save(ctx, tx, e))
		return errors.New("abort")
	})
	require.Error(t, err)
	_, err = s.Get(ctx, nil, "u1", model.TrackContent)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		e, _ := model.NewEntitlement("u1", model.TrackContent, now)
		e.ProviderCustomerRef = "cus_1"
		require.NoError(t, s.Save(ctx, tx, e))
		return s.MarkApplied(ctx, tx, &model.AppliedEvent{EventID: "evt_1", AppliedAt: now})
	})
	require.NoError(t, err)

	rows, err := s.FindByCustomerRef(ctx, nil, "cus_1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	seen, _ := s.HasApplied(ctx, nil, "evt_1")
	assert.True(t, seen)
	assert.ErrorIs(t, s.MarkApplied(ctx, nil, &model.AppliedEvent{EventID: "evt_1"}), domain.ErrAlreadyApplied)
}

func TestStore_ReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	e, _ := model.NewEntitlement("u1", model.TrackContent, time.Now())
	e.Credits = model.Limited(5)
	require.NoError(t, s.Save(ctx, nil, e))

	got, _ := s.Get(ctx, nil, "u1", model.TrackContent)
	*got.Credits = 99
	again, _ := s.Get(ctx, nil, "u1", model.TrackContent)
	assert.EqualValues(t, 5, *again.Credits)
}

func TestStore_TxHandleIsInvalidAfterCommit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	var leaked repository.Tx
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		leaked = tx
		return nil
	}))
	_, err := s.Get(ctx, leaked, "u1", model.TrackContent)
	assert.ErrorIs(t, err, domain.ErrInvalidExecContext)
}
