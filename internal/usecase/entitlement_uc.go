// File: internal/usecase/entitlement_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/catalog"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/domain/ports/repository"
	"creator-billing/internal/domain/ports/usecase"
	"creator-billing/internal/infra/logging"
	"creator-billing/internal/infra/metrics"
)

// Compile-time check
var _ EntitlementUseCase = (*entitlementUC)(nil)

// EntitlementUseCase is the read path the rest of the application gates features on.
type EntitlementUseCase interface {
	usecase.EntitlementReader
	GetRecord(ctx context.Context, userID string) (*model.EntitlementRecord, error)
}

type entitlementUC struct {
	ents   repository.EntitlementRepository
	ledger repository.EventLedger
	tm     repository.TransactionManager
	now    func() time.Time
	log    *zerolog.Logger

	resets singleflight.Group
}

func NewEntitlementUseCase(
	ents repository.EntitlementRepository,
	ledger repository.EventLedger,
	tm repository.TransactionManager,
	now func() time.Time,
	logger *zerolog.Logger,
) *entitlementUC {
	if now == nil {
		now = time.Now
	}
	return &entitlementUC{
		ents:   ents,
		ledger: ledger,
		tm:     tm,
		now:    now,
		log:    logging.Component(logger, "entitlements"),
	}
}

// GetEntitlement returns the view of one track. A companion record whose token window
// has elapsed is reset before it is returned.
func (u *entitlementUC) GetEntitlement(ctx context.Context, userID string, track model.Track) (*model.EntitlementView, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.GetEntitlement")()
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := catalog.Policy(track); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
	}

	now := u.now()
	ent, err := u.ents.Get(ctx, repository.NoTX, userID, track)
	if errors.Is(err, domain.ErrNotFound) {
		empty, _ := model.NewEntitlement(userID, track, now)
		return empty.View(), nil
	}
	if err != nil {
		return nil, persistence("get entitlement", err)
	}
	return u.current(ctx, ent, now)
}

// lazyResetTimeout bounds a reset shared by coalesced readers.
const lazyResetTimeout = 5 * time.Second

// current returns the view of ent, resetting an elapsed token window first.
func (u *entitlementUC) current(ctx context.Context, ent *model.Entitlement, now time.Time) (*model.EntitlementView, error) {
	if !ent.TokenResetDue(now) || !u.tokenWindow(ent.Track) {
		return ent.View(), nil
	}

	// concurrent readers of the same record share one reset transaction, which must
	// not fail for all of them when the first caller goes away
	v, err, _ := u.resets.Do(ent.UserID+"|"+string(ent.Track), func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lazyResetTimeout)
		defer cancel()
		return u.lazyReset(rctx, ent.UserID, ent.Track)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.EntitlementView), nil
}

func (u *entitlementUC) lazyReset(ctx context.Context, userID string, track model.Track) (*model.EntitlementView, error) {
	var view *model.EntitlementView
	err := u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		ent, err := u.ents.GetForUpdate(ctx, tx, userID, track)
		if err != nil {
			return persistence("lock entitlement", err)
		}
		now := u.now()
		if _, err := u.resetIfDue(ctx, tx, ent, now); err != nil {
			return err
		}
		view = ent.View()
		return nil
	})
	if errors.Is(err, domain.ErrAlreadyApplied) {
		// another instance reset this window first; its result is committed
		ent, gerr := u.ents.Get(ctx, repository.NoTX, userID, track)
		if gerr != nil {
			return nil, persistence("get entitlement", gerr)
		}
		return ent.View(), nil
	}
	if err != nil {
		u.log.Error().Err(err).Str("user_id", userID).Str("track", string(track)).Msg("lazy token reset failed")
		return nil, err
	}
	return view, nil
}

// resetIfDue applies the token-window reset to a locked record at most once per window.
// The ledger key is derived from the window being opened, not from any provider event.
func (u *entitlementUC) resetIfDue(ctx context.Context, tx repository.Tx, ent *model.Entitlement, now time.Time) (bool, error) {
	if !u.tokenWindow(ent.Track) || !ent.TokenResetDue(now) {
		return false, nil
	}
	cfg, err := catalog.Lookup(ent.Track, ent.Plan, ent.BillingCycle)
	if err != nil {
		return false, fmt.Errorf("stored plan of %s/%s: %w", ent.UserID, ent.Track, err)
	}
	key := model.TokenResetKey(ent.UserID, ent.Track, model.NextTokenReset(now))
	seen, err := u.ledger.HasApplied(ctx, tx, key)
	if err != nil {
		return false, persistence("ledger lookup", err)
	}
	if seen {
		return false, nil
	}

	ent.ResetTokens(cfg.TokenGrant, now)
	if err := u.ents.Save(ctx, tx, ent); err != nil {
		return false, persistence("save entitlement", err)
	}
	err = u.ledger.MarkApplied(ctx, tx, &model.AppliedEvent{
		EventID:   key,
		Kind:      model.EventTokenReset,
		UserID:    ent.UserID,
		AppliedAt: now,
	})
	if errors.Is(err, domain.ErrAlreadyApplied) {
		return false, err
	}
	if err != nil {
		return false, persistence("mark reset applied", err)
	}
	metrics.IncTokenReset("read")
	u.log.Info().
		Str("user_id", ent.UserID).
		Str("track", string(ent.Track)).
		Int64("tokens", ent.Tokens).
		Time("tokens_reset_at", *ent.TokensResetAt).
		Msg("token window reset on read")
	return true, nil
}

// GetRecord returns both tracks of a user.
func (u *entitlementUC) GetRecord(ctx context.Context, userID string) (*model.EntitlementRecord, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.GetRecord")()
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	rows, err := u.ents.ListByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, persistence("list entitlements", err)
	}
	byTrack := make(map[model.Track]*model.Entitlement, len(rows))
	for _, r := range rows {
		byTrack[r.Track] = r
	}

	now := u.now()
	rec := &model.EntitlementRecord{UserID: userID}
	for _, track := range model.Tracks {
		ent, ok := byTrack[track]
		if !ok {
			ent, _ = model.NewEntitlement(userID, track, now)
		}
		v, err := u.current(ctx, ent, now)
		if err != nil {
			return nil, err
		}
		switch track {
		case model.TrackContent:
			rec.Content = v
		case model.TrackCompanion:
			rec.Companion = v
		}
	}
	return rec, nil
}

// Consume deducts amount from a balance of the user's track. Unlimited balances are
// left untouched; an elapsed token window is reset before tokens are deducted.
func (u *entitlementUC) Consume(ctx context.Context, userID string, track model.Track, r model.Resource, amount int64) (*model.EntitlementView, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.Consume")()
	if userID == "" || amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := catalog.Policy(track); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
	}

	var view *model.EntitlementView
	err := u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		ent, err := u.ents.GetForUpdate(ctx, tx, userID, track)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInsufficientCredits
		}
		if err != nil {
			return persistence("lock entitlement", err)
		}
		now := u.now()
		if _, err := u.resetIfDue(ctx, tx, ent, now); err != nil {
			return err
		}
		if err := ent.Consume(r, amount, now); err != nil {
			return err
		}
		if err := u.ents.Save(ctx, tx, ent); err != nil {
			return persistence("save entitlement", err)
		}
		view = ent.View()
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.AddConsumed(string(track), string(r), amount)
	return view, nil
}

func (u *entitlementUC) tokenWindow(track model.Track) bool {
	p, err := catalog.Policy(track)
	return err == nil && p.TokenWindow
}
