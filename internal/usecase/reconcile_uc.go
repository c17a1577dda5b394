// File: internal/usecase/reconcile_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/catalog"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/domain/ports/repository"
	"creator-billing/internal/domain/ports/usecase"
	"creator-billing/internal/infra/logging"
	"creator-billing/internal/infra/metrics"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

// ReconcileUseCase turns verified provider events into entitlement transitions.
//
// Outcomes and errors:
//   - applied, duplicate, ignored, orphan: nil error, the delivery is acknowledged;
//   - malformed: error wrapping domain.ErrMalformedEvent, never worth redelivering;
//   - failed: error wrapping domain.ErrPersistence, the provider should redeliver.
type ReconcileUseCase interface {
	usecase.EventApplier
}

type reconcileUC struct {
	ents   repository.EntitlementRepository
	ledger repository.EventLedger
	tm     repository.TransactionManager
	now    func() time.Time
	log    *zerolog.Logger
}

func NewReconcileUseCase(
	ents repository.EntitlementRepository,
	ledger repository.EventLedger,
	tm repository.TransactionManager,
	now func() time.Time,
	logger *zerolog.Logger,
) *reconcileUC {
	if now == nil {
		now = time.Now
	}
	return &reconcileUC{
		ents:   ents,
		ledger: ledger,
		tm:     tm,
		now:    now,
		log:    logging.Component(logger, "reconcile"),
	}
}

// errDuplicate unwinds the transaction without an error reaching the caller.
var errDuplicate = errors.New("duplicate")

func (u *reconcileUC) Apply(ctx context.Context, ev model.Event) (model.Outcome, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.Apply")()
	if ev == nil {
		return model.OutcomeMalformed, fmt.Errorf("nil event: %w", domain.ErrMalformedEvent)
	}

	start := time.Now()
	ctx = logging.WithEventID(ctx, ev.EventID())
	outcome, userID, err := u.apply(ctx, ev)
	metrics.IncReconcileEvent(string(ev.Kind()), string(outcome))
	metrics.ObserveReconcile(string(ev.Kind()), time.Since(start).Seconds())

	if userID != "" {
		ctx = logging.WithUserID(ctx, userID)
	}
	l := logging.With(ctx, u.log).With().
		Str("kind", string(ev.Kind())).
		Str("provider_type", ev.Header().ProviderType).
		Str("outcome", string(outcome)).
		Logger()
	switch outcome {
	case model.OutcomeApplied:
		l.Info().Msg("event applied")
	case model.OutcomeDuplicate:
		l.Info().Msg("event already applied, skipping")
	case model.OutcomeIgnored:
		l.Info().Msg("event kind not handled, acknowledged without effect")
	case model.OutcomeOrphan:
		l.Warn().Msg("event matches no entitlement record, needs manual reconciliation")
	case model.OutcomeMalformed:
		l.Error().Err(err).Msg("malformed event rejected")
	default:
		l.Error().Err(err).Msg("event application failed, provider should redeliver")
	}
	return outcome, err
}

func (u *reconcileUC) apply(ctx context.Context, ev model.Event) (model.Outcome, string, error) {
	if ev.EventID() == "" {
		return model.OutcomeMalformed, "", fmt.Errorf("event without id: %w", domain.ErrMalformedEvent)
	}

	var (
		userID string
		err    error
	)
	switch e := ev.(type) {
	case model.CheckoutCompleted:
		userID = e.Metadata.UserID
		err = u.applyCheckout(ctx, e)
	case model.RenewalInvoicePaid:
		err = u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			var txErr error
			userID, txErr = u.applyRenewal(ctx, tx, e)
			return txErr
		})
	case model.SubscriptionCancelled:
		err = u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			var txErr error
			userID, txErr = u.applyCancel(ctx, tx, e)
			return txErr
		})
	case model.UnrecognizedEvent:
		return model.OutcomeIgnored, "", nil
	default:
		return model.OutcomeMalformed, "", fmt.Errorf("unsupported event type %T: %w", ev, domain.ErrMalformedEvent)
	}
	return classify(err), userID, surface(err)
}

func classify(err error) model.Outcome {
	switch {
	case err == nil:
		return model.OutcomeApplied
	case errors.Is(err, errDuplicate), errors.Is(err, domain.ErrAlreadyApplied):
		return model.OutcomeDuplicate
	case errors.Is(err, domain.ErrOrphanEvent):
		return model.OutcomeOrphan
	case errors.Is(err, domain.ErrMalformedEvent), errors.Is(err, domain.ErrInvalidPlan):
		return model.OutcomeMalformed
	default:
		return model.OutcomeFailed
	}
}

// surface maps the transaction result to the error returned to the caller.
func surface(err error) error {
	switch classify(err) {
	case model.OutcomeApplied, model.OutcomeDuplicate, model.OutcomeOrphan:
		return nil
	case model.OutcomeMalformed:
		if errors.Is(err, domain.ErrMalformedEvent) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrMalformedEvent, err)
	default:
		if errors.Is(err, domain.ErrPersistence) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
}

func (u *reconcileUC) applyCheckout(ctx context.Context, e model.CheckoutCompleted) error {
	md := e.Metadata
	if md.UserID == "" || md.Track == "" || md.Plan == "" || md.BillingCycle == "" {
		return fmt.Errorf("checkout %s: incomplete metadata: %w", e.SessionID, domain.ErrMalformedEvent)
	}
	cfg, err := catalog.Lookup(md.Track, md.Plan, md.BillingCycle)
	if err != nil {
		return fmt.Errorf("checkout %s: %w: %w", e.SessionID, domain.ErrMalformedEvent, err)
	}
	policy, err := catalog.Policy(md.Track)
	if err != nil {
		return fmt.Errorf("checkout %s: %w: %w", e.SessionID, domain.ErrMalformedEvent, err)
	}

	return u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.checkLedger(ctx, tx, e.EventID()); err != nil {
			return err
		}
		now := u.now()
		ent, err := u.lockOrCreate(ctx, tx, md.UserID, md.Track, now)
		if err != nil {
			return err
		}
		ent.Activate(cfg, policy, e.CustomerRef, e.SubscriptionRef, now)
		return u.commit(ctx, tx, ent, e, now)
	})
}

// applyRenewal returns the resolved user id, if any.
func (u *reconcileUC) applyRenewal(ctx context.Context, tx repository.Tx, e model.RenewalInvoicePaid) (string, error) {
	if err := u.checkLedger(ctx, tx, e.EventID()); err != nil {
		return "", err
	}
	ent, err := u.resolve(ctx, tx, e.SubscriptionRef, e.CustomerRef, e.Track)
	if err != nil {
		return "", err
	}
	if !ent.IsActive() || ent.Plan == "" || ent.BillingCycle == "" {
		return ent.UserID, fmt.Errorf("record %s/%s has no active plan: %w", ent.UserID, ent.Track, domain.ErrOrphanEvent)
	}
	cfg, err := catalog.Lookup(ent.Track, ent.Plan, ent.BillingCycle)
	if err != nil {
		return ent.UserID, fmt.Errorf("stored plan of %s/%s: %w", ent.UserID, ent.Track, err)
	}
	policy, err := catalog.Policy(ent.Track)
	if err != nil {
		return ent.UserID, err
	}

	now := u.now()
	if ent.Renew(cfg, policy, now) {
		metrics.IncTokenReset("renewal")
	}
	if e.SubscriptionRef != "" && ent.ProviderSubscriptionRef == "" {
		ent.ProviderSubscriptionRef = e.SubscriptionRef
	}
	return ent.UserID, u.commit(ctx, tx, ent, e, now)
}

func (u *reconcileUC) applyCancel(ctx context.Context, tx repository.Tx, e model.SubscriptionCancelled) (string, error) {
	if err := u.checkLedger(ctx, tx, e.EventID()); err != nil {
		return "", err
	}
	ent, err := u.resolve(ctx, tx, e.SubscriptionRef, e.CustomerRef, "")
	if err != nil {
		return "", err
	}
	// a stale cancellation, or one for a subscription the record never held
	if e.SubscriptionRef != "" && ent.ProviderSubscriptionRef != e.SubscriptionRef {
		return ent.UserID, fmt.Errorf("subscription %s, record holds %q: %w", e.SubscriptionRef, ent.ProviderSubscriptionRef, domain.ErrOrphanEvent)
	}
	now := u.now()
	ent.Cancel(now)
	return ent.UserID, u.commit(ctx, tx, ent, e, now)
}

func (u *reconcileUC) checkLedger(ctx context.Context, tx repository.Tx, eventID string) error {
	seen, err := u.ledger.HasApplied(ctx, tx, eventID)
	if err != nil {
		return persistence("ledger lookup", err)
	}
	if seen {
		return errDuplicate
	}
	return nil
}

func (u *reconcileUC) lockOrCreate(ctx context.Context, tx repository.Tx, userID string, track model.Track, now time.Time) (*model.Entitlement, error) {
	ent, err := u.ents.GetForUpdate(ctx, tx, userID, track)
	if errors.Is(err, domain.ErrNotFound) {
		return model.NewEntitlement(userID, track, now)
	}
	if err != nil {
		return nil, persistence("lock entitlement", err)
	}
	return ent, nil
}

// resolve finds the record an event refers to and locks it. The subscription reference
// wins; the customer reference is only used when it designates exactly one record
// (narrowed by track when the event carries one).
func (u *reconcileUC) resolve(ctx context.Context, tx repository.Tx, subscriptionRef, customerRef string, track model.Track) (*model.Entitlement, error) {
	var found *model.Entitlement
	if subscriptionRef != "" {
		ent, err := u.ents.FindBySubscriptionRef(ctx, tx, subscriptionRef)
		switch {
		case err == nil:
			found = ent
		case !errors.Is(err, domain.ErrNotFound):
			return nil, persistence("find by subscription", err)
		}
	}
	if found == nil && customerRef != "" {
		rows, err := u.ents.FindByCustomerRef(ctx, tx, customerRef)
		if err != nil {
			return nil, persistence("find by customer", err)
		}
		var candidates []*model.Entitlement
		for _, r := range rows {
			if track == "" || r.Track == track {
				candidates = append(candidates, r)
			}
		}
		switch len(candidates) {
		case 0:
		case 1:
			found = candidates[0]
		default:
			return nil, fmt.Errorf("customer %s holds %d records and the event names no track: %w", customerRef, len(candidates), domain.ErrOrphanEvent)
		}
	}
	if found == nil {
		return nil, fmt.Errorf("subscription=%q customer=%q: %w", subscriptionRef, customerRef, domain.ErrOrphanEvent)
	}

	ent, err := u.ents.GetForUpdate(ctx, tx, found.UserID, found.Track)
	if err != nil {
		return nil, persistence("lock entitlement", err)
	}
	return ent, nil
}

// commit saves the mutated record and records the event as the last step of the transaction.
func (u *reconcileUC) commit(ctx context.Context, tx repository.Tx, ent *model.Entitlement, ev model.Event, now time.Time) error {
	if err := ent.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if err := u.ents.Save(ctx, tx, ent); err != nil {
		return persistence("save entitlement", err)
	}
	err := u.ledger.MarkApplied(ctx, tx, &model.AppliedEvent{
		EventID:   ev.EventID(),
		Kind:      ev.Kind(),
		UserID:    ent.UserID,
		AppliedAt: now,
	})
	if errors.Is(err, domain.ErrAlreadyApplied) {
		// a concurrent delivery won the unique constraint; roll back our mutation
		return errDuplicate
	}
	if err != nil {
		return persistence("mark applied", err)
	}
	return nil
}

func persistence(op string, err error) error {
	if errors.Is(err, domain.ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}
