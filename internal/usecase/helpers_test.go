//go:build !integration

package usecase_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"creator-billing/internal/domain/model"
	"creator-billing/internal/domain/ports/repository"
	"creator-billing/internal/infra/db/memory"
	"creator-billing/internal/infra/logging"
	"creator-billing/internal/usecase"
)

// testClock is a settable time source shared by a test and the use cases under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// countingLedger counts MarkApplied calls and can inject failures.
type countingLedger struct {
	repository.EventLedger
	marks         atomic.Int32
	MarkAppliedFn func(ctx context.Context, tx repository.Tx, ev *model.AppliedEvent) error
	HasAppliedFn  func(ctx context.Context, tx repository.Tx, id string) (bool, error)
}

func (l *countingLedger) MarkApplied(ctx context.Context, tx repository.Tx, ev *model.AppliedEvent) error {
	l.marks.Add(1)
	if l.MarkAppliedFn != nil {
		return l.MarkAppliedFn(ctx, tx, ev)
	}
	return l.EventLedger.MarkApplied(ctx, tx, ev)
}

func (l *countingLedger) HasApplied(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	if l.HasAppliedFn != nil {
		return l.HasAppliedFn(ctx, tx, id)
	}
	return l.EventLedger.HasApplied(ctx, tx, id)
}

type testEnv struct {
	store   *memory.Store
	ledger  *countingLedger
	clock   *testClock
	engine  usecase.ReconcileUseCase
	reader  usecase.EntitlementUseCase
	ledgers usecase.LedgerUseCase
}

func newTestEnv(now time.Time) *testEnv {
	store := memory.NewStore()
	ledger := &countingLedger{EventLedger: store}
	clock := newTestClock(now)
	log := logging.Nop()
	return &testEnv{
		store:   store,
		ledger:  ledger,
		clock:   clock,
		engine:  usecase.NewReconcileUseCase(store, ledger, store, clock.Now, log),
		reader:  usecase.NewEntitlementUseCase(store, ledger, store, clock.Now, log),
		ledgers: usecase.NewLedgerUseCase(ledger, store, clock.Now, log),
	}
}

func checkoutEvent(id, userID string, track model.Track, plan model.PlanID, cycle model.BillingCycle, customerRef, subscriptionRef string) model.CheckoutCompleted {
	return model.CheckoutCompleted{
		EventHeader:     model.EventHeader{ID: id, ProviderType: "checkout.session.completed"},
		SessionID:       "cs_" + id,
		CustomerRef:     customerRef,
		SubscriptionRef: subscriptionRef,
		Metadata: model.CheckoutMetadata{
			UserID:       userID,
			Track:        track,
			Plan:         plan,
			BillingCycle: cycle,
		},
	}
}

func renewalEvent(id, customerRef, subscriptionRef string, track model.Track) model.RenewalInvoicePaid {
	return model.RenewalInvoicePaid{
		EventHeader:     model.EventHeader{ID: id, ProviderType: "invoice.payment_succeeded"},
		InvoiceID:       "in_" + id,
		CustomerRef:     customerRef,
		SubscriptionRef: subscriptionRef,
		Track:           track,
	}
}

func cancelEvent(id, customerRef, subscriptionRef string) model.SubscriptionCancelled {
	return model.SubscriptionCancelled{
		EventHeader:     model.EventHeader{ID: id, ProviderType: "customer.subscription.deleted"},
		CustomerRef:     customerRef,
		SubscriptionRef: subscriptionRef,
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func midnight(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
