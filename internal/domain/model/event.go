package model

import (
	"fmt"
	"strings"
	"time"
)

// EventKind classifies inbound provider events.
type EventKind string

const (
	EventCheckoutCompleted     EventKind = "checkout_completed"
	EventRenewalInvoicePaid    EventKind = "renewal_invoice_paid"
	EventSubscriptionCancelled EventKind = "subscription_cancelled"
	EventUnrecognized          EventKind = "unrecognized"
	// EventTokenReset marks a lazily applied token reset in the ledger. It never arrives from a provider.
	EventTokenReset EventKind = "token_reset"
)

// Event is a verified, decoded provider event. The set of implementations is closed:
// CheckoutCompleted, RenewalInvoicePaid, SubscriptionCancelled and UnrecognizedEvent.
type Event interface {
	EventID() string
	Kind() EventKind
	Header() EventHeader
	sealed()
}

// EventHeader carries the fields shared by every event.
type EventHeader struct {
	ID           string
	ProviderType string // raw provider type, e.g. "checkout.session.completed"
	OccurredAt   time.Time
}

func (h EventHeader) EventID() string     { return h.ID }
func (h EventHeader) Header() EventHeader { return h }

// CheckoutCompleted is emitted when the user finished a checkout session.
type CheckoutCompleted struct {
	EventHeader
	SessionID       string
	CustomerRef     string
	SubscriptionRef string
	Metadata        CheckoutMetadata
}

func (CheckoutCompleted) Kind() EventKind { return EventCheckoutCompleted }
func (CheckoutCompleted) sealed()         {}

// RenewalInvoicePaid is emitted for every paid recurring invoice after the first one.
type RenewalInvoicePaid struct {
	EventHeader
	InvoiceID       string
	CustomerRef     string
	SubscriptionRef string
	// Track is set when the provider echoed the subscription metadata back.
	Track Track
}

func (RenewalInvoicePaid) Kind() EventKind { return EventRenewalInvoicePaid }
func (RenewalInvoicePaid) sealed()         {}

// SubscriptionCancelled is emitted when the provider ended a subscription.
type SubscriptionCancelled struct {
	EventHeader
	CustomerRef     string
	SubscriptionRef string
}

func (SubscriptionCancelled) Kind() EventKind { return EventSubscriptionCancelled }
func (SubscriptionCancelled) sealed()         {}

// UnrecognizedEvent is any provider event the engine does not act on.
type UnrecognizedEvent struct {
	EventHeader
	Reason string
}

func (UnrecognizedEvent) Kind() EventKind { return EventUnrecognized }
func (UnrecognizedEvent) sealed()         {}

// AppliedEvent is a ledger row: the event (or reset window) was durably applied.
type AppliedEvent struct {
	EventID   string
	Kind      EventKind
	UserID    string
	AppliedAt time.Time
}

// TokenResetKey is the ledger key of a lazily triggered reset. It is derived from the
// window the reset opens, so two readers computing the same window share one key.
func TokenResetKey(userID string, track Track, nextReset time.Time) string {
	return fmt.Sprintf("token-reset:%s:%s:%s", strings.TrimSpace(userID), track, nextReset.UTC().Format("2006-01-02"))
}

// Outcome is the result of applying one event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeOrphan    Outcome = "orphan"
	OutcomeMalformed Outcome = "malformed"
	OutcomeFailed    Outcome = "failed"
)
