package stripe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/catalog"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/domain/ports/adapter"
)

var _ adapter.EventVerifier = (*Verifier)(nil)

// Provider event types the engine acts on.
const (
	TypeCheckoutCompleted       = "checkout.session.completed"
	TypeCheckoutAsyncSucceeded  = "checkout.session.async_payment_succeeded"
	TypeInvoicePaymentSucceeded = "invoice.payment_succeeded"
	TypeSubscriptionDeleted     = "customer.subscription.deleted"
)

// Verifier checks the Stripe-Signature header and decodes the payload into a model.Event.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	return &Verifier{secret: secret, tolerance: webhook.DefaultTolerance}, nil
}

func (v *Verifier) Verify(payload []byte, signatureHeader string) (model.Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, fmt.Errorf("missing signature: %w", domain.ErrVerificationFailed)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVerificationFailed, err)
	}
	return Decode(&event)
}

// Decode maps a verified Stripe event to the closed set of model events.
func Decode(event *stripelib.Event) (model.Event, error) {
	if event.ID == "" {
		return nil, fmt.Errorf("event without id: %w", domain.ErrMalformedEvent)
	}
	h := model.EventHeader{
		ID:           event.ID,
		ProviderType: string(event.Type),
		OccurredAt:   time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return nil, fmt.Errorf("event %s has no data: %w", event.ID, domain.ErrMalformedEvent)
	}
	raw := event.Data.Raw

	switch string(event.Type) {
	case TypeCheckoutCompleted, TypeCheckoutAsyncSucceeded:
		return decodeCheckout(h, raw)
	case TypeInvoicePaymentSucceeded:
		return decodeInvoice(h, raw)
	case TypeSubscriptionDeleted:
		return decodeSubscriptionDeleted(h, raw)
	default:
		return model.UnrecognizedEvent{EventHeader: h, Reason: "unhandled type"}, nil
	}
}

// checkoutSession is a minimal representation of a Stripe checkout.session object.
type checkoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	Customer          expandable        `json:"customer"`
	Subscription      expandable        `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

func decodeCheckout(h model.EventHeader, raw json.RawMessage) (model.Event, error) {
	var s checkoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode checkout.session: %v: %w", err, domain.ErrMalformedEvent)
	}
	if s.Mode != "" && s.Mode != string(stripelib.CheckoutSessionModeSubscription) {
		return model.UnrecognizedEvent{EventHeader: h, Reason: "checkout mode " + s.Mode}, nil
	}
	// async payment methods complete the session unpaid; the async_payment_succeeded event follows
	if s.PaymentStatus == string(stripelib.CheckoutSessionPaymentStatusUnpaid) {
		return model.UnrecognizedEvent{EventHeader: h, Reason: "checkout unpaid"}, nil
	}
	md := s.Metadata
	if md == nil {
		md = map[string]string{}
	}
	if strings.TrimSpace(md[model.MetaUserID]) == "" && s.ClientReferenceID != "" {
		md[model.MetaUserID] = s.ClientReferenceID
	}
	meta, err := model.CheckoutMetadataFromMap(md)
	if err != nil {
		return nil, fmt.Errorf("checkout.session %s: %w", s.ID, err)
	}
	// a plan from the other track parses but has no catalog row
	if _, err := catalog.Lookup(meta.Track, meta.Plan, meta.BillingCycle); err != nil {
		return nil, fmt.Errorf("checkout.session %s: %v: %w", s.ID, err, domain.ErrMalformedEvent)
	}
	return model.CheckoutCompleted{
		EventHeader:     h,
		SessionID:       s.ID,
		CustomerRef:     s.Customer.ID,
		SubscriptionRef: s.Subscription.ID,
		Metadata:        meta,
	}, nil
}

type subscriptionDetails struct {
	Subscription expandable        `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// invoice is a minimal representation of a Stripe invoice. Older API versions put the
// subscription on the invoice itself, newer ones under parent.subscription_details.
type invoice struct {
	ID                  string               `json:"id"`
	BillingReason       string               `json:"billing_reason"`
	Customer            expandable           `json:"customer"`
	Subscription        expandable           `json:"subscription"`
	SubscriptionDetails *subscriptionDetails `json:"subscription_details"`
	Parent              *struct {
		SubscriptionDetails *subscriptionDetails `json:"subscription_details"`
	} `json:"parent"`
}

func decodeInvoice(h model.EventHeader, raw json.RawMessage) (model.Event, error) {
	var inv invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice: %v: %w", err, domain.ErrMalformedEvent)
	}
	switch inv.BillingReason {
	case "subscription_cycle":
	case "subscription_create":
		// the first invoice is granted through checkout.session.completed
		return model.UnrecognizedEvent{EventHeader: h, Reason: "initial invoice"}, nil
	default:
		return model.UnrecognizedEvent{EventHeader: h, Reason: "billing reason " + inv.BillingReason}, nil
	}

	subRef := inv.Subscription.ID
	var md map[string]string
	for _, d := range []*subscriptionDetails{inv.SubscriptionDetails, parentDetails(inv)} {
		if d == nil {
			continue
		}
		if subRef == "" {
			subRef = d.Subscription.ID
		}
		if md == nil {
			md = d.Metadata
		}
	}
	if inv.Customer.ID == "" && subRef == "" {
		return nil, fmt.Errorf("invoice %s names neither customer nor subscription: %w", inv.ID, domain.ErrMalformedEvent)
	}

	ev := model.RenewalInvoicePaid{
		EventHeader:     h,
		InvoiceID:       inv.ID,
		CustomerRef:     inv.Customer.ID,
		SubscriptionRef: subRef,
	}
	if t, err := model.ParseTrack(md[model.MetaTrack]); err == nil {
		ev.Track = t
	}
	return ev, nil
}

func parentDetails(inv invoice) *subscriptionDetails {
	if inv.Parent == nil {
		return nil
	}
	return inv.Parent.SubscriptionDetails
}

type subscription struct {
	ID       string     `json:"id"`
	Customer expandable `json:"customer"`
}

func decodeSubscriptionDeleted(h model.EventHeader, raw json.RawMessage) (model.Event, error) {
	var sub subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %v: %w", err, domain.ErrMalformedEvent)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("subscription without id: %w", domain.ErrMalformedEvent)
	}
	return model.SubscriptionCancelled{
		EventHeader:     h,
		CustomerRef:     sub.Customer.ID,
		SubscriptionRef: sub.ID,
	}, nil
}

// expandable decodes a Stripe reference that is either an id string or an expanded object.
type expandable struct {
	ID string
}

func (e *expandable) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &e.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	return nil
}
