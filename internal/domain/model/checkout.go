package model

import (
	"fmt"
	"strings"

	"creator-billing/internal/domain"
)

// Metadata keys attached to the provider checkout session and subscription.
const (
	MetaUserID       = "user_id"
	MetaTrack        = "track"
	MetaPlan         = "plan"
	MetaBillingCycle = "billing_cycle"
)

// CheckoutMetadata binds a provider checkout back to a user and plan. It is the only
// channel between a checkout and the webhook that completes it.
type CheckoutMetadata struct {
	UserID       string
	Track        Track
	Plan         PlanID
	BillingCycle BillingCycle
}

func (m CheckoutMetadata) ToMap() map[string]string {
	return map[string]string{
		MetaUserID:       m.UserID,
		MetaTrack:        string(m.Track),
		MetaPlan:         string(m.Plan),
		MetaBillingCycle: string(m.BillingCycle),
	}
}

// CheckoutMetadataFromMap decodes metadata echoed by the provider. Any missing or
// unparsable field is reported as domain.ErrMalformedEvent.
func CheckoutMetadataFromMap(md map[string]string) (CheckoutMetadata, error) {
	var m CheckoutMetadata
	m.UserID = strings.TrimSpace(md[MetaUserID])
	if m.UserID == "" {
		return m, fmt.Errorf("metadata %s missing: %w", MetaUserID, domain.ErrMalformedEvent)
	}
	track, err := ParseTrack(md[MetaTrack])
	if err != nil {
		return m, fmt.Errorf("metadata %s: %v: %w", MetaTrack, err, domain.ErrMalformedEvent)
	}
	m.Track = track
	plan, err := ParsePlanID(md[MetaPlan])
	if err != nil {
		return m, fmt.Errorf("metadata %s: %v: %w", MetaPlan, err, domain.ErrMalformedEvent)
	}
	m.Plan = plan
	cycle, err := ParseBillingCycle(md[MetaBillingCycle])
	if err != nil {
		return m, fmt.Errorf("metadata %s: %v: %w", MetaBillingCycle, err, domain.ErrMalformedEvent)
	}
	m.BillingCycle = cycle
	return m, nil
}

// CheckoutIntent is the provider-agnostic description of a checkout.
type CheckoutIntent struct {
	UserID           string
	Track            Track
	Plan             PlanID
	BillingCycle     BillingCycle
	AmountMinorUnits int64
	Currency         string
	ProductName      string
	Description      string
	IntervalUnit     IntervalUnit
	IntervalCount    int64
	PromoCode        string
	Metadata         CheckoutMetadata
}

// NewCheckoutIntent builds an intent for userID from a catalog row.
func NewCheckoutIntent(userID string, cfg PlanConfig, promoCode string) (*CheckoutIntent, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &CheckoutIntent{
		UserID:           userID,
		Track:            cfg.Track,
		Plan:             cfg.Plan,
		BillingCycle:     cfg.Cycle,
		AmountMinorUnits: cfg.PriceMinorUnits,
		Currency:         cfg.Currency,
		ProductName:      cfg.DisplayName,
		Description:      cfg.Description(),
		IntervalUnit:     cfg.IntervalUnit,
		IntervalCount:    cfg.IntervalCount,
		PromoCode:        strings.TrimSpace(promoCode),
		Metadata: CheckoutMetadata{
			UserID:       userID,
			Track:        cfg.Track,
			Plan:         cfg.Plan,
			BillingCycle: cfg.Cycle,
		},
	}, nil
}

// CheckoutSession is what the caller gets back: where to send the user.
type CheckoutSession struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
	Mock        bool   `json:"mock"`
}
