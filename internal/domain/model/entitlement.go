package model

import (
	"fmt"
	"time"

	"creator-billing/internal/domain"
)

type EntitlementStatus string

const (
	EntitlementStatusNone      EntitlementStatus = "none"
	EntitlementStatusActive    EntitlementStatus = "active"
	EntitlementStatusCancelled EntitlementStatus = "cancelled"
)

// Entitlement is the persisted per-user, per-track entitlement record.
// Credits and TrainingSlots are nil when unlimited.
type Entitlement struct {
	UserID                  string
	Track                   Track
	Plan                    PlanID       // "" when no plan is active
	BillingCycle            BillingCycle // "" when no plan is active
	Status                  EntitlementStatus
	Credits                 *int64
	TrainingSlots           *int64
	Tokens                  int64
	TokensResetAt           *time.Time
	ProviderCustomerRef     string
	ProviderSubscriptionRef string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// NewEntitlement returns an empty record with finite zero balances.
func NewEntitlement(userID string, track Track, now time.Time) (*Entitlement, error) {
	if userID == "" || track == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Entitlement{
		UserID:        userID,
		Track:         track,
		Status:        EntitlementStatusNone,
		Credits:       Limited(0),
		TrainingSlots: Limited(0),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Clone returns a deep copy.
func (e *Entitlement) Clone() *Entitlement {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Credits != nil {
		cp.Credits = Limited(*e.Credits)
	}
	if e.TrainingSlots != nil {
		cp.TrainingSlots = Limited(*e.TrainingSlots)
	}
	if e.TokensResetAt != nil {
		t := *e.TokensResetAt
		cp.TokensResetAt = &t
	}
	return &cp
}

func (e *Entitlement) IsActive() bool { return e.Status == EntitlementStatusActive }

// Validate checks the record invariants.
func (e *Entitlement) Validate() error {
	if e.Status == EntitlementStatusActive && (e.Plan == "" || e.BillingCycle == "") {
		return fmt.Errorf("active entitlement without plan: %w", domain.ErrInvalidArgument)
	}
	if e.Credits != nil && *e.Credits < 0 {
		return fmt.Errorf("negative credits: %w", domain.ErrInvalidArgument)
	}
	if e.TrainingSlots != nil && *e.TrainingSlots < 0 {
		return fmt.Errorf("negative training slots: %w", domain.ErrInvalidArgument)
	}
	if e.Tokens < 0 {
		return fmt.Errorf("negative tokens: %w", domain.ErrInvalidArgument)
	}
	return nil
}

// Activate applies a completed checkout: the plan becomes current and its grants are
// added on top of whatever balance remains.
func (e *Entitlement) Activate(cfg PlanConfig, policy TrackPolicy, customerRef, subscriptionRef string, now time.Time) {
	e.Status = EntitlementStatusActive
	e.Plan = cfg.Plan
	e.BillingCycle = cfg.Cycle
	if customerRef != "" {
		e.ProviderCustomerRef = customerRef
	}
	if subscriptionRef != "" {
		e.ProviderSubscriptionRef = subscriptionRef
	}
	if policy.AdditiveCredits {
		e.Credits = addGrant(e.Credits, cfg.CreditGrant, true)
	}
	if policy.AdditiveTrainingSlots {
		e.TrainingSlots = addGrant(e.TrainingSlots, cfg.TrainingSlotGrant, true)
	}
	if policy.TokenWindow {
		e.Tokens += cfg.TokenGrant
		next := NextTokenReset(now)
		e.TokensResetAt = &next
	}
	e.UpdatedAt = now
}

// Renew applies a paid renewal invoice for the stored plan. Credits and slots accumulate;
// tokens are replenished through ResetTokens. It reports whether tokens were reset.
func (e *Entitlement) Renew(cfg PlanConfig, policy TrackPolicy, now time.Time) bool {
	if policy.AdditiveCredits {
		e.Credits = addGrant(e.Credits, cfg.CreditGrant, false)
	}
	if policy.AdditiveTrainingSlots {
		e.TrainingSlots = addGrant(e.TrainingSlots, cfg.TrainingSlotGrant, false)
	}
	reset := false
	if policy.TokenWindow {
		reset = e.ResetTokens(cfg.TokenGrant, now)
	}
	e.UpdatedAt = now
	return reset
}

// Cancel ends the plan. Balances are left untouched.
func (e *Entitlement) Cancel(now time.Time) {
	e.Status = EntitlementStatusCancelled
	e.Plan = ""
	e.BillingCycle = ""
	e.UpdatedAt = now
}

// TokenResetDue reports whether the token window has elapsed for an active record.
func (e *Entitlement) TokenResetDue(now time.Time) bool {
	if !e.IsActive() {
		return false
	}
	return e.TokensResetAt == nil || !now.Before(*e.TokensResetAt)
}

// ResetTokens sets tokens to grant and advances the window, but only while the window
// has not already been advanced past now. Both the renewal path and the lazy read path
// go through here, so whichever runs second is a no-op.
func (e *Entitlement) ResetTokens(grant int64, now time.Time) bool {
	if e.TokensResetAt != nil && now.Before(*e.TokensResetAt) {
		return false
	}
	e.Tokens = grant
	next := NextTokenReset(now)
	e.TokensResetAt = &next
	e.UpdatedAt = now
	return true
}

// Resource is a consumable balance.
type Resource string

const (
	ResourceCredits       Resource = "credits"
	ResourceTrainingSlots Resource = "training_slots"
	ResourceTokens        Resource = "tokens"
)

func ParseResource(s string) (Resource, error) {
	switch r := Resource(s); r {
	case ResourceCredits, ResourceTrainingSlots, ResourceTokens:
		return r, nil
	}
	return "", fmt.Errorf("resource %q: %w", s, domain.ErrInvalidArgument)
}

// Consume deducts amount from the given balance. Unlimited balances are not touched.
func (e *Entitlement) Consume(r Resource, amount int64, now time.Time) error {
	if amount <= 0 {
		return domain.ErrInvalidArgument
	}
	switch r {
	case ResourceCredits:
		if err := deduct(e.Credits, amount); err != nil {
			return err
		}
	case ResourceTrainingSlots:
		if err := deduct(e.TrainingSlots, amount); err != nil {
			return err
		}
	case ResourceTokens:
		if e.Tokens < amount {
			return domain.ErrInsufficientCredits
		}
		e.Tokens -= amount
	default:
		return domain.ErrInvalidArgument
	}
	e.UpdatedAt = now
	return nil
}

func deduct(q *int64, amount int64) error {
	if q == nil {
		return nil
	}
	if *q < amount {
		return domain.ErrInsufficientCredits
	}
	*q -= amount
	return nil
}

// NextTokenReset returns the first instant of the month following now, in UTC.
func NextTokenReset(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// EntitlementView is the read model handed to the rest of the application.
type EntitlementView struct {
	UserID        string
	Track         Track
	Plan          PlanID
	BillingCycle  BillingCycle
	Status        EntitlementStatus
	Credits       *int64
	TrainingSlots *int64
	Tokens        int64
	TokensResetAt *time.Time
}

func (e *Entitlement) View() *EntitlementView {
	c := e.Clone()
	return &EntitlementView{
		UserID:        c.UserID,
		Track:         c.Track,
		Plan:          c.Plan,
		BillingCycle:  c.BillingCycle,
		Status:        c.Status,
		Credits:       c.Credits,
		TrainingSlots: c.TrainingSlots,
		Tokens:        c.Tokens,
		TokensResetAt: c.TokensResetAt,
	}
}

// EntitlementRecord aggregates both tracks of one user.
type EntitlementRecord struct {
	UserID    string
	Content   *EntitlementView
	Companion *EntitlementView
}
