package model

import (
	"fmt"
	"strings"

	"creator-billing/internal/domain"
)

// Track is one of the independent monetization lines a user may hold at the same time.
type Track string

const (
	TrackContent   Track = "content"
	TrackCompanion Track = "companion"
)

// Tracks lists every known track in display order.
var Tracks = []Track{TrackContent, TrackCompanion}

func ParseTrack(s string) (Track, error) {
	switch t := Track(strings.ToLower(strings.TrimSpace(s))); t {
	case TrackContent, TrackCompanion:
		return t, nil
	}
	return "", fmt.Errorf("track %q: %w", s, domain.ErrInvalidArgument)
}

// BillingCycle is the recurrence of a subscription.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleYearly    BillingCycle = "yearly"
)

var BillingCycles = []BillingCycle{CycleMonthly, CycleQuarterly, CycleYearly}

func ParseBillingCycle(s string) (BillingCycle, error) {
	switch c := BillingCycle(strings.ToLower(strings.TrimSpace(s))); c {
	case CycleMonthly, CycleQuarterly, CycleYearly:
		return c, nil
	}
	return "", fmt.Errorf("billing cycle %q: %w", s, domain.ErrInvalidArgument)
}

// Months returns the number of calendar months covered by one cycle.
func (c BillingCycle) Months() int {
	switch c {
	case CycleQuarterly:
		return 3
	case CycleYearly:
		return 12
	default:
		return 1
	}
}

// PlanID identifies a catalog plan within a track.
type PlanID string

const (
	PlanStarter PlanID = "starter"
	PlanBuilder PlanID = "builder"
	PlanLaunch  PlanID = "launch"
	PlanAgency  PlanID = "agency"

	PlanBasic   PlanID = "basic"
	PlanPlus    PlanID = "plus"
	PlanPremium PlanID = "premium"
)

func ParsePlanID(s string) (PlanID, error) {
	switch p := PlanID(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanStarter, PlanBuilder, PlanLaunch, PlanAgency, PlanBasic, PlanPlus, PlanPremium:
		return p, nil
	}
	return "", fmt.Errorf("plan %q: %w", s, domain.ErrInvalidArgument)
}

// IntervalUnit is the provider-facing recurrence unit.
type IntervalUnit string

const (
	IntervalMonth IntervalUnit = "month"
	IntervalYear  IntervalUnit = "year"
)

// PlanConfig is one catalog row. A nil grant means "unlimited".
type PlanConfig struct {
	Track             Track
	Plan              PlanID
	Cycle             BillingCycle
	DisplayName       string
	PriceMinorUnits   int64
	Currency          string
	CreditGrant       *int64
	TrainingSlotGrant *int64
	TokenGrant        int64
	IntervalUnit      IntervalUnit
	IntervalCount     int64
}

// Description is the human readable line item shown by the provider.
func (c PlanConfig) Description() string {
	var parts []string
	if c.Track == TrackContent {
		parts = append(parts, quantityLabel(c.CreditGrant, "credits"), quantityLabel(c.TrainingSlotGrant, "training slots"))
	}
	if c.TokenGrant > 0 {
		parts = append(parts, fmt.Sprintf("%d chat tokens per month", c.TokenGrant))
	}
	return fmt.Sprintf("%s (%s): %s", c.DisplayName, c.Cycle, strings.Join(parts, ", "))
}

func quantityLabel(q *int64, unit string) string {
	if q == nil {
		return "unlimited " + unit
	}
	return fmt.Sprintf("%d %s", *q, unit)
}

// TrackPolicy describes how a track's numeric fields react to grants.
type TrackPolicy struct {
	// AdditiveCredits and AdditiveTrainingSlots accumulate across checkouts and renewals.
	AdditiveCredits       bool
	AdditiveTrainingSlots bool
	// TokenWindow replenishes tokens to the grant once per calendar month.
	TokenWindow bool
}

// Limited returns a finite quantity.
func Limited(n int64) *int64 { return &n }

// addGrant adds grant to cur. A nil grant (unlimited) always yields unlimited.
// A nil cur stays unlimited unless adopt is set, which happens when a checkout
// switches the record to a finite plan.
func addGrant(cur, grant *int64, adopt bool) *int64 {
	if grant == nil {
		return nil
	}
	if cur == nil {
		if adopt {
			return Limited(*grant)
		}
		return nil
	}
	return Limited(*cur + *grant)
}
