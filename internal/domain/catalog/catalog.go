// Package catalog holds the static plan table for both monetization tracks.
package catalog

import (
	"fmt"
	"sort"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/model"
)

const currency = "usd"

type key struct {
	track model.Track
	plan  model.PlanID
	cycle model.BillingCycle
}

// basePlan is the monthly definition a catalog row is derived from.
type basePlan struct {
	track        model.Track
	plan         model.PlanID
	name         string
	monthlyPrice int64
	credits      *int64 // per month, nil = unlimited
	slots        *int64 // per renewal, nil = unlimited
	tokens       int64  // per reset window
}

var basePlans = []basePlan{
	{track: model.TrackContent, plan: model.PlanStarter, name: "Starter", monthlyPrice: 1900, credits: model.Limited(100), slots: model.Limited(0)},
	{track: model.TrackContent, plan: model.PlanBuilder, name: "Builder", monthlyPrice: 4900, credits: model.Limited(500), slots: model.Limited(1)},
	{track: model.TrackContent, plan: model.PlanLaunch, name: "Launch", monthlyPrice: 14900, credits: model.Limited(2000), slots: model.Limited(2)},
	{track: model.TrackContent, plan: model.PlanAgency, name: "Agency", monthlyPrice: 49900},

	{track: model.TrackCompanion, plan: model.PlanBasic, name: "Companion Basic", monthlyPrice: 999, credits: model.Limited(0), slots: model.Limited(0), tokens: 100},
	{track: model.TrackCompanion, plan: model.PlanPlus, name: "Companion Plus", monthlyPrice: 1999, credits: model.Limited(0), slots: model.Limited(0), tokens: 500},
	{track: model.TrackCompanion, plan: model.PlanPremium, name: "Companion Premium", monthlyPrice: 3999, credits: model.Limited(0), slots: model.Limited(0), tokens: 2000},
}

// discount in percent per cycle
var cycleDiscount = map[model.BillingCycle]int64{
	model.CycleMonthly:   0,
	model.CycleQuarterly: 10,
	model.CycleYearly:    20,
}

var policies = map[model.Track]model.TrackPolicy{
	model.TrackContent:   {AdditiveCredits: true, AdditiveTrainingSlots: true},
	model.TrackCompanion: {TokenWindow: true},
}

var table = build()

func build() map[key]model.PlanConfig {
	out := make(map[key]model.PlanConfig, len(basePlans)*len(model.BillingCycles))
	for _, b := range basePlans {
		for _, c := range model.BillingCycles {
			months := int64(c.Months())
			cfg := model.PlanConfig{
				Track:             b.track,
				Plan:              b.plan,
				Cycle:             c,
				DisplayName:       b.name,
				PriceMinorUnits:   b.monthlyPrice * months * (100 - cycleDiscount[c]) / 100,
				Currency:          currency,
				CreditGrant:       scale(b.credits, months),
				TrainingSlotGrant: scale(b.slots, 1),
				TokenGrant:        b.tokens,
				IntervalUnit:      model.IntervalMonth,
				IntervalCount:     months,
			}
			if c == model.CycleYearly {
				cfg.IntervalUnit = model.IntervalYear
				cfg.IntervalCount = 1
			}
			out[key{b.track, b.plan, c}] = cfg
		}
	}
	return out
}

func scale(q *int64, n int64) *int64 {
	if q == nil {
		return nil
	}
	return model.Limited(*q * n)
}

// Lookup returns the catalog row for the triple, or domain.ErrInvalidPlan.
func Lookup(track model.Track, plan model.PlanID, cycle model.BillingCycle) (model.PlanConfig, error) {
	cfg, ok := table[key{track, plan, cycle}]
	if !ok {
		return model.PlanConfig{}, fmt.Errorf("%s/%s/%s: %w", track, plan, cycle, domain.ErrInvalidPlan)
	}
	return copyConfig(cfg), nil
}

// Policy returns the grant semantics of a track.
func Policy(track model.Track) (model.TrackPolicy, error) {
	p, ok := policies[track]
	if !ok {
		return model.TrackPolicy{}, fmt.Errorf("track %q: %w", track, domain.ErrInvalidPlan)
	}
	return p, nil
}

// Plans lists every row of a track (all tracks when track is empty), ordered by track,
// price and cycle.
func Plans(track model.Track) []model.PlanConfig {
	out := make([]model.PlanConfig, 0, len(table))
	for k, cfg := range table {
		if track != "" && k.track != track {
			continue
		}
		out = append(out, copyConfig(cfg))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Track != out[j].Track {
			return out[i].Track < out[j].Track
		}
		if out[i].Plan != out[j].Plan {
			return monthly(out[i]) < monthly(out[j])
		}
		return out[i].Cycle.Months() < out[j].Cycle.Months()
	})
	return out
}

func monthly(c model.PlanConfig) int64 {
	return c.PriceMinorUnits * 100 / (100 - cycleDiscount[c.Cycle]) / int64(c.Cycle.Months())
}

// callers must not be able to mutate the shared grants
func copyConfig(c model.PlanConfig) model.PlanConfig {
	c.CreditGrant = scale(c.CreditGrant, 1)
	c.TrainingSlotGrant = scale(c.TrainingSlotGrant, 1)
	return c
}
