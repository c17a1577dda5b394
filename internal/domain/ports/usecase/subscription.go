package usecase

import (
	"context"

	"creator-billing/internal/domain/model"
)

// EntitlementReader is what request paths outside billing depend on to gate features.
type EntitlementReader interface {
	GetEntitlement(ctx context.Context, userID string, track model.Track) (*model.EntitlementView, error)
	Consume(ctx context.Context, userID string, track model.Track, r model.Resource, amount int64) (*model.EntitlementView, error)
}

// EventApplier applies one verified provider event.
type EventApplier interface {
	Apply(ctx context.Context, ev model.Event) (model.Outcome, error)
}
