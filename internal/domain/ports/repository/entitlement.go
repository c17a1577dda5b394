package repository

import (
	"context"

	"creator-billing/internal/domain/model"
)

// EntitlementRepository is the port for per-user, per-track entitlement rows.
type EntitlementRepository interface {
	// Get returns the row or domain.ErrNotFound.
	Get(ctx context.Context, tx Tx, userID string, track model.Track) (*model.Entitlement, error)
	// GetForUpdate serializes concurrent writers of (userID, track) until tx ends and
	// returns the current row, or domain.ErrNotFound when none exists yet.
	GetForUpdate(ctx context.Context, tx Tx, userID string, track model.Track) (*model.Entitlement, error)
	// FindBySubscriptionRef returns the row holding the provider subscription, or domain.ErrNotFound.
	FindBySubscriptionRef(ctx context.Context, tx Tx, subscriptionRef string) (*model.Entitlement, error)
	// FindByCustomerRef returns every row of the provider customer (one per track at most).
	FindByCustomerRef(ctx context.Context, tx Tx, customerRef string) ([]*model.Entitlement, error)
	// Save inserts or updates the row keyed by (UserID, Track).
	Save(ctx context.Context, tx Tx, e *model.Entitlement) error
	// ListByUser returns all rows of a user.
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Entitlement, error)
}
