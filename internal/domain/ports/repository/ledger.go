package repository

import (
	"context"
	"time"

	"creator-billing/internal/domain/model"
)

// EventLedger records which provider events (and lazily applied token resets) have
// been applied. It must share the transaction of the entitlement mutation it guards.
type EventLedger interface {
	HasApplied(ctx context.Context, tx Tx, eventID string) (bool, error)
	// MarkApplied inserts the row; a second insert for the same id returns domain.ErrAlreadyApplied.
	MarkApplied(ctx context.Context, tx Tx, ev *model.AppliedEvent) error
	// PruneBefore deletes rows applied before cutoff and returns how many were removed.
	PruneBefore(ctx context.Context, tx Tx, cutoff time.Time) (int64, error)
}
