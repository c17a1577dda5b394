package adapter

import (
	"context"
	"time"

	"creator-billing/internal/domain/model"
)

// RateLimiter admits at most limit calls per key within window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// CheckoutSessionCache remembers the session created for a client idempotency key so a
// retried checkout request returns the same session.
type CheckoutSessionCache interface {
	Get(ctx context.Context, userID, idempotencyKey string) (*model.CheckoutSession, bool, error)
	Put(ctx context.Context, userID, idempotencyKey string, s *model.CheckoutSession) error
}
