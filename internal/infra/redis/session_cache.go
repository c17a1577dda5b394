package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"creator-billing/internal/domain/model"
	"creator-billing/internal/domain/ports/adapter"
)

var _ adapter.CheckoutSessionCache = (*SessionCache)(nil)

// SessionCache stores the checkout session created for a client Idempotency-Key.
type SessionCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewSessionCache(client RedisClient, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionCache{client: client, ttl: ttl}
}

func sessionKey(userID, idempotencyKey string) string {
	return "checkout_idem:" + userID + ":" + idempotencyKey
}

func (c *SessionCache) Get(ctx context.Context, userID, idempotencyKey string) (*model.CheckoutSession, bool, error) {
	data, err := c.client.Get(ctx, sessionKey(userID, idempotencyKey))
	if errors.Is(err, ErrNil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var s model.CheckoutSession
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, false, err
	}
	return &s, true, nil
}

func (c *SessionCache) Put(ctx context.Context, userID, idempotencyKey string, s *model.CheckoutSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, sessionKey(userID, idempotencyKey), data, c.ttl)
}
