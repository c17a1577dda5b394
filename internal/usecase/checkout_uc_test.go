//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/infra/logging"
	"creator-billing/internal/usecase"
)

// MockCheckoutProvider is a func-field fake of adapter.CheckoutProvider.
type MockCheckoutProvider struct {
	CreateFunc func(ctx context.Context, intent *model.CheckoutIntent) (*model.CheckoutSession, error)

	mu      sync.Mutex
	intents []*model.CheckoutIntent
}

func (m *MockCheckoutProvider) Name() string { return "fake" }

func (m *MockCheckoutProvider) CreateCheckoutSession(ctx context.Context, intent *model.CheckoutIntent) (*model.CheckoutSession, error) {
	m.mu.Lock()
	m.intents = append(m.intents, intent)
	m.mu.Unlock()
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, intent)
	}
	return &model.CheckoutSession{SessionID: "cs_test_1", RedirectURL: "https://pay.example/cs_test_1"}, nil
}

func (m *MockCheckoutProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.intents)
}

type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return m.AllowFunc(ctx, key, limit, window)
}

type memSessionCache struct {
	mu sync.Mutex
	m  map[string]*model.CheckoutSession
}

func (c *memSessionCache) Get(ctx context.Context, userID, key string) (*model.CheckoutSession, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[userID+"|"+key]
	return s, ok, nil
}

func (c *memSessionCache) Put(ctx context.Context, userID, key string, s *model.CheckoutSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]*model.CheckoutSession{}
	}
	c.m[userID+"|"+key] = s
	return nil
}

func builderRequest(userID string) usecase.CheckoutRequest {
	return usecase.CheckoutRequest{
		UserID:       userID,
		Track:        model.TrackContent,
		Plan:         model.PlanBuilder,
		BillingCycle: model.CycleQuarterly,
	}
}

func TestCheckout_ProviderSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(date(2024, 2, 10))
	provider := &MockCheckoutProvider{}
	uc := usecase.NewCheckoutUseCase(provider, env.engine, nil, nil, usecase.CheckoutOptions{}, env.clock.Now, logging.Nop())

	req := builderRequest("u1")
	req.PromoCode = " SPRING "
	s, err := uc.CreateSession(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", s.SessionID)
	assert.False(t, s.Mock)

	require.Equal(t, 1, provider.calls())
	intent := provider.intents[0]
	assert.EqualValues(t, 4900*3*90/100, intent.AmountMinorUnits)
	assert.Equal(t, model.IntervalMonth, intent.IntervalUnit)
	assert.EqualValues(t, 3, intent.IntervalCount)
	assert.Equal(t, "SPRING", intent.PromoCode)
	assert.Equal(t, model.CheckoutMetadata{
		UserID: "u1", Track: model.TrackContent, Plan: model.PlanBuilder, BillingCycle: model.CycleQuarterly,
	}, intent.Metadata)

	// a real checkout does not touch entitlements until the webhook arrives
	_, err = env.store.Get(ctx, nil, "u1", model.TrackContent)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckout_InvalidPlan(t *testing.T) {
	env := newTestEnv(date(2024, 2, 10))
	provider := &MockCheckoutProvider{}
	uc := usecase.NewCheckoutUseCase(provider, env.engine, nil, nil, usecase.CheckoutOptions{}, env.clock.Now, logging.Nop())

	req := builderRequest("u1")
	req.Track = model.TrackCompanion
	_, err := uc.CreateSession(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)
	assert.Equal(t, 0, provider.calls())
}

func TestCheckout_ProviderFailureIsRetryable(t *testing.T) {
	env := newTestEnv(date(2024, 2, 10))

	t.Run("error", func(t *testing.T) {
		provider := &MockCheckoutProvider{CreateFunc: func(ctx context.Context, intent *model.CheckoutIntent) (*model.CheckoutSession, error) {
			return nil, errors.New("card_declined")
		}}
		uc := usecase.NewCheckoutUseCase(provider, env.engine, nil, nil, usecase.CheckoutOptions{}, env.clock.Now, logging.Nop())
		_, err := uc.CreateSession(context.Background(), builderRequest("u1"))
		assert.ErrorIs(t, err, domain.ErrProvider)
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("timeout", func(t *testing.T) {
		provider := &MockCheckoutProvider{CreateFunc: func(ctx context.Context, intent *model.CheckoutIntent) (*model.CheckoutSession, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		uc := usecase.NewCheckoutUseCase(provider, env.engine, nil, nil,
			usecase.CheckoutOptions{ProviderTimeout: 20 * time.Millisecond}, env.clock.Now, logging.Nop())
		start := time.Now()
		_, err := uc.CreateSession(context.Background(), builderRequest("u1"))
		assert.ErrorIs(t, err, domain.ErrProvider)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestCheckout_MockModeAppliesThroughEngine(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(date(2024, 2, 10))
	provider := &MockCheckoutProvider{}
	uc := usecase.NewCheckoutUseCase(provider, env.engine, nil, nil,
		usecase.CheckoutOptions{Mock: true, MockRedirectURL: "http://localhost:3000/billing/success"}, env.clock.Now, logging.Nop())

	s, err := uc.CreateSession(ctx, builderRequest("u1"))
	require.NoError(t, err)
	assert.True(t, s.Mock)
	assert.Contains(t, s.SessionID, "cs_mock_")
	assert.Equal(t, "http://localhost:3000/billing/success?session_id="+s.SessionID, s.RedirectURL)
	assert.Equal(t, 0, provider.calls())

	ent, err := env.store.Get(ctx, nil, "u1", model.TrackContent)
	require.NoError(t, err)
	assert.Equal(t, model.EntitlementStatusActive, ent.Status)
	assert.Equal(t, model.PlanBuilder, ent.Plan)
	assert.EqualValues(t, 1500, *ent.Credits)
	assert.EqualValues(t, 1, *ent.TrainingSlots)
	assert.Equal(t, usecase.MockCustomerRef("u1"), ent.ProviderCustomerRef)
	assert.EqualValues(t, 1, env.ledger.marks.Load(), "mock checkouts go through the ledger")

	// a second mock purchase is a distinct event and adds on top
	_, err = uc.CreateSession(ctx, builderRequest("u1"))
	require.NoError(t, err)
	ent, _ = env.store.Get(ctx, nil, "u1", model.TrackContent)
	assert.EqualValues(t, 3000, *ent.Credits)
}

func TestCheckout_RateLimited(t *testing.T) {
	env := newTestEnv(date(2024, 2, 10))
	provider := &MockCheckoutProvider{}
	var gotKey string
	limiter := &MockRateLimiter{AllowFunc: func(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
		gotKey = key
		return false, nil
	}}
	uc := usecase.NewCheckoutUseCase(provider, env.engine, limiter, nil,
		usecase.CheckoutOptions{RateLimit: 3, RateWindow: time.Minute}, env.clock.Now, logging.Nop())

	_, err := uc.CreateSession(context.Background(), builderRequest("u1"))
	assert.ErrorIs(t, err, usecase.ErrRateLimited)
	assert.Equal(t, "rate_limit:checkout:u1", gotKey)
	assert.Equal(t, 0, provider.calls())
}

func TestCheckout_LimiterOutageDoesNotBlock(t *testing.T) {
	env := newTestEnv(date(2024, 2, 10))
	provider := &MockCheckoutProvider{}
	limiter := &MockRateLimiter{AllowFunc: func(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
		return false, errors.New("redis: connection refused")
	}}
	uc := usecase.NewCheckoutUseCase(provider, env.engine, limiter, nil,
		usecase.CheckoutOptions{RateLimit: 3, RateWindow: time.Minute}, env.clock.Now, logging.Nop())

	_, err := uc.CreateSession(context.Background(), builderRequest("u1"))
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls())
}

func TestCheckout_IdempotencyKeyReplaysSession(t *testing.T) {
	env := newTestEnv(date(2024, 2, 10))
	provider := &MockCheckoutProvider{}
	cache := &memSessionCache{}
	uc := usecase.NewCheckoutUseCase(provider, env.engine, nil, cache, usecase.CheckoutOptions{}, env.clock.Now, logging.Nop())

	req := builderRequest("u1")
	req.IdempotencyKey = "k-1"
	first, err := uc.CreateSession(context.Background(), req)
	require.NoError(t, err)
	second, err := uc.CreateSession(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.calls())
}
