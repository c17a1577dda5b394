// File: internal/usecase/checkout_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/catalog"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/domain/ports/adapter"
	"creator-billing/internal/infra/logging"
	"creator-billing/internal/infra/metrics"
)

// Compile-time check
var _ CheckoutUseCase = (*checkoutUC)(nil)

// ErrRateLimited is returned when a user created too many checkout sessions recently.
var ErrRateLimited = errors.New("too many checkout sessions")

// CheckoutRequest is the caller input of CreateSession.
type CheckoutRequest struct {
	UserID       string
	Track        model.Track
	Plan         model.PlanID
	BillingCycle model.BillingCycle
	PromoCode    string
	// IdempotencyKey, when set, makes a retried request return the session created first.
	IdempotencyKey string
}

type CheckoutUseCase interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (*model.CheckoutSession, error)
}

// CheckoutOptions tunes CreateSession.
type CheckoutOptions struct {
	// Mock skips the provider and applies the checkout immediately through the engine.
	Mock            bool
	ProviderTimeout time.Duration
	RateLimit       int
	RateWindow      time.Duration
	// MockRedirectURL is where a mock session sends the user.
	MockRedirectURL string
}

type checkoutUC struct {
	provider adapter.CheckoutProvider
	engine   ReconcileUseCase
	limiter  adapter.RateLimiter
	sessions adapter.CheckoutSessionCache
	opts     CheckoutOptions
	now      func() time.Time
	log      *zerolog.Logger
}

// NewCheckoutUseCase wires the factory. limiter and sessions may be nil.
func NewCheckoutUseCase(
	provider adapter.CheckoutProvider,
	engine ReconcileUseCase,
	limiter adapter.RateLimiter,
	sessions adapter.CheckoutSessionCache,
	opts CheckoutOptions,
	now func() time.Time,
	logger *zerolog.Logger,
) *checkoutUC {
	if now == nil {
		now = time.Now
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 10 * time.Second
	}
	return &checkoutUC{
		provider: provider,
		engine:   engine,
		limiter:  limiter,
		sessions: sessions,
		opts:     opts,
		now:      now,
		log:      logging.Component(logger, "checkout"),
	}
}

func (u *checkoutUC) mode() string {
	if u.opts.Mock {
		return "mock"
	}
	return u.provider.Name()
}

func (u *checkoutUC) CreateSession(ctx context.Context, req CheckoutRequest) (*model.CheckoutSession, error) {
	defer logging.TraceDuration(u.log, "CheckoutUC.CreateSession")()
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	cfg, err := catalog.Lookup(req.Track, req.Plan, req.BillingCycle)
	if err != nil {
		metrics.IncCheckoutSession(string(req.Track), u.mode(), "invalid_plan")
		return nil, err
	}
	log := logging.With(logging.WithUserID(ctx, req.UserID), u.log).With().
		Str("track", string(cfg.Track)).
		Str("plan", string(cfg.Plan)).
		Str("cycle", string(cfg.Cycle)).
		Logger()

	if s, ok := u.cached(ctx, req); ok {
		log.Info().Str("session_id", s.SessionID).Msg("returning session for repeated idempotency key")
		return s, nil
	}
	if err := u.allow(ctx, req.UserID); err != nil {
		metrics.IncCheckoutSession(string(cfg.Track), u.mode(), "rate_limited")
		return nil, err
	}

	intent, err := model.NewCheckoutIntent(req.UserID, cfg, req.PromoCode)
	if err != nil {
		return nil, err
	}

	var s *model.CheckoutSession
	if u.opts.Mock {
		s, err = u.mockSession(ctx, intent)
	} else {
		s, err = u.providerSession(ctx, intent)
	}
	if err != nil {
		metrics.IncCheckoutSession(string(cfg.Track), u.mode(), "error")
		log.Error().Err(err).Msg("checkout session creation failed")
		return nil, err
	}
	metrics.IncCheckoutSession(string(cfg.Track), u.mode(), "created")
	log.Info().Str("session_id", s.SessionID).Bool("mock", s.Mock).Msg("checkout session created")

	if req.IdempotencyKey != "" && u.sessions != nil {
		if err := u.sessions.Put(ctx, req.UserID, req.IdempotencyKey, s); err != nil {
			log.Warn().Err(err).Msg("failed to remember checkout session")
		}
	}
	return s, nil
}

func (u *checkoutUC) providerSession(ctx context.Context, intent *model.CheckoutIntent) (*model.CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, u.opts.ProviderTimeout)
	defer cancel()

	start := time.Now()
	s, err := u.provider.CreateCheckoutSession(ctx, intent)
	metrics.ObserveCheckoutProvider(u.provider.Name(), time.Since(start).Seconds(), err == nil)
	if err != nil {
		if errors.Is(err, domain.ErrProvider) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrProvider, err)
	}
	return s, nil
}

// mockSession synthesizes what the provider would have done: a session and, right away,
// the checkout.session.completed event, applied through the same engine as real webhooks.
func (u *checkoutUC) mockSession(ctx context.Context, intent *model.CheckoutIntent) (*model.CheckoutSession, error) {
	sessionID := "cs_mock_" + ulid.Make().String()
	ev := model.CheckoutCompleted{
		EventHeader: model.EventHeader{
			ID:           "evt_mock_" + ulid.Make().String(),
			ProviderType: "checkout.session.completed",
			OccurredAt:   u.now(),
		},
		SessionID:       sessionID,
		CustomerRef:     MockCustomerRef(intent.UserID),
		SubscriptionRef: "sub_mock_" + ulid.Make().String(),
		Metadata:        intent.Metadata,
	}
	outcome, err := u.engine.Apply(ctx, ev)
	if err != nil {
		return nil, err
	}
	if outcome != model.OutcomeApplied {
		return nil, fmt.Errorf("mock checkout %s: unexpected outcome %s: %w", sessionID, outcome, domain.ErrPersistence)
	}
	redirect := u.opts.MockRedirectURL
	if redirect != "" {
		sep := "?"
		if strings.Contains(redirect, "?") {
			sep = "&"
		}
		redirect += sep + "session_id=" + sessionID
	}
	return &model.CheckoutSession{SessionID: sessionID, RedirectURL: redirect, Mock: true}, nil
}

// MockCustomerRef is the stable customer reference mock checkouts attach to a user.
func MockCustomerRef(userID string) string { return "cus_mock_" + userID }

func (u *checkoutUC) cached(ctx context.Context, req CheckoutRequest) (*model.CheckoutSession, bool) {
	if req.IdempotencyKey == "" || u.sessions == nil {
		return nil, false
	}
	s, ok, err := u.sessions.Get(ctx, req.UserID, req.IdempotencyKey)
	if err != nil {
		u.log.Warn().Err(err).Msg("idempotency cache lookup failed")
		metrics.IncCacheRequest("checkout_idempotency", "error")
		return nil, false
	}
	if !ok {
		metrics.IncCacheRequest("checkout_idempotency", "miss")
		return nil, false
	}
	metrics.IncCacheRequest("checkout_idempotency", "hit")
	return s, true
}

func (u *checkoutUC) allow(ctx context.Context, userID string) error {
	if u.limiter == nil || u.opts.RateLimit <= 0 {
		return nil
	}
	ok, err := u.limiter.Allow(ctx, "rate_limit:checkout:"+userID, u.opts.RateLimit, u.opts.RateWindow)
	if err != nil {
		// the limiter is best effort; a redis outage must not block purchases
		u.log.Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		metrics.IncRateLimited("checkout")
		return ErrRateLimited
	}
	return nil
}
