// Package api exposes the billing HTTP surface: the provider webhook, checkout,
// entitlement reads and the plan catalog.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"creator-billing/internal/domain/ports/adapter"
	"creator-billing/internal/infra/logging"
	"creator-billing/internal/usecase"
)

// Deps are the use cases behind the routes. Verifier may be nil, in which case the
// webhook route answers 503.
type Deps struct {
	Checkout     usecase.CheckoutUseCase
	Entitlements usecase.EntitlementUseCase
	Engine       usecase.ReconcileUseCase
	Verifier     adapter.EventVerifier
	Auth         *Authenticator
}

type Server struct {
	deps    Deps
	timeout time.Duration
	log     *zerolog.Logger
}

func NewServer(deps Deps, requestTimeout time.Duration, logger *zerolog.Logger) *Server {
	return &Server{deps: deps, timeout: requestTimeout, log: logging.Component(logger, "http")}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(s.timeout))
		r.Post("/webhooks/stripe", s.handleStripeWebhook)
		r.Get("/plans", s.handlePlans)

		r.Group(func(r chi.Router) {
			r.Use(s.deps.Auth.Middleware)
			r.Post("/checkout", s.handleCheckout)
			r.Get("/entitlements", s.handleEntitlements)
			r.Get("/entitlements/{track}", s.handleEntitlement)
			r.Post("/entitlements/{track}/consume", s.handleConsume)
		})
	})
	return r
}
