package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"creator-billing/internal/config"
	"creator-billing/internal/domain/ports/adapter"
	"creator-billing/internal/infra/api"
	pg "creator-billing/internal/infra/db/postgres"
	"creator-billing/internal/infra/logging"
	"creator-billing/internal/infra/metrics"
	"creator-billing/internal/infra/payment/stripe"
	red "creator-billing/internal/infra/redis"
	"creator-billing/internal/infra/sched"
	"creator-billing/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func loadConfig() (*config.Config, *zerolog.Logger, error) {
	cfg, err := config.Load(cfgPath, devMode)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	return cfg, logging.New(cfg.Log, cfg.Runtime.Dev), nil
}

func runServe(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(Version, GitCommit)

	// ---- Storage ----
	store, err := openStorage(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer store.close()

	// ---- Redis (optional) ----
	var (
		limiter  adapter.RateLimiter
		sessions adapter.CheckoutSessionCache
		locker   sched.Locker
	)
	if strings.TrimSpace(cfg.Redis.URL) != "" {
		rc, err := red.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		limiter = red.NewRateLimiter(rc)
		sessions = red.NewSessionCache(rc, cfg.Redis.IdempotencyTTL)
		locker = red.NewLocker(rc)
		logger.Info().Msg("redis connected; checkout rate limiting enabled")
	} else {
		logger.Warn().Msg("redis.url empty; checkout rate limiting and idempotency keys disabled")
	}

	// ---- Payment provider ----
	var provider adapter.CheckoutProvider
	if !cfg.MockPayments() {
		sc, err := stripe.NewClient(cfg.Payment.Stripe, cfg.Payment.ProviderTimeout, logger)
		if err != nil {
			return fmt.Errorf("stripe: %w", err)
		}
		provider = sc
	} else {
		logger.Warn().Msg("payment.mode=mock; checkouts are granted without charging")
	}
	var verifier adapter.EventVerifier
	if cfg.Payment.Stripe.WebhookSecret != "" {
		verifier, err = stripe.NewVerifier(cfg.Payment.Stripe.WebhookSecret)
		if err != nil {
			return fmt.Errorf("stripe webhook: %w", err)
		}
	}

	// ---- Use cases ----
	engine := usecase.NewReconcileUseCase(store.ents, store.ledger, store.tm, nil, logger)
	entUC := usecase.NewEntitlementUseCase(store.ents, store.ledger, store.tm, nil, logger)
	ledgerUC := usecase.NewLedgerUseCase(store.ledger, store.tm, nil, logger)
	checkoutUC := usecase.NewCheckoutUseCase(provider, engine, limiter, sessions, usecase.CheckoutOptions{
		Mock:            cfg.MockPayments(),
		ProviderTimeout: cfg.Payment.ProviderTimeout,
		RateLimit:       cfg.Payment.CheckoutRateLimit,
		RateWindow:      cfg.Payment.CheckoutRateWindow,
		MockRedirectURL: mockRedirectURL(cfg),
	}, nil, logger)

	auth, err := api.NewAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}
	srv := api.NewServer(api.Deps{
		Checkout:     checkoutUC,
		Entitlements: entUC,
		Engine:       engine,
		Verifier:     verifier,
		Auth:         auth,
	}, cfg.HTTP.RequestTimeout, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Str("store", cfg.Store.Driver).Str("payment_mode", cfg.Payment.Mode).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})
	g.Go(func() error {
		pruner := sched.NewLedgerPruner(cfg.Ledger.PruneInterval, cfg.Ledger.Retention, ledgerUC, locker, logger)
		return ignoreCanceled(pruner.Run(gctx))
	})
	if store.pool != nil {
		g.Go(func() error {
			pg.ReportPoolStats(gctx, store.pool, 15*time.Second, logger)
			return nil
		})
	}

	err = g.Wait()
	logger.Info().Err(err).Msg("stopped")
	return err
}

func mockRedirectURL(cfg *config.Config) string {
	if cfg.Payment.Stripe.SuccessURL != "" {
		return cfg.Payment.Stripe.SuccessURL
	}
	base := strings.TrimRight(cfg.App.BaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port)
	}
	return base + "/billing/success"
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
