package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"creator-billing/internal/usecase"
)

// Locker elects a single replica for a run. redis.RedisLocker satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

const pruneLockKey = "lock:ledger-prune"

// LedgerPruner periodically removes ledger rows older than the retention window.
type LedgerPruner struct {
	interval  time.Duration
	retention time.Duration
	ledgerUC  usecase.LedgerUseCase
	locker    Locker
	log       *zerolog.Logger
}

// NewLedgerPruner builds the worker. locker may be nil when a single instance runs.
func NewLedgerPruner(interval, retention time.Duration, ledgerUC usecase.LedgerUseCase, locker Locker, logger *zerolog.Logger) *LedgerPruner {
	prLog := logger.With().Str("component", "LedgerPruner").Logger()
	return &LedgerPruner{
		interval:  interval,
		retention: retention,
		ledgerUC:  ledgerUC,
		locker:    locker,
		log:       &prLog,
	}
}

func (w *LedgerPruner) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("retention", w.retention).Msg("Starting ledger pruner")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping ledger pruner")
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *LedgerPruner) runOnce(ctx context.Context) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, pruneLockKey, w.interval)
		if err != nil {
			w.log.Debug().Err(err).Msg("prune skipped, lock not acquired")
			return
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), pruneLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("release prune lock")
			}
		}()
	}
	if _, err := w.ledgerUC.Prune(ctx, w.retention); err != nil {
		w.log.Error().Err(err).Msg("ledger pruner error")
	}
}
