// File: internal/usecase/ledger_uc.go
package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/ports/repository"
	"creator-billing/internal/infra/logging"
	"creator-billing/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// LedgerUseCase maintains the applied-event ledger.
type LedgerUseCase interface {
	// Prune removes rows applied more than retention ago.
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

type ledgerUC struct {
	ledger repository.EventLedger
	tm     repository.TransactionManager
	now    func() time.Time
	log    *zerolog.Logger
}

func NewLedgerUseCase(ledger repository.EventLedger, tm repository.TransactionManager, now func() time.Time, logger *zerolog.Logger) *ledgerUC {
	if now == nil {
		now = time.Now
	}
	return &ledgerUC{ledger: ledger, tm: tm, now: now, log: logging.Component(logger, "ledger")}
}

func (u *ledgerUC) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.Prune")()
	if retention <= 0 {
		return 0, domain.ErrInvalidArgument
	}
	cutoff := u.now().Add(-retention)

	var n int64
	err := u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		n, err = u.ledger.PruneBefore(ctx, tx, cutoff)
		return err
	})
	if err != nil {
		return 0, persistence("prune ledger", err)
	}
	metrics.AddLedgerPruned(n)
	u.log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("ledger pruned")
	return n, nil
}
