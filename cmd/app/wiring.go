package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"creator-billing/internal/config"
	"creator-billing/internal/domain/ports/repository"
	"creator-billing/internal/infra/db/memory"
	pg "creator-billing/internal/infra/db/postgres"
	"creator-billing/internal/infra/db/sqlite"
)

// storage bundles the repositories of the configured driver.
type storage struct {
	ents   repository.EntitlementRepository
	ledger repository.EventLedger
	tm     repository.TransactionManager
	pool   *pgxpool.Pool // postgres only
	close  func()
}

func openStorage(ctx context.Context, cfg config.StoreConfig, log *zerolog.Logger) (*storage, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info().Int32("max_conns", pool.Config().MaxConns).Msg("postgres connected")
		return &storage{
			ents:   pg.NewEntitlementRepo(pool),
			ledger: pg.NewLedgerRepo(pool),
			tm:     pg.NewTxManager(pool),
			pool:   pool,
			close:  pool.Close,
		}, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite opened")
		return &storage{
			ents:   sqlite.NewEntitlementRepo(db),
			ledger: sqlite.NewLedgerRepo(db),
			tm:     sqlite.NewTxManager(db),
			close:  func() { _ = db.Close() },
		}, nil
	case "memory":
		log.Warn().Msg("memory store in use; entitlements are lost on restart")
		st := memory.NewStore()
		return &storage{ents: st, ledger: st, tm: st, close: func() {}}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
