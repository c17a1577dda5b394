// Package sqlite is the single-node store. All access goes through one connection, so a
// transaction excludes every other reader and writer until it ends.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/ports/repository"
	"creator-billing/internal/infra/metrics"
)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entitlements (
		user_id                   TEXT NOT NULL,
		track                     TEXT NOT NULL,
		plan                      TEXT NOT NULL DEFAULT '',
		billing_cycle             TEXT NOT NULL DEFAULT '',
		status                    TEXT NOT NULL DEFAULT 'none',
		credits                   INTEGER,
		training_slots            INTEGER,
		tokens                    INTEGER NOT NULL DEFAULT 0,
		tokens_reset_at           INTEGER,
		provider_customer_ref     TEXT NOT NULL DEFAULT '',
		provider_subscription_ref TEXT NOT NULL DEFAULT '',
		created_at                INTEGER NOT NULL,
		updated_at                INTEGER NOT NULL,
		PRIMARY KEY (user_id, track)
	);
	CREATE INDEX IF NOT EXISTS idx_entitlements_customer ON entitlements(provider_customer_ref);
	CREATE INDEX IF NOT EXISTS idx_entitlements_subscription ON entitlements(provider_subscription_ref);

	CREATE TABLE IF NOT EXISTS applied_events (
		event_id   TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		user_id    TEXT NOT NULL DEFAULT '',
		applied_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_applied_events_applied_at ON applied_events(applied_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

var _ repository.TransactionManager = (*TxManager)(nil)

type TxManager struct {
	db *sql.DB
}

func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.IncStoreTx("sqlite", "error")
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, tx); err != nil {
		metrics.IncStoreTx("sqlite", "rollback")
		return err
	}
	if err := tx.Commit(); err != nil {
		metrics.IncStoreTx("sqlite", "error")
		return mapErr(err)
	}
	metrics.IncStoreTx("sqlite", "commit")
	return nil
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getExecutor(db *sql.DB, tx repository.Tx) (executor, error) {
	switch v := tx.(type) {
	case *sql.Tx:
		return v, nil
	case nil:
		if db != nil {
			return db, nil
		}
		return nil, domain.ErrInvalidArgument
	default:
		return nil, domain.ErrInvalidExecContext
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func fromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
