package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/domain/ports/repository"
)

var _ repository.EventLedger = (*ledgerRepo)(nil)

type ledgerRepo struct {
	db *sql.DB
}

func NewLedgerRepo(db *sql.DB) *ledgerRepo {
	return &ledgerRepo{db: db}
}

func (r *ledgerRepo) HasApplied(ctx context.Context, tx repository.Tx, eventID string) (bool, error) {
	exec, err := getExecutor(r.db, tx)
	if err != nil {
		return false, err
	}
	var n int
	err = exec.QueryRowContext(ctx, `SELECT COUNT(1) FROM applied_events WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, mapErr(err)
	}
	return n > 0, nil
}

func (r *ledgerRepo) MarkApplied(ctx context.Context, tx repository.Tx, ev *model.AppliedEvent) error {
	if ev == nil || ev.EventID == "" {
		return domain.ErrInvalidArgument
	}
	exec, err := getExecutor(r.db, tx)
	if err != nil {
		return err
	}
	res, err := exec.ExecContext(ctx, `
		INSERT INTO applied_events (event_id, kind, user_id, applied_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`,
		ev.EventID, string(ev.Kind), ev.UserID, ev.AppliedAt.UTC().Unix())
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return fmt.Errorf("event %s: %w", ev.EventID, domain.ErrAlreadyApplied)
	}
	return nil
}

func (r *ledgerRepo) PruneBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) (int64, error) {
	exec, err := getExecutor(r.db, tx)
	if err != nil {
		return 0, err
	}
	res, err := exec.ExecContext(ctx, `DELETE FROM applied_events WHERE applied_at < ?`, cutoff.UTC().Unix())
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	return n, mapErr(err)
}
