package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/domain/ports/repository"
)

var _ repository.EventLedger = (*ledgerRepo)(nil)

// ledgerRepo keeps applied event ids in applied_events; the primary key is the
// de-duplication boundary.
type ledgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *ledgerRepo {
	return &ledgerRepo{pool: pool}
}

func (r *ledgerRepo) HasApplied(ctx context.Context, tx repository.Tx, eventID string) (bool, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return false, err
	}
	var seen bool
	err = exec.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM applied_events WHERE event_id=$1);`, eventID).Scan(&seen)
	return seen, mapErr(err)
}

func (r *ledgerRepo) MarkApplied(ctx context.Context, tx repository.Tx, ev *model.AppliedEvent) error {
	if ev == nil || ev.EventID == "" {
		return domain.ErrInvalidArgument
	}
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	tag, err := exec.Exec(ctx, `
INSERT INTO applied_events (event_id, kind, user_id, applied_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (event_id) DO NOTHING;`, ev.EventID, string(ev.Kind), ev.UserID, ev.AppliedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", ev.EventID, domain.ErrAlreadyApplied)
	}
	return nil
}

func (r *ledgerRepo) PruneBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) (int64, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return 0, err
	}
	tag, err := exec.Exec(ctx, `DELETE FROM applied_events WHERE applied_at < $1;`, cutoff)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}
