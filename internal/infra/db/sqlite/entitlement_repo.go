package sqlite

import (
	"context"
	"database/sql"
	"time"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/domain/ports/repository"
)

var _ repository.EntitlementRepository = (*entitlementRepo)(nil)

type entitlementRepo struct {
	db *sql.DB
}

func NewEntitlementRepo(db *sql.DB) *entitlementRepo {
	return &entitlementRepo{db: db}
}

const entitlementColumns = `
	user_id, track, plan, billing_cycle, status, credits, training_slots, tokens, tokens_reset_at,
	provider_customer_ref, provider_subscription_ref, created_at, updated_at`

func (r *entitlementRepo) Get(ctx context.Context, tx repository.Tx, userID string, track model.Track) (*model.Entitlement, error) {
	return r.queryOne(ctx, tx, `SELECT`+entitlementColumns+` FROM entitlements WHERE user_id = ? AND track = ?`, userID, string(track))
}

// GetForUpdate needs no row lock: the open transaction owns the only connection.
func (r *entitlementRepo) GetForUpdate(ctx context.Context, tx repository.Tx, userID string, track model.Track) (*model.Entitlement, error) {
	if _, ok := tx.(*sql.Tx); !ok {
		return nil, domain.ErrInvalidExecContext
	}
	return r.Get(ctx, tx, userID, track)
}

func (r *entitlementRepo) FindBySubscriptionRef(ctx context.Context, tx repository.Tx, subscriptionRef string) (*model.Entitlement, error) {
	if subscriptionRef == "" {
		return nil, domain.ErrNotFound
	}
	return r.queryOne(ctx, tx, `SELECT`+entitlementColumns+` FROM entitlements
		WHERE provider_subscription_ref = ? ORDER BY updated_at DESC LIMIT 1`, subscriptionRef)
}

func (r *entitlementRepo) FindByCustomerRef(ctx context.Context, tx repository.Tx, customerRef string) ([]*model.Entitlement, error) {
	if customerRef == "" {
		return nil, nil
	}
	return r.queryMany(ctx, tx, `SELECT`+entitlementColumns+` FROM entitlements
		WHERE provider_customer_ref = ? ORDER BY user_id, track`, customerRef)
}

func (r *entitlementRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error) {
	return r.queryMany(ctx, tx, `SELECT`+entitlementColumns+` FROM entitlements WHERE user_id = ? ORDER BY track`, userID)
}

func (r *entitlementRepo) Save(ctx context.Context, tx repository.Tx, e *model.Entitlement) error {
	if e == nil || e.UserID == "" || e.Track == "" {
		return domain.ErrInvalidArgument
	}
	exec, err := getExecutor(r.db, tx)
	if err != nil {
		return err
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO entitlements (`+entitlementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, track) DO UPDATE SET
			plan = excluded.plan,
			billing_cycle = excluded.billing_cycle,
			status = excluded.status,
			credits = excluded.credits,
			training_slots = excluded.training_slots,
			tokens = excluded.tokens,
			tokens_reset_at = excluded.tokens_reset_at,
			provider_customer_ref = excluded.provider_customer_ref,
			provider_subscription_ref = excluded.provider_subscription_ref,
			updated_at = excluded.updated_at`,
		e.UserID, string(e.Track), string(e.Plan), string(e.BillingCycle), string(e.Status),
		nullableInt(e.Credits), nullableInt(e.TrainingSlots), e.Tokens, unixOrNil(e.TokensResetAt),
		e.ProviderCustomerRef, e.ProviderSubscriptionRef, created.UTC().Unix(), e.UpdatedAt.UTC().Unix(),
	)
	return mapErr(err)
}

func (r *entitlementRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...any) (*model.Entitlement, error) {
	exec, err := getExecutor(r.db, tx)
	if err != nil {
		return nil, err
	}
	e, err := scanEntitlement(exec.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, mapErr(err)
	}
	return e, nil
}

func (r *entitlementRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...any) ([]*model.Entitlement, error) {
	exec, err := getExecutor(r.db, tx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(s scanner) (*model.Entitlement, error) {
	var (
		e                          model.Entitlement
		track, plan, cycle, status string
		credits, slots, resetAt    sql.NullInt64
		createdAt, updatedAt       int64
	)
	if err := s.Scan(
		&e.UserID, &track, &plan, &cycle, &status, &credits, &slots, &e.Tokens, &resetAt,
		&e.ProviderCustomerRef, &e.ProviderSubscriptionRef, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	e.Track = model.Track(track)
	e.Plan = model.PlanID(plan)
	e.BillingCycle = model.BillingCycle(cycle)
	e.Status = model.EntitlementStatus(status)
	if credits.Valid {
		e.Credits = model.Limited(credits.Int64)
	}
	if slots.Valid {
		e.TrainingSlots = model.Limited(slots.Int64)
	}
	e.TokensResetAt = fromUnix(resetAt)
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	e.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &e, nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
