package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/domain/ports/repository"
)

// Ensure entitlementRepo implements repository.EntitlementRepository
var _ repository.EntitlementRepository = (*entitlementRepo)(nil)

type entitlementRepo struct {
	pool *pgxpool.Pool
}

func NewEntitlementRepo(pool *pgxpool.Pool) *entitlementRepo {
	return &entitlementRepo{pool: pool}
}

const entitlementColumns = `
user_id, track, plan, billing_cycle, status, credits, training_slots, tokens, tokens_reset_at,
provider_customer_ref, provider_subscription_ref, created_at, updated_at`

func (r *entitlementRepo) Get(ctx context.Context, tx repository.Tx, userID string, track model.Track) (*model.Entitlement, error) {
	q := `SELECT ` + entitlementColumns + ` FROM entitlements WHERE user_id=$1 AND track=$2;`
	return r.queryOne(ctx, tx, q, userID, string(track))
}

// GetForUpdate takes a transaction-scoped advisory lock on (user, track) before reading,
// so writers serialize even while the row does not exist yet.
func (r *entitlementRepo) GetForUpdate(ctx context.Context, tx repository.Tx, userID string, track model.Track) (*model.Entitlement, error) {
	ptx, ok := tx.(pgx.Tx)
	if !ok {
		return nil, domain.ErrInvalidExecContext
	}
	if _, err := ptx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, hashToInt64(userID+"|"+string(track))); err != nil {
		return nil, mapErr(err)
	}
	q := `SELECT ` + entitlementColumns + ` FROM entitlements WHERE user_id=$1 AND track=$2 FOR UPDATE;`
	return r.queryOne(ctx, ptx, q, userID, string(track))
}

func (r *entitlementRepo) FindBySubscriptionRef(ctx context.Context, tx repository.Tx, subscriptionRef string) (*model.Entitlement, error) {
	if subscriptionRef == "" {
		return nil, domain.ErrNotFound
	}
	q := `SELECT ` + entitlementColumns + ` FROM entitlements WHERE provider_subscription_ref=$1
 ORDER BY updated_at DESC LIMIT 1;`
	return r.queryOne(ctx, tx, q, subscriptionRef)
}

func (r *entitlementRepo) FindByCustomerRef(ctx context.Context, tx repository.Tx, customerRef string) ([]*model.Entitlement, error) {
	if customerRef == "" {
		return nil, nil
	}
	q := `SELECT ` + entitlementColumns + ` FROM entitlements WHERE provider_customer_ref=$1 ORDER BY user_id, track;`
	return r.queryMany(ctx, tx, q, customerRef)
}

func (r *entitlementRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error) {
	q := `SELECT ` + entitlementColumns + ` FROM entitlements WHERE user_id=$1 ORDER BY track;`
	return r.queryMany(ctx, tx, q, userID)
}

func (r *entitlementRepo) Save(ctx context.Context, tx repository.Tx, e *model.Entitlement) error {
	if e == nil || e.UserID == "" || e.Track == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO entitlements (
  user_id, track, plan, billing_cycle, status, credits, training_slots, tokens, tokens_reset_at,
  provider_customer_ref, provider_subscription_ref, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (user_id, track) DO UPDATE SET
  plan=$3, billing_cycle=$4, status=$5, credits=$6, training_slots=$7, tokens=$8, tokens_reset_at=$9,
  provider_customer_ref=$10, provider_subscription_ref=$11, updated_at=$13;`

	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = exec.Exec(ctx, q,
		e.UserID, string(e.Track), nullString(string(e.Plan)), nullString(string(e.BillingCycle)), string(e.Status),
		e.Credits, e.TrainingSlots, e.Tokens, e.TokensResetAt,
		nullString(e.ProviderCustomerRef), nullString(e.ProviderSubscriptionRef), created, e.UpdatedAt,
	)
	return mapErr(err)
}

func (r *entitlementRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Entitlement, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	e, err := scanEntitlement(exec.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, mapErr(err)
	}
	return e, nil
}

func (r *entitlementRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Entitlement, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, q, args...)
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

func scanEntitlement(row pgx.Row) (*model.Entitlement, error) {
	var (
		e                           model.Entitlement
		track, status               string
		plan, cycle, cusRef, subRef *string
	)
	if err := row.Scan(
		&e.UserID, &track, &plan, &cycle, &status, &e.Credits, &e.TrainingSlots, &e.Tokens, &e.TokensResetAt,
		&cusRef, &subRef, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	e.Track = model.Track(track)
	e.Status = model.EntitlementStatus(status)
	e.Plan = model.PlanID(deref(plan))
	e.BillingCycle = model.BillingCycle(deref(cycle))
	e.ProviderCustomerRef = deref(cusRef)
	e.ProviderSubscriptionRef = deref(subRef)
	if e.TokensResetAt != nil {
		t := e.TokensResetAt.UTC()
		e.TokensResetAt = &t
	}
	return &e, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
