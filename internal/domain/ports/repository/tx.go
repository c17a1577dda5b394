package repository

import (
	"context"
)

// Tx is an opaque transaction handle. Its concrete type is infra-defined (pgx.Tx for
// Postgres, *sql.Tx for SQLite, an in-memory overlay for the memory store).
type Tx interface{}

var NoTX Tx

// TransactionManager executes a function within a storage transaction, passing the
// handle via tx.
//
// USAGE
//
//	tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
//		e, err := ents.GetForUpdate(ctx, tx, userID, track)
//		...
//		return ents.Save(ctx, tx, e)
//	})
//
// If fn returns an error the transaction is rolled back, otherwise committed.
// Repositories MUST accept a nil tx (non-transactional path).
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
