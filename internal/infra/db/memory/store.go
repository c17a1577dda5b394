// Package memory is a process-local store for development and tests. A transaction
// holds the store mutex until it ends, so writers of any record are fully serialized.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/domain/ports/repository"
)

var (
	_ repository.EntitlementRepository = (*Store)(nil)
	_ repository.EventLedger           = (*Store)(nil)
	_ repository.TransactionManager    = (*Store)(nil)
)

type entKey struct {
	user  string
	track model.Track
}

type state struct {
	ents   map[entKey]*model.Entitlement
	ledger map[string]model.AppliedEvent
}

func (s *state) clone() *state {
	cp := &state{
		ents:   make(map[entKey]*model.Entitlement, len(s.ents)),
		ledger: make(map[string]model.AppliedEvent, len(s.ledger)),
	}
	for k, v := range s.ents {
		cp.ents[k] = v.Clone()
	}
	for k, v := range s.ledger {
		cp.ledger[k] = v
	}
	return cp
}

// memTx is the working copy a transaction mutates; it replaces the committed state on success.
type memTx struct {
	st   *state
	done bool
}

type Store struct {
	mu sync.Mutex
	st *state
}

func NewStore() *Store {
	return &Store{st: &state{
		ents:   map[entKey]*model.Entitlement{},
		ledger: map[string]model.AppliedEvent{},
	}}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.st.clone()}
	defer func() { tx.done = true }()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

// run executes f against the transaction state, or against the committed state under
// the mutex when tx is nil.
func (s *Store) run(tx repository.Tx, f func(st *state) error) error {
	if tx == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return f(s.st)
	}
	t, ok := tx.(*memTx)
	if !ok || t.done {
		return domain.ErrInvalidExecContext
	}
	return f(t.st)
}

// ---- entitlements ----

func (s *Store) Get(ctx context.Context, tx repository.Tx, userID string, track model.Track) (*model.Entitlement, error) {
	var out *model.Entitlement
	err := s.run(tx, func(st *state) error {
		e, ok := st.ents[entKey{userID, track}]
		if !ok {
			return domain.ErrNotFound
		}
		out = e.Clone()
		return nil
	})
	return out, err
}

// GetForUpdate is Get: the transaction already holds the store lock.
func (s *Store) GetForUpdate(ctx context.Context, tx repository.Tx, userID string, track model.Track) (*model.Entitlement, error) {
	return s.Get(ctx, tx, userID, track)
}

func (s *Store) FindBySubscriptionRef(ctx context.Context, tx repository.Tx, subscriptionRef string) (*model.Entitlement, error) {
	var out *model.Entitlement
	err := s.run(tx, func(st *state) error {
		for _, e := range st.ents {
			if subscriptionRef != "" && e.ProviderSubscriptionRef == subscriptionRef {
				out = e.Clone()
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (s *Store) FindByCustomerRef(ctx context.Context, tx repository.Tx, customerRef string) ([]*model.Entitlement, error) {
	var out []*model.Entitlement
	err := s.run(tx, func(st *state) error {
		for _, e := range st.ents {
			if customerRef != "" && e.ProviderCustomerRef == customerRef {
				out = append(out, e.Clone())
			}
		}
		return nil
	})
	sortRows(out)
	return out, err
}

func (s *Store) Save(ctx context.Context, tx repository.Tx, e *model.Entitlement) error {
	if e == nil || e.UserID == "" || e.Track == "" {
		return domain.ErrInvalidArgument
	}
	return s.run(tx, func(st *state) error {
		cp := e.Clone()
		if prev, ok := st.ents[entKey{e.UserID, e.Track}]; ok {
			cp.CreatedAt = prev.CreatedAt
		}
		st.ents[entKey{e.UserID, e.Track}] = cp
		return nil
	})
}

func (s *Store) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error) {
	var out []*model.Entitlement
	err := s.run(tx, func(st *state) error {
		for k, e := range st.ents {
			if k.user == userID {
				out = append(out, e.Clone())
			}
		}
		return nil
	})
	sortRows(out)
	return out, err
}

func sortRows(rows []*model.Entitlement) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UserID != rows[j].UserID {
			return rows[i].UserID < rows[j].UserID
		}
		return rows[i].Track < rows[j].Track
	})
}

// ---- ledger ----

func (s *Store) HasApplied(ctx context.Context, tx repository.Tx, eventID string) (bool, error) {
	var seen bool
	err := s.run(tx, func(st *state) error {
		_, seen = st.ledger[eventID]
		return nil
	})
	return seen, err
}

func (s *Store) MarkApplied(ctx context.Context, tx repository.Tx, ev *model.AppliedEvent) error {
	if ev == nil || ev.EventID == "" {
		return domain.ErrInvalidArgument
	}
	return s.run(tx, func(st *state) error {
		if _, ok := st.ledger[ev.EventID]; ok {
			return fmt.Errorf("event %s: %w", ev.EventID, domain.ErrAlreadyApplied)
		}
		st.ledger[ev.EventID] = *ev
		return nil
	})
}

func (s *Store) PruneBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) (int64, error) {
	var n int64
	err := s.run(tx, func(st *state) error {
		for id, ev := range st.ledger {
			if ev.AppliedAt.Before(cutoff) {
				delete(st.ledger, id)
				n++
			}
		}
		return nil
	})
	return n, err
}
