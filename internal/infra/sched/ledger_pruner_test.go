//go:build !integration

package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creator-billing/internal/infra/logging"
)

type fakeLedgerUC struct {
	calls     atomic.Int32
	retention atomic.Int64
	err       error
}

func (f *fakeLedgerUC) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	f.calls.Add(1)
	f.retention.Store(int64(retention))
	return 0, f.err
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	unlocked int
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return "", errors.New("held")
	}
	l.held = true
	return "tok", nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.unlocked++
	return nil
}

func TestLedgerPruner_RunsOnTickAndStops(t *testing.T) {
	uc := &fakeLedgerUC{}
	w := NewLedgerPruner(10*time.Millisecond, 72*time.Hour, uc, nil, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return uc.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pruner did not stop")
	}
	assert.Equal(t, int64(72*time.Hour), uc.retention.Load())
}

func TestLedgerPruner_SkipsWhenLockHeld(t *testing.T) {
	uc := &fakeLedgerUC{}
	locker := &fakeLocker{held: true}
	w := NewLedgerPruner(time.Minute, time.Hour, uc, locker, logging.Nop())

	w.runOnce(context.Background())
	assert.EqualValues(t, 0, uc.calls.Load())

	locker.held = false
	w.runOnce(context.Background())
	assert.EqualValues(t, 1, uc.calls.Load())
	assert.Equal(t, 1, locker.unlocked)
	assert.False(t, locker.held)
}

func TestLedgerPruner_ErrorsDoNotStopTheLoop(t *testing.T) {
	uc := &fakeLedgerUC{err: errors.New("db down")}
	w := NewLedgerPruner(5*time.Millisecond, time.Hour, uc, nil, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool { return uc.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}
