// Package lock provides the FIFO binary lock that serializes state mutation
// regions.
//
// Waiters are served strictly in arrival order. Release without a matching
// Acquire is a programming defect in the dispatch pipeline and panics.
package lock

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrNotHeld is the panic value for releasing an unheld lock.
var ErrNotHeld = errors.New("lock: release of unheld lock")

// Lock is a FIFO mutual-exclusion lock with context-aware acquisition.
// The zero value is not usable; use New.
type Lock struct {
	sem  *semaphore.Weighted
	held atomic.Bool
}

// New creates an unheld lock.
func New() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Acquire returns immediately when the lock is free, otherwise it queues
// behind earlier callers. If ctx ends while queued the caller leaves the
// queue and ctx.Err() is returned.
func (l *Lock) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.held.Store(true)
	return nil
}

// TryAcquire takes the lock only if it is free and nobody is queued.
func (l *Lock) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.held.Store(true)
	return true
}

// Release hands the lock to the next queued waiter, or frees it.
// Panics with ErrNotHeld if the lock is not held.
func (l *Lock) Release() {
	if !l.held.CompareAndSwap(true, false) {
		panic(ErrNotHeld)
	}
	l.sem.Release(1)
}

// Held reports whether the lock is currently held.
func (l *Lock) Held() bool {
	return l.held.Load()
}
