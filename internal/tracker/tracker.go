// Package tracker implements the completion tracker: a registry of
// subscription handles, each with a settled flag, that lets the dispatch
// pipeline wait until every subscriber has processed a published state.
//
// It is a best-effort, timeout-bounded wait, not a strict barrier. A handle
// tracked after Reset but before the previous wave settles can race.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/statestore/internal/stream"
)

// DefaultTimeout bounds AllExecuted when no timeout is configured.
const DefaultTimeout = 30 * time.Millisecond

// ErrPropagationTimeout is returned when tracked handles do not settle in time.
var ErrPropagationTimeout = errors.New("tracker: propagation timeout")

// Handle identifies a tracked subscription. Handles must be comparable;
// pointers are the usual choice.
type Handle any

// Option configures a Tracker.
type Option func(*Tracker)

// WithTimeout sets how long AllExecuted waits. Non-positive values keep the
// default.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// Tracker maps handles to settled flags. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	status  map[Handle]bool
	timeout time.Duration
	// settled emits after every status change that leaves all handles settled.
	settled *stream.Subject[struct{}]
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		status:  make(map[Handle]bool),
		timeout: DefaultTimeout,
		settled: stream.NewSubject[struct{}](),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Timeout returns the configured AllExecuted bound.
func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

// Track registers h as unsettled. Tracking a known handle resets it.
func (t *Tracker) Track(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status[h] = false
}

// SetStatus records whether h has processed the current wave. Unknown
// handles are ignored.
func (t *Tracker) SetStatus(h Handle, settled bool) {
	t.mu.Lock()
	if _, ok := t.status[h]; !ok {
		t.mu.Unlock()
		return
	}
	t.status[h] = settled
	all := t.allSettledLocked()
	t.mu.Unlock()

	if all {
		t.settled.Next(struct{}{})
	}
}

// Complete unregisters h. A completed handle never holds up AllExecuted.
func (t *Tracker) Complete(h Handle) {
	t.mu.Lock()
	if _, ok := t.status[h]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.status, h)
	all := t.allSettledLocked()
	t.mu.Unlock()

	if all {
		t.settled.Next(struct{}{})
	}
}

// Reset marks every tracked handle unsettled for the next wave.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for h := range t.status {
		t.status[h] = false
	}
}

// Len returns the number of tracked handles.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.status)
}

// Settled reports whether h is tracked and settled.
func (t *Tracker) Settled(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status[h]
}

func (t *Tracker) allSettledLocked() bool {
	for _, ok := range t.status {
		if !ok {
			return false
		}
	}
	return true
}

// AllExecuted returns nil once every tracked handle is settled, immediately
// when nothing is tracked. It returns ErrPropagationTimeout (wrapped) if the
// configured timeout elapses first, or ctx.Err() if ctx ends first.
func (t *Tracker) AllExecuted(ctx context.Context) error {
	done := make(chan struct{}, 1)
	sub := t.settled.Subscribe(stream.Observer[struct{}]{
		Next: func(struct{}) {
			select {
			case done <- struct{}{}:
			default:
			}
		},
	})
	defer sub.Unsubscribe()

	// Checked after subscribing so a wave settling in between is not missed.
	t.mu.Lock()
	all := t.allSettledLocked()
	pending := len(t.status)
	t.mu.Unlock()
	if all {
		return nil
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s (%d handles tracked)", ErrPropagationTimeout, t.timeout, pending)
	case <-ctx.Done():
		return ctx.Err()
	}
}
