package testutil

import (
	"slices"
	"sync"

	"github.com/roach88/statestore/internal/stream"
)

// Recorder collects every value a stream emits, plus its terminal event.
//
// Thread-safety: Values may be emitted from any goroutine.
type Recorder[T any] struct {
	mu        sync.Mutex
	values    []T
	err       error
	completed bool
	sub       stream.Subscription
}

type subscribable[T any] interface {
	Subscribe(stream.Observer[T]) stream.Subscription
}

// Record subscribes a new Recorder to src.
func Record[T any](src subscribable[T]) *Recorder[T] {
	r := &Recorder[T]{}
	r.sub = src.Subscribe(stream.Observer[T]{
		Next: func(v T) {
			r.mu.Lock()
			r.values = append(r.values, v)
			r.mu.Unlock()
		},
		Error: func(err error) {
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
		},
		Complete: func() {
			r.mu.Lock()
			r.completed = true
			r.mu.Unlock()
		},
	})
	return r
}

// Values returns a copy of everything recorded so far.
func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.values)
}

// Len returns the number of recorded values.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Err returns the error the stream terminated with, if any.
func (r *Recorder[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Completed reports whether the stream completed.
func (r *Recorder[T]) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Stop unsubscribes. Values already recorded are kept.
func (r *Recorder[T]) Stop() {
	r.sub.Unsubscribe()
}
