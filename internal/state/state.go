// Package state implements the state container: the single owner of the
// state tree, its path-scoped writes and the replay-latest stream the tree is
// published on.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/statestore/internal/stream"
	"github.com/roach88/statestore/internal/tracker"
	"github.com/roach88/statestore/internal/tree"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("state: container closed")

// Option configures a Container.
type Option func(*Container)

// WithTracker makes every publish wait for the tracker's handles to settle.
func WithTracker(t *tracker.Tracker) Option {
	return func(c *Container) {
		c.tracker = t
	}
}

// WithInitial seeds the tree. The seed is published to the first subscriber.
func WithInitial(v any) Option {
	return func(c *Container) {
		c.value = v
	}
}

// Container holds the state tree. Writes are serialized by a writer mutex;
// reads never wait on a writer and return snapshots of an immutable tree.
type Container struct {
	// mu serializes writers. Publishing and the propagation wait happen
	// while it is held so subscribers observe trees in write order.
	mu      sync.Mutex
	value   any
	closed  bool
	stream  *stream.BehaviorSubject[any]
	tracker *tracker.Tracker

	// read guards value for readers, which never take mu.
	read sync.RWMutex
}

// New creates a container. Without WithInitial the tree starts nil and
// nothing is replayed until the first write.
func New(opts ...Option) *Container {
	c := &Container{}
	for _, opt := range opts {
		opt(c)
	}
	if c.value != nil {
		c.stream = stream.NewBehaviorSubject[any](c.value)
	} else {
		c.stream = stream.NewReplayLatest[any]()
	}
	return c
}

// Get reads the tree at p: Wildcard returns the whole tree, a single key the
// slice, a longer path walks and returns nil on a missing intermediate.
func (c *Container) Get(p tree.Path) any {
	c.read.RLock()
	root := c.value
	c.read.RUnlock()
	return tree.Get(root, p)
}

// Set writes value at p and publishes the new tree.
//
// Wildcard replaces the whole tree with a shallow copy of value; a single key
// replaces that slice with a shallow copy of value; deeper paths copy only
// the ancestors of p. When a tracker is configured Set then waits for every
// tracked subscriber to settle, returning a wrapped
// tracker.ErrPropagationTimeout on timeout. The tree is already updated in
// that case.
func (c *Container) Set(ctx context.Context, p tree.Path, value any) error {
	return c.Update(ctx, func(cur any) (any, error) {
		switch {
		case p.IsWildcard():
			return tree.ShallowCopy(value), nil
		case len(p) == 1:
			return tree.SetIn(cur, p, tree.ShallowCopy(value))
		default:
			return tree.SetIn(cur, p, value)
		}
	})
}

// Delete removes the top-level slice key and publishes the new tree. A
// missing key publishes nothing.
func (c *Container) Delete(ctx context.Context, key string) error {
	return c.Update(ctx, func(cur any) (any, error) {
		return tree.DeleteIn(cur, tree.Key(key))
	})
}

// Update computes the next tree from the current one under the writer mutex
// and publishes it if it changed. It is the atomic read-reduce-write used by
// the dispatch pipeline. fn must not call back into the container.
//
// With a tracker configured, the wave is reset before the publish and
// awaited before the writer mutex is released, so waves never overlap.
func (c *Container) Update(ctx context.Context, fn func(cur any) (any, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	cur := c.value
	next, err := fn(cur)
	if err != nil {
		return err
	}
	if tree.Same(cur, next) && c.hasPublished() {
		return nil
	}

	c.read.Lock()
	c.value = next
	c.read.Unlock()

	if c.tracker != nil {
		c.tracker.Reset()
	}
	c.stream.Next(next)
	return c.awaitLocked(ctx)
}

// hasPublished reports whether the stream holds a value. The very first write
// always publishes, even when it equals the seed.
func (c *Container) hasPublished() bool {
	_, ok := c.stream.Value()
	return ok
}

func (c *Container) awaitLocked(ctx context.Context) error {
	if c.tracker == nil {
		return nil
	}
	if err := c.tracker.AllExecuted(ctx); err != nil {
		return fmt.Errorf("state: publish: %w", err)
	}
	return nil
}

// Subscribe observes every published tree, starting with the current one if
// any. Observers run on the writer's goroutine with the writer mutex held and
// must not write to the container synchronously.
func (c *Container) Subscribe(obs stream.Observer[any]) stream.Subscription {
	return c.stream.Subscribe(obs)
}

// Stream exposes the replay-latest stream.
func (c *Container) Stream() *stream.BehaviorSubject[any] {
	return c.stream
}

// Tracker returns the configured tracker, or nil.
func (c *Container) Tracker() *tracker.Tracker {
	return c.tracker
}

// Close completes the stream. Later writes fail with ErrClosed.
func (c *Container) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.stream.Complete()
}
