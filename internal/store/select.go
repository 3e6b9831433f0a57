package store

import (
	"reflect"
	"sync"

	"github.com/roach88/statestore/internal/stream"
	"github.com/roach88/statestore/internal/tracker"
)

// SelectOption configures Select.
type SelectOption[R any] func(*selectConfig[R])

type selectConfig[R any] struct {
	def        R
	hasDefault bool
	equal      func(a, b R) bool
}

// WithDefault emits v whenever the selector yields nil. Without a default,
// nil results are suppressed.
func WithDefault[R any](v R) SelectOption[R] {
	return func(c *selectConfig[R]) {
		c.def = v
		c.hasDefault = true
	}
}

// WithEqual replaces reflect.DeepEqual as the distinct-until-changed test.
func WithEqual[R any](eq func(a, b R) bool) SelectOption[R] {
	return func(c *selectConfig[R]) {
		if eq != nil {
			c.equal = eq
		}
	}
}

// Selection is a derived stream over the store's published trees. It
// replays its latest value to new subscribers. Only the store pushes into it.
type Selection[R any] struct {
	out *stream.BehaviorSubject[R]

	sub     stream.Subscription
	tracker *tracker.Tracker
	once    sync.Once
}

// Select derives a stream from every published tree. Repeats of the previous
// value are suppressed, as are nil results unless WithDefault is given. A
// selector that panics is logged and its value skipped.
//
// The selection registers with the completion tracker, so a dispatch waits
// until the selection has processed the tree it published.
func Select[R any](s *Store, selector func(state any) R, opts ...SelectOption[R]) *Selection[R] {
	cfg := selectConfig[R]{equal: func(a, b R) bool { return reflect.DeepEqual(a, b) }}
	for _, opt := range opts {
		opt(&cfg)
	}

	sel := &Selection[R]{
		out:     stream.NewReplayLatest[R](),
		tracker: s.tracker,
	}
	if sel.tracker != nil {
		sel.tracker.Track(sel)
	}

	derive := func(root any) (v R, ok bool) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("selector panicked", "error", p)
				ok = false
			}
		}()
		v = selector(root)
		if isNil(v) {
			if !cfg.hasDefault {
				return v, false
			}
			v = cfg.def
		}
		return v, true
	}

	sel.sub = s.state.Subscribe(stream.Observer[any]{
		Next: func(root any) {
			defer sel.settle()
			v, ok := derive(root)
			if !ok {
				return
			}
			if prev, has := sel.out.Value(); has && cfg.equal(prev, v) {
				return
			}
			sel.out.Next(v)
		},
		Error: func(err error) {
			sel.untrack()
			sel.out.Error(err)
		},
		Complete: func() {
			sel.untrack()
			sel.out.Complete()
		},
	})
	return sel
}

func (sel *Selection[R]) settle() {
	if sel.tracker != nil {
		sel.tracker.SetStatus(sel, true)
	}
}

func (sel *Selection[R]) untrack() {
	if sel.tracker != nil {
		sel.tracker.Complete(sel)
	}
}

// Close detaches the selection from the store and completes it.
func (sel *Selection[R]) Close() {
	sel.once.Do(func() {
		if sel.sub != nil {
			sel.sub.Unsubscribe()
		}
		sel.untrack()
		sel.out.Complete()
	})
}

// Subscribe observes derived values, starting with the latest one.
func (sel *Selection[R]) Subscribe(obs stream.Observer[R]) stream.Subscription {
	return sel.out.Subscribe(obs)
}

// Value returns the latest derived value and whether one exists.
func (sel *Selection[R]) Value() (R, bool) {
	return sel.out.Value()
}

// Done reports whether the selection has completed.
func (sel *Selection[R]) Done() bool {
	return sel.out.Done()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
