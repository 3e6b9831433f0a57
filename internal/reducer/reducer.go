// Package reducer composes nested reducer trees into a single root reducer
// and applies meta-reducers around it.
//
// A combined reducer never lets one failing slice reducer poison the rest:
// errors and panics are logged with the slice path and action type, and that
// slice keeps its previous value for the action.
package reducer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/statestore/internal/action"
	"github.com/roach88/statestore/internal/tree"
)

// ErrInvalidTree is returned by Combine when a tree node is neither a
// reducer nor a nested tree.
var ErrInvalidTree = errors.New("reducer: invalid reducer tree")

// Reducer computes the next state of one slice. Returning the same value
// (see tree.Same) means no change.
type Reducer func(ctx context.Context, state any, a action.Action) (any, error)

// Tree is a nested reducer declaration. Leaves are Reducer values (or funcs
// with the same signature); inner nodes are Tree or map[string]any.
type Tree map[string]any

// MetaReducer wraps a reducer, typically to observe or rewrite actions.
type MetaReducer func(Reducer) (Reducer, error)

type leaf struct {
	path string
	segs tree.Path
	fn   Reducer
}

// Combined is the flattened form of a Tree.
type Combined struct {
	leaves []leaf
	logger *slog.Logger
}

// Option configures Combine.
type Option func(*Combined)

// WithLogger routes reducer failure logs to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Combined) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Combine flattens t depth first. Sibling keys are visited in sorted order,
// which is also the order leaves run in for every action.
func Combine(t Tree, opts ...Option) (*Combined, error) {
	c := &Combined{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.flatten(map[string]any(t), nil); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Combined) flatten(node map[string]any, prefix tree.Path) error {
	for _, k := range slices.Sorted(maps.Keys(node)) {
		segs := append(slices.Clone(prefix), k)
		switch v := node[k].(type) {
		case Reducer:
			if v == nil {
				return fmt.Errorf("%w: nil reducer at %s", ErrInvalidTree, segs)
			}
			c.leaves = append(c.leaves, leaf{path: segs.String(), segs: segs, fn: v})
		case func(context.Context, any, action.Action) (any, error):
			if v == nil {
				return fmt.Errorf("%w: nil reducer at %s", ErrInvalidTree, segs)
			}
			c.leaves = append(c.leaves, leaf{path: segs.String(), segs: segs, fn: Reducer(v)})
		case Tree:
			if err := c.flatten(map[string]any(v), segs); err != nil {
				return err
			}
		case map[string]any:
			if err := c.flatten(v, segs); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %T at %s", ErrInvalidTree, v, segs)
		}
	}
	return nil
}

// Paths returns the dotted path of every leaf in execution order.
func (c *Combined) Paths() []string {
	out := make([]string, len(c.leaves))
	for i, l := range c.leaves {
		out[i] = l.path
	}
	return out
}

// InitialState calls every leaf with nil state and an Init action and
// assembles the results into a tree. A failing leaf leaves its path unset.
func (c *Combined) InitialState(ctx context.Context) any {
	init := action.New(action.Init, nil)
	var state any = map[string]any{}
	for _, l := range c.leaves {
		v, err := c.run(ctx, l, nil, init)
		if err != nil {
			continue
		}
		next, err := tree.SetIn(state, l.segs, v)
		if err != nil {
			c.logger.Warn("initial state not applied", "path", l.path, "error", err)
			continue
		}
		state = next
	}
	return state
}

// Reduce runs every leaf against its slice of state. A nil state yields
// the initial state. Slices whose reducer returned a different reference are
// written back with a path-scoped copy; untouched slices keep their identity.
func (c *Combined) Reduce(ctx context.Context, state any, a action.Action) (any, error) {
	if state == nil {
		return c.InitialState(ctx), nil
	}
	for _, l := range c.leaves {
		cur := tree.Get(state, l.segs)
		next, err := c.run(ctx, l, cur, a)
		if err != nil || tree.Same(cur, next) {
			continue
		}
		updated, err := tree.SetIn(state, l.segs, next)
		if err != nil {
			c.logger.Warn("reducer result not applied", "path", l.path, "action", a.Type, "error", err)
			continue
		}
		state = updated
	}
	return state, nil
}

// Reducer returns Reduce as a Reducer so it can be wrapped by meta-reducers.
func (c *Combined) Reducer() Reducer {
	return c.Reduce
}

// run calls one leaf, converting a panic into an error. Failures are logged
// here so callers only decide whether to skip.
func (c *Combined) run(ctx context.Context, l leaf, state any, a action.Action) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reducer panic: %v", r)
			c.logger.Error("reducer failed", "path", l.path, "action", a.Type, "error", err)
		}
	}()
	out, err = l.fn(ctx, state, a)
	if err != nil {
		c.logger.Error("reducer failed", "path", l.path, "action", a.Type, "error", err)
	}
	return out, err
}

// Apply wraps r with metas so that metas[0] is outermost. Each meta-reducer
// is applied at build time; one that errors, panics or returns nil is
// skipped with a warning and the rest still apply.
func Apply(r Reducer, metas ...MetaReducer) Reducer {
	return ApplyWithLogger(slog.Default(), r, metas...)
}

// ApplyWithLogger is Apply with an explicit logger.
func ApplyWithLogger(logger *slog.Logger, r Reducer, metas ...MetaReducer) Reducer {
	for i := len(metas) - 1; i >= 0; i-- {
		wrapped, err := wrap(metas[i], r)
		if err != nil {
			logger.Warn("meta-reducer skipped", "index", i, "error", err)
			continue
		}
		r = wrapped
	}
	return r
}

func wrap(meta MetaReducer, r Reducer) (out Reducer, err error) {
	if meta == nil {
		return nil, errors.New("nil meta-reducer")
	}
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("meta-reducer panic: %v", p)
		}
	}()
	out, err = meta(r)
	if err == nil && out == nil {
		err = errors.New("meta-reducer returned nil reducer")
	}
	return out, err
}

// Func adapts a pure function that cannot fail into a Reducer.
func Func(fn func(state any, a action.Action) any) Reducer {
	return func(_ context.Context, state any, a action.Action) (any, error) {
		return fn(state, a), nil
	}
}

// Describe renders the leaf paths for logs, e.g. "[counter todos.items]".
func (c *Combined) Describe() string {
	return "[" + strings.Join(c.Paths(), " ") + "]"
}
