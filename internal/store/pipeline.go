package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/statestore/internal/action"
	"github.com/roach88/statestore/internal/dependency"
	"github.com/roach88/statestore/internal/execstack"
	"github.com/roach88/statestore/internal/lock"
	"github.com/roach88/statestore/internal/reducer"
)

// Dispatch sends a value through a pipeline.
type Dispatch = action.DispatchFunc

// API is the capability set handed to every middleware when the chain is
// built. Dependencies and Strategy are read at call time, so a middleware
// observes module loads and strategy changes without a rebuild.
type API struct {
	StoreID      string
	GetState     action.GetStateFunc
	Dispatch     Dispatch
	Dependencies func() dependency.Node
	Strategy     func() Strategy
	Lock         *lock.Lock
	Stack        *execstack.Stack
}

// Middleware wraps the next dispatch in the chain. User middleware runs
// after the starter middleware and only sees plain actions, already parsed
// into action.Action values.
type Middleware func(api API) func(next Dispatch) Dispatch

// Pipeline is the store's mutable processing record, rebuilt whenever
// modules are loaded or unloaded.
type Pipeline struct {
	Reducer      reducer.Reducer
	Dependencies dependency.Node
	Strategy     Strategy
}

// builder assembles pipelines from module lists.
type builder struct {
	logger *slog.Logger
}

// build combines the main module and every feature into one root reducer and
// merges their dependency trees in load order.
func (b *builder) build(main Module, features []Module, strategy Strategy) (Pipeline, error) {
	t := reducer.Tree{}
	if main.hasReducer() {
		r, err := b.sliceReducer(main, false)
		if err != nil {
			return Pipeline{}, err
		}
		t[main.Slice] = r
	}
	for _, f := range features {
		r, err := b.sliceReducer(f, true)
		if err != nil {
			return Pipeline{}, err
		}
		t[f.Slice] = r
	}

	c, err := reducer.Combine(t, reducer.WithLogger(b.logger))
	if err != nil {
		return Pipeline{}, fmt.Errorf("combine reducers: %w", err)
	}
	root := reducer.ApplyWithLogger(b.logger, c.Reducer(), main.MetaReducers...)
	b.logger.Debug("reducer tree built", "leaves", c.Describe(), "features", len(features))

	trees := []dependency.Node{dependency.FromValue(main.Dependencies)}
	for _, f := range features {
		trees = append(trees, dependency.FromValue(f.Dependencies))
	}
	deps, conflicts := dependency.Merge(trees...)
	for _, c := range conflicts {
		b.logger.Warn("dependency conflict, keeping first declaration", "key", c.String())
	}

	return Pipeline{Reducer: root, Dependencies: deps, Strategy: strategy}, nil
}

type nestedLockKey struct{}

type instructionKey struct{}

// withNestedLock marks ctx as running inside an async action whose
// sub-dispatches serialize on l instead of the shared lock.
func withNestedLock(ctx context.Context, l *lock.Lock) context.Context {
	return context.WithValue(ctx, nestedLockKey{}, l)
}

func nestedLock(ctx context.Context) *lock.Lock {
	l, _ := ctx.Value(nestedLockKey{}).(*lock.Lock)
	return l
}

func withInstruction(ctx context.Context, ins *execstack.Instruction) context.Context {
	return context.WithValue(ctx, instructionKey{}, ins)
}

// InstructionFrom returns the instruction being processed by the dispatch
// that produced ctx, or nil outside a dispatch.
func InstructionFrom(ctx context.Context) *execstack.Instruction {
	ins, _ := ctx.Value(instructionKey{}).(*execstack.Instruction)
	return ins
}

// chain right-folds middleware around raw so that mws[0] is outermost.
func chain(api API, raw Dispatch, mws []Middleware) Dispatch {
	d := raw
	for i := len(mws) - 1; i >= 0; i-- {
		d = mws[i](api)(d)
	}
	return d
}
