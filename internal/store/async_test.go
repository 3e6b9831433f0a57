package store

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/statestore/internal/action"
	"github.com/roach88/statestore/internal/dependency"
	"github.com/roach88/statestore/internal/execstack"
	"github.com/roach88/statestore/internal/tree"
)

func asyncFn(fn func(ctx context.Context, dispatch action.DispatchFunc, getState action.GetStateFunc, deps dependency.Node) error) action.AsyncAction {
	return fn
}

func TestAsync_SubDispatchUnderExclusive(t *testing.T) {
	main := mainModule()
	main.Dependencies = map[string]any{"api": map[string]any{"base": "http://svc"}}

	var s *Store
	var depth []int
	var parents []*execstack.Instruction
	probe := func(API) func(next Dispatch) Dispatch {
		return func(next Dispatch) Dispatch {
			return func(ctx context.Context, v any) error {
				if v.(action.Action).Type == "log" {
					depth = append(depth, s.Stack().Len())
					parents = append(parents, InstructionFrom(ctx).Context.(*execstack.Instruction))
				}
				return next(ctx, v)
			}
		}
	}
	s = newTestStore(t, main, WithMiddleware(probe))
	ctx := context.Background()

	fetch := asyncFn(func(ctx context.Context, dispatch action.DispatchFunc, getState action.GetStateFunc, deps dependency.Node) error {
		if err := dispatch(ctx, action.New("log", dependency.Get(deps, "api", "base"))); err != nil {
			return err
		}
		if err := dispatch(ctx, action.New("inc", nil)); err != nil {
			return err
		}
		return dispatch(ctx, action.New("log", getState(tree.P("main", "counter"))))
	})
	require.NoError(t, s.Dispatch(ctx, fetch))

	assert.Equal(t, []any{"http://svc", 1}, s.GetState(tree.P("main", "log")))
	assert.Equal(t, []int{2, 2}, depth, "async instruction plus the sub-dispatch")
	require.Len(t, parents, 2)
	assert.Equal(t, execstack.KindAsyncAction, parents[0].Kind)
	assert.Same(t, parents[0], parents[1])
	assert.False(t, s.Lock().Held())
	assert.Equal(t, 0, s.Stack().Len())
}

func TestAsync_NestedChains(t *testing.T) {
	s := newTestStore(t, mainModule())
	ctx := context.Background()

	var maxDepth int
	inner := asyncFn(func(ctx context.Context, dispatch action.DispatchFunc, _ action.GetStateFunc, _ dependency.Node) error {
		maxDepth = s.Stack().Len()
		return dispatch(ctx, action.New("log", "inner"))
	})
	outer := asyncFn(func(ctx context.Context, dispatch action.DispatchFunc, _ action.GetStateFunc, _ dependency.Node) error {
		if err := dispatch(ctx, action.New("log", "outer")); err != nil {
			return err
		}
		return dispatch(ctx, inner)
	})

	require.NoError(t, s.Dispatch(ctx, outer))
	assert.Equal(t, []any{"outer", "inner"}, s.GetState(tree.P("main", "log")))
	assert.Equal(t, 2, maxDepth)
}

func TestAsync_ReadSafeAndLoadModuleInsideAction(t *testing.T) {
	s := newTestStore(t, mainModule())
	ctx := context.Background()

	var read any
	act := asyncFn(func(ctx context.Context, dispatch action.DispatchFunc, _ action.GetStateFunc, _ dependency.Node) error {
		if err := s.ReadSafe(ctx, tree.P("main", "counter"), func(v any) { read = v }); err != nil {
			return err
		}
		return s.LoadModule(ctx, Module{Slice: "lazy", Reducer: counterReducer()})
	})

	require.NoError(t, s.Dispatch(ctx, act), "nested lock prevents self-deadlock")
	assert.Equal(t, 0, read)
	assert.Equal(t, 0, s.GetState(tree.Key("lazy")))
}

func TestAsync_Errors(t *testing.T) {
	s := newTestStore(t, mainModule())
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Dispatch(ctx, asyncFn(func(context.Context, action.DispatchFunc, action.GetStateFunc, dependency.Node) error {
		return boom
	}))
	assert.True(t, IsAsyncFailed(err))
	assert.ErrorIs(t, err, boom)

	err = s.Dispatch(ctx, asyncFn(func(context.Context, action.DispatchFunc, action.GetStateFunc, dependency.Node) error {
		panic("async panic")
	}))
	assert.True(t, IsAsyncFailed(err))
	assert.Contains(t, err.Error(), "async panic")

	assert.False(t, s.Lock().Held())
	assert.Equal(t, 0, s.Stack().Len())
}

func TestAsync_ConcurrentSubDispatchesKeepParentOrder(t *testing.T) {
	main := mainModule()
	main.Strategy = Concurrent
	s := newTestStore(t, main)
	ctx := context.Background()

	emit := func(prefix string) action.AsyncAction {
		return asyncFn(func(ctx context.Context, dispatch action.DispatchFunc, _ action.GetStateFunc, _ dependency.Node) error {
			for i := range 3 {
				if err := dispatch(ctx, action.New("log", prefix+string(rune('0'+i)))); err != nil {
					return err
				}
			}
			return nil
		})
	}

	var g errgroup.Group
	g.Go(func() error { return s.Dispatch(ctx, emit("a")) })
	g.Go(func() error { return s.Dispatch(ctx, emit("b")) })
	require.NoError(t, g.Wait())
	require.NoError(t, s.Drain(ctx))

	log := s.GetState(tree.P("main", "log")).([]any)
	require.Len(t, log, 6)
	order := func(prefix string) []any {
		var out []any
		for _, v := range log {
			if v.(string)[:1] == prefix {
				out = append(out, v)
			}
		}
		return out
	}
	assert.Equal(t, []any{"a0", "a1", "a2"}, order("a"))
	assert.Equal(t, []any{"b0", "b1", "b2"}, order("b"))
}

func TestAsync_ExclusiveSerializesWholeChains(t *testing.T) {
	s := newTestStore(t, mainModule())
	ctx := context.Background()

	var mu sync.Mutex
	var running, maxRunning int
	chainAction := func(tag string) action.AsyncAction {
		return asyncFn(func(ctx context.Context, dispatch action.DispatchFunc, _ action.GetStateFunc, _ dependency.Node) error {
			mu.Lock()
			running++
			maxRunning = max(maxRunning, running)
			mu.Unlock()
			defer func() {
				mu.Lock()
				running--
				mu.Unlock()
			}()
			if err := dispatch(ctx, action.New("log", tag+"1")); err != nil {
				return err
			}
			return dispatch(ctx, action.New("log", tag+"2"))
		})
	}

	var g errgroup.Group
	for _, tag := range []string{"a", "b", "c"} {
		g.Go(func() error { return s.Dispatch(ctx, chainAction(tag)) })
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, maxRunning)
	log := s.GetState(tree.P("main", "log")).([]any)
	require.Len(t, log, 6)
	for i := 0; i < 6; i += 2 {
		first, second := log[i].(string), log[i+1].(string)
		assert.Equal(t, first[:1], second[:1], "chains never interleave")
		assert.True(t, slices.Contains([]string{"a1", "b1", "c1"}, first))
	}
}
