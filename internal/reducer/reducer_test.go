package reducer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statestore/internal/action"
	"github.com/roach88/statestore/internal/tree"
)

func counter() Reducer {
	return Func(func(state any, a action.Action) any {
		n, _ := state.(int)
		switch a.Type {
		case action.Init:
			return 0
		case "inc":
			return n + 1
		}
		return state
	})
}

func items() Reducer {
	return Func(func(state any, a action.Action) any {
		if a.Type == action.Init {
			return []any{}
		}
		if a.Type == "add" {
			list, _ := state.([]any)
			return append(append([]any{}, list...), a.Payload)
		}
		return state
	})
}

func failing(msg string) Reducer {
	return func(_ context.Context, state any, a action.Action) (any, error) {
		if a.Type == action.Init {
			return "ok", nil
		}
		return nil, errors.New(msg)
	}
}

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func TestCombine_FlattensInSortedOrder(t *testing.T) {
	c, err := Combine(Tree{
		"todos": Tree{
			"items":  items(),
			"filter": counter(),
		},
		"counter": counter(),
		"nested":  map[string]any{"deep": Tree{"x": counter()}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"counter", "nested.deep.x", "todos.filter", "todos.items"}, c.Paths())
	assert.Equal(t, "[counter nested.deep.x todos.filter todos.items]", c.Describe())
}

func TestCombine_RejectsInvalidNodes(t *testing.T) {
	_, err := Combine(Tree{"bad": 42})
	assert.ErrorIs(t, err, ErrInvalidTree)

	_, err = Combine(Tree{"a": Tree{"b": "not a reducer"}})
	assert.ErrorIs(t, err, ErrInvalidTree)

	var nilReducer Reducer
	_, err = Combine(Tree{"nil": nilReducer})
	assert.ErrorIs(t, err, ErrInvalidTree)
}

func TestCombine_AcceptsPlainFuncLeaves(t *testing.T) {
	c, err := Combine(Tree{
		"plain": func(_ context.Context, state any, _ action.Action) (any, error) { return "v", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"plain": "v"}, c.InitialState(context.Background()))
}

func TestInitialState(t *testing.T) {
	c, err := Combine(Tree{
		"counter": counter(),
		"todos":   Tree{"items": items()},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"counter": 0,
		"todos":   map[string]any{"items": []any{}},
	}, c.InitialState(context.Background()))
}

func TestReduce_NilStateYieldsInitial(t *testing.T) {
	c, err := Combine(Tree{"counter": counter()})
	require.NoError(t, err)

	got, err := c.Reduce(context.Background(), nil, action.New("inc", nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"counter": 0}, got)
}

func TestReduce_PreservesUntouchedSlices(t *testing.T) {
	c, err := Combine(Tree{
		"counter": counter(),
		"todos":   Tree{"items": items()},
	})
	require.NoError(t, err)
	ctx := context.Background()

	s0 := c.InitialState(ctx)
	s1, err := c.Reduce(ctx, s0, action.New("add", "milk"))
	require.NoError(t, err)

	assert.Equal(t, []any{"milk"}, tree.Get(s1, tree.P("todos", "items")))
	assert.Equal(t, 0, tree.Get(s1, tree.Key("counter")))
	assert.Equal(t, []any{}, tree.Get(s0, tree.P("todos", "items")), "previous tree untouched")

	s2, err := c.Reduce(ctx, s1, action.New("noop", nil))
	require.NoError(t, err)
	assert.True(t, tree.Same(s1, s2), "no slice changed, same root")
}

func TestReduce_FailingReducerIsIsolated(t *testing.T) {
	var logs bytes.Buffer
	c, err := Combine(Tree{
		"broken":  failing("boom"),
		"counter": counter(),
		"panicky": Func(func(state any, a action.Action) any {
			if a.Type == "inc" {
				panic("kaboom")
			}
			return 1
		}),
	}, WithLogger(quietLogger(&logs)))
	require.NoError(t, err)
	ctx := context.Background()

	s0 := c.InitialState(ctx)
	s1, err := c.Reduce(ctx, s0, action.New("inc", nil))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"broken": "ok", "counter": 1, "panicky": 1}, s1)
	assert.Contains(t, logs.String(), "path=broken")
	assert.Contains(t, logs.String(), "path=panicky")
	assert.Contains(t, logs.String(), "action=inc")
}

func TestApply_OrderIsLeftOutermost(t *testing.T) {
	var calls []string
	tag := func(name string) MetaReducer {
		return func(next Reducer) (Reducer, error) {
			return func(ctx context.Context, state any, a action.Action) (any, error) {
				calls = append(calls, name)
				return next(ctx, state, a)
			}, nil
		}
	}

	r := Apply(counter(), tag("outer"), tag("inner"))
	got, err := r(context.Background(), 1, action.New("inc", nil))
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.Equal(t, []string{"outer", "inner"}, calls)
}

func TestApply_SkipsBrokenMetaReducers(t *testing.T) {
	var logs bytes.Buffer
	errMeta := func(Reducer) (Reducer, error) { return nil, errors.New("nope") }
	panicMeta := func(Reducer) (Reducer, error) { panic("bad meta") }
	nilMeta := func(Reducer) (Reducer, error) { return nil, nil }
	double := func(next Reducer) (Reducer, error) {
		return func(ctx context.Context, state any, a action.Action) (any, error) {
			v, err := next(ctx, state, a)
			if n, ok := v.(int); ok {
				return n * 2, err
			}
			return v, err
		}, nil
	}

	r := ApplyWithLogger(quietLogger(&logs), counter(), errMeta, double, panicMeta, nilMeta)
	got, err := r(context.Background(), 1, action.New("inc", nil))
	require.NoError(t, err)
	assert.Equal(t, 4, got)
	assert.Contains(t, logs.String(), "meta-reducer skipped")
}
