package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statestore/internal/action"
	"github.com/roach88/statestore/internal/dependency"
	"github.com/roach88/statestore/internal/reducer"
	"github.com/roach88/statestore/internal/tree"
)

func TestLoadModule_SetsInitialSliceAndMergesDependencies(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(t, Module{Reducer: counterReducer()}, WithMiddleware(rec.middleware))
	ctx := context.Background()

	feature := Module{Slice: "x", Reducer: logReducer(), Dependencies: map[string]any{"d": 1}}
	require.NoError(t, s.LoadModule(ctx, feature))

	assert.Equal(t, []any{}, s.GetState(tree.Key("x")))
	assert.Equal(t, 1, dependency.Get(s.Dependencies(), "d"))
	assert.Equal(t, []string{MainSlice, "x"}, s.Slices())
	assert.Equal(t, []string{
		action.InitializeState,
		action.StoreInitialized,
		action.UpdateState,
		action.ModuleLoaded,
	}, rec.Types())

	require.NoError(t, s.Dispatch(ctx, action.New("log", "hi")))
	assert.Equal(t, []any{"hi"}, s.GetState(tree.Key("x")))
	assert.False(t, s.Lock().Held())
}

func TestLoadModule_DuplicateIsNoop(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(t, Module{Reducer: counterReducer()}, WithMiddleware(rec.middleware))
	ctx := context.Background()

	feature := Module{Slice: "x", Reducer: logReducer()}
	require.NoError(t, s.LoadModule(ctx, feature))
	require.NoError(t, s.Dispatch(ctx, action.New("log", "kept")))
	n := len(rec.Types())

	require.NoError(t, s.LoadModule(ctx, feature))
	assert.Len(t, rec.Types(), n, "no notifications for a duplicate load")
	assert.Equal(t, []any{"kept"}, s.GetState(tree.Key("x")))
}

func TestLoadModule_KeepsExistingSliceState(t *testing.T) {
	s := newTestStore(t, Module{Reducer: counterReducer()},
		WithPreloadedState(map[string]any{"x": []any{"restored"}}))

	require.NoError(t, s.LoadModule(context.Background(), Module{Slice: "x", Reducer: logReducer()}))
	assert.Equal(t, []any{"restored"}, s.GetState(tree.Key("x")))
}

func TestLoadModule_Invalid(t *testing.T) {
	s := newTestStore(t, Module{Reducer: counterReducer()})
	ctx := context.Background()

	assert.True(t, IsInvalidModule(s.LoadModule(ctx, Module{Reducer: counterReducer()})))
	assert.True(t, IsInvalidModule(s.LoadModule(ctx, Module{Slice: MainSlice, Reducer: counterReducer()})))
	assert.True(t, IsInvalidModule(s.LoadModule(ctx, Module{Slice: "y"})))
	assert.True(t, IsInvalidModule(s.LoadModule(ctx, Module{Slice: "z", Reducers: reducer.Tree{"bad": "x"}})))
	assert.Equal(t, []string{MainSlice}, s.Slices())
}

func TestLoadModule_MainSliceCollision(t *testing.T) {
	s := newTestStore(t, Module{Slice: "app", Reducer: counterReducer()})
	require.NoError(t, s.LoadModule(context.Background(), Module{Slice: "app", Reducer: logReducer()}))
	assert.Equal(t, []string{"app"}, s.Slices(), "main slice already present")
	assert.Equal(t, 0, s.GetState(tree.Key("app")))
}

func TestLoadModule_DependencyConflictKeepsFirst(t *testing.T) {
	var logs bytes.Buffer
	s := newTestStore(t, Module{
		Reducer:      counterReducer(),
		Dependencies: map[string]any{"api": map[string]any{"base": "first"}},
	}, WithLogger(testLogger(&logs)))

	require.NoError(t, s.LoadModule(context.Background(), Module{
		Slice:        "x",
		Reducer:      logReducer(),
		Dependencies: map[string]any{"api": map[string]any{"base": "second", "retries": 3}},
	}))

	assert.Equal(t, "first", dependency.Get(s.Dependencies(), "api", "base"))
	assert.Equal(t, 3, dependency.Get(s.Dependencies(), "api", "retries"))
	assert.Contains(t, logs.String(), "dependency conflict")
	assert.Contains(t, logs.String(), "key=api.base")
	assert.Contains(t, logs.String(), `msg="reducer tree built" leaves="[main x]" features=1`)
}

func TestUnloadModule_ClearState(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(t, Module{Reducer: counterReducer()}, WithMiddleware(rec.middleware))
	ctx := context.Background()
	feature := Module{Slice: "x", Reducer: logReducer(), Dependencies: map[string]any{"d": 1}}

	require.NoError(t, s.LoadModule(ctx, feature))
	require.NoError(t, s.UnloadModule(ctx, feature, true))

	assert.Nil(t, s.GetState(tree.Key("x")))
	assert.Nil(t, dependency.Get(s.Dependencies(), "d"))
	assert.Equal(t, []string{MainSlice}, s.Slices())
	assert.Equal(t, action.ModuleUnloaded, rec.Types()[len(rec.Types())-1])
}

func TestUnloadModule_KeepState(t *testing.T) {
	s := newTestStore(t, Module{Reducer: counterReducer()})
	ctx := context.Background()
	feature := Module{Slice: "x", Reducer: logReducer()}

	require.NoError(t, s.LoadModule(ctx, feature))
	require.NoError(t, s.Dispatch(ctx, action.New("log", "a")))
	require.NoError(t, s.UnloadModule(ctx, feature, false))
	require.NoError(t, s.Dispatch(ctx, action.New("log", "b")))

	assert.Equal(t, []any{"a"}, s.GetState(tree.Key("x")), "slice kept but no longer reduced")
}

func TestUnloadModule_AbsentIsNoop(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(t, Module{Reducer: counterReducer()}, WithMiddleware(rec.middleware))
	n := len(rec.Types())

	require.NoError(t, s.UnloadModule(context.Background(), Module{Slice: "ghost"}, true))
	require.NoError(t, s.UnloadModule(context.Background(), Module{Slice: MainSlice}, true))
	assert.Len(t, rec.Types(), n)
	assert.Equal(t, 0, s.GetState(tree.Key(MainSlice)), "main module cannot be unloaded")
}

func TestModule_MetaReducers(t *testing.T) {
	var mainSeen, featureSeen []string
	spy := func(into *[]string) reducer.MetaReducer {
		return func(next reducer.Reducer) (reducer.Reducer, error) {
			return func(ctx context.Context, state any, a action.Action) (any, error) {
				*into = append(*into, a.Type)
				return next(ctx, state, a)
			}, nil
		}
	}

	s := newTestStore(t, Module{
		Reducer:      counterReducer(),
		MetaReducers: []reducer.MetaReducer{spy(&mainSeen)},
	})
	ctx := context.Background()
	require.NoError(t, s.LoadModule(ctx, Module{
		Slice:        "x",
		Reducer:      logReducer(),
		MetaReducers: []reducer.MetaReducer{spy(&featureSeen)},
	}))
	mainSeen, featureSeen = nil, nil

	require.NoError(t, s.Dispatch(ctx, action.New("log", 1)))
	assert.Equal(t, []string{"log"}, mainSeen, "main metas wrap the root reducer")
	assert.Equal(t, []string{"log"}, featureSeen, "feature metas wrap the slice reducer")

	require.NoError(t, s.UnloadModule(ctx, Module{Slice: "x"}, true))
	mainSeen, featureSeen = nil, nil
	require.NoError(t, s.Dispatch(ctx, action.New("inc", nil)))
	assert.Equal(t, []string{"inc"}, mainSeen)
	assert.Empty(t, featureSeen)
}

func TestModule_NestedReducerTree(t *testing.T) {
	s := newTestStore(t, Module{Reducer: counterReducer()})
	ctx := context.Background()

	require.NoError(t, s.LoadModule(ctx, Module{
		Slice: "todos",
		Reducers: reducer.Tree{
			"items": logReducer(),
			"stats": reducer.Tree{"count": counterReducer()},
		},
	}))
	require.NoError(t, s.Dispatch(ctx, action.New("log", "milk")))
	require.NoError(t, s.Dispatch(ctx, action.New("inc", nil)))

	assert.Equal(t, map[string]any{
		"items": []any{"milk"},
		"stats": map[string]any{"count": 1},
	}, s.GetState(tree.Key("todos")))
	assert.Equal(t, 1, s.GetState(tree.Key(MainSlice)))
}
