package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statestore/internal/action"
	"github.com/roach88/statestore/internal/stream"
	"github.com/roach88/statestore/internal/tree"
)

func values[R any](sel *Selection[R]) *[]R {
	var got []R
	sel.Subscribe(stream.Observer[R]{Next: func(v R) { got = append(got, v) }})
	return &got
}

func TestSelect_DistinctUntilChanged(t *testing.T) {
	s := newTestStore(t, mainModule())
	ctx := context.Background()

	sel := Select(s, func(root any) int {
		n, _ := tree.Get(root, tree.P("main", "counter")).(int)
		return n
	})
	defer sel.Close()
	got := values(sel)

	require.NoError(t, s.Dispatch(ctx, action.New("inc", nil)))
	require.NoError(t, s.Dispatch(ctx, action.New("log", "unrelated")))
	require.NoError(t, s.Dispatch(ctx, action.New("inc", nil)))

	assert.Equal(t, []int{0, 1, 2}, *got)
}

func TestSelect_ValueFollowsPublishes(t *testing.T) {
	s := newTestStore(t, mainModule())

	sel := Select(s, func(root any) int {
		n, _ := tree.Get(root, tree.P("main", "counter")).(int)
		return n
	})
	defer sel.Close()

	v, ok := sel.Value()
	require.True(t, ok)
	assert.Equal(t, 0, v)

	require.NoError(t, s.Dispatch(context.Background(), action.New("inc", 3)))
	v, _ = sel.Value()
	assert.Equal(t, 3, v)
	assert.False(t, sel.Done())
}

func TestSelect_NilSuppressedWithoutDefault(t *testing.T) {
	s := newTestStore(t, mainModule())

	sel := Select(s, func(root any) any { return tree.Get(root, tree.P("main", "missing")) })
	defer sel.Close()
	got := values(sel)

	require.NoError(t, s.Dispatch(context.Background(), action.New("inc", nil)))
	assert.Empty(t, *got)
}

func TestSelect_DefaultReplacesNil(t *testing.T) {
	s := newTestStore(t, mainModule())

	sel := Select(s, func(root any) any { return tree.Get(root, tree.P("main", "missing")) },
		WithDefault[any]("none"))
	defer sel.Close()
	got := values(sel)

	require.NoError(t, s.Dispatch(context.Background(), action.New("inc", nil)))
	assert.Equal(t, []any{"none"}, *got)
}

func TestSelect_CustomEqual(t *testing.T) {
	s := newTestStore(t, mainModule())

	parity := Select(s, func(root any) int {
		n, _ := tree.Get(root, tree.P("main", "counter")).(int)
		return n
	}, WithEqual(func(a, b int) bool { return a%2 == b%2 }))
	defer parity.Close()
	got := values(parity)

	for range 3 {
		require.NoError(t, s.Dispatch(context.Background(), action.New("inc", 2)))
	}
	assert.Equal(t, []int{0}, *got, "even values only")
}

func TestSelect_PanickingSelectorIsSkipped(t *testing.T) {
	var logs bytes.Buffer
	s := newTestStore(t, mainModule(), WithLogger(testLogger(&logs)))

	sel := Select(s, func(root any) int {
		n := tree.Get(root, tree.P("main", "counter")).(int)
		if n == 1 {
			panic("one")
		}
		return n
	})
	defer sel.Close()
	got := values(sel)

	for range 2 {
		require.NoError(t, s.Dispatch(context.Background(), action.New("inc", nil)))
	}
	assert.Equal(t, []int{0, 2}, *got)
	assert.Contains(t, logs.String(), "selector panicked")
}

func TestSelect_TrackedByCompletionTracker(t *testing.T) {
	s := newTestStore(t, mainModule())

	sel := Select(s, func(root any) any { return root })
	assert.Equal(t, 1, s.tracker.Len())
	assert.True(t, s.tracker.Settled(sel), "initial replay settles the selection")

	require.NoError(t, s.Dispatch(context.Background(), action.New("inc", nil)))
	assert.True(t, s.tracker.Settled(sel))

	sel.Close()
	sel.Close()
	assert.Equal(t, 0, s.tracker.Len())
	assert.True(t, sel.Done())
}

func TestSelect_CompletesWithStore(t *testing.T) {
	s, err := New(context.Background(), mainModule())
	require.NoError(t, err)

	sel := Select(s, func(root any) any { return root })
	completed := false
	sel.Subscribe(stream.Observer[any]{Complete: func() { completed = true }})

	s.Close()
	assert.True(t, completed)
	assert.Equal(t, 0, s.tracker.Len())
}
