package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statestore/internal/stream"
	"github.com/roach88/statestore/internal/tracker"
	"github.com/roach88/statestore/internal/tree"
)

func seed() map[string]any {
	return map[string]any{
		"todos":   map[string]any{"items": []any{"a"}, "filter": "all"},
		"counter": 1,
	}
}

func collect(c *Container) *[]any {
	var got []any
	c.Subscribe(stream.Observer[any]{Next: func(v any) { got = append(got, v) }})
	return &got
}

func TestGet(t *testing.T) {
	c := New(WithInitial(seed()))

	assert.Equal(t, seed(), c.Get(tree.Wildcard))
	assert.Equal(t, 1, c.Get(tree.Key("counter")))
	assert.Equal(t, "all", c.Get(tree.P("todos", "filter")))
	assert.Nil(t, c.Get(tree.P("missing", "x")))
}

func TestGet_EmptyContainer(t *testing.T) {
	c := New()
	assert.Nil(t, c.Get(tree.Wildcard))
	assert.Nil(t, c.Get(tree.Key("x")))
}

func TestSet_DeepPathSharesSiblings(t *testing.T) {
	c := New(WithInitial(seed()))
	before := c.Get(tree.Wildcard).(map[string]any)

	require.NoError(t, c.Set(context.Background(), tree.P("todos", "filter"), "done"))

	after := c.Get(tree.Wildcard).(map[string]any)
	assert.Equal(t, "done", c.Get(tree.P("todos", "filter")))
	assert.True(t, tree.Same(before["counter"], after["counter"]))
	assert.True(t, tree.Same(tree.Get(before, tree.P("todos", "items")), tree.Get(after, tree.P("todos", "items"))))
	assert.Equal(t, "all", tree.Get(before, tree.P("todos", "filter")), "old snapshot untouched")
}

func TestSet_SingleKeyCopiesValue(t *testing.T) {
	c := New(WithInitial(seed()))
	slice := map[string]any{"on": true}

	require.NoError(t, c.Set(context.Background(), tree.Key("flags"), slice))

	got := c.Get(tree.Key("flags"))
	assert.Equal(t, slice, got)
	assert.False(t, tree.Same(slice, got), "slice is shallow-copied")
}

func TestSet_WildcardReplacesTree(t *testing.T) {
	c := New(WithInitial(seed()))
	next := map[string]any{"only": 1}

	require.NoError(t, c.Set(context.Background(), tree.Wildcard, next))
	assert.Equal(t, next, c.Get(tree.Wildcard))
	assert.False(t, tree.Same(next, c.Get(tree.Wildcard)))
}

func TestSet_PublishesOnlyOnChange(t *testing.T) {
	c := New()
	got := collect(c)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, tree.Key("n"), 1))
	require.NoError(t, c.Update(ctx, func(cur any) (any, error) { return cur, nil }))
	require.NoError(t, c.Set(ctx, tree.Key("n"), 2))

	require.Len(t, *got, 2)
	assert.Equal(t, map[string]any{"n": 2}, (*got)[1])
}

func TestSubscribe_ReplaysLatest(t *testing.T) {
	c := New(WithInitial(seed()))
	got := collect(c)
	require.Len(t, *got, 1)
	assert.Equal(t, seed(), (*got)[0])
}

func TestDelete(t *testing.T) {
	c := New(WithInitial(seed()))
	got := collect(c)
	ctx := context.Background()

	require.NoError(t, c.Delete(ctx, "counter"))
	assert.Nil(t, c.Get(tree.Key("counter")))
	assert.NotNil(t, c.Get(tree.Key("todos")))

	require.NoError(t, c.Delete(ctx, "counter"))
	assert.Len(t, *got, 2, "deleting a missing key publishes nothing")
}

func TestSet_WaitsForTracker(t *testing.T) {
	tr := tracker.New(tracker.WithTimeout(time.Second))
	c := New(WithTracker(tr))

	h := &struct{}{}
	tr.Track(h)
	c.Subscribe(stream.Observer[any]{Next: func(any) { tr.SetStatus(h, true) }})

	require.NoError(t, c.Set(context.Background(), tree.Key("a"), 1))
	assert.True(t, tr.Settled(h))

	// The next wave starts unsettled; the subscriber settles it again.
	require.NoError(t, c.Set(context.Background(), tree.Key("a"), 2))
	assert.True(t, tr.Settled(h))
}

func TestSet_PropagationTimeout(t *testing.T) {
	tr := tracker.New(tracker.WithTimeout(10 * time.Millisecond))
	c := New(WithTracker(tr))
	tr.Track(&struct{}{})

	err := c.Set(context.Background(), tree.Key("a"), 1)
	assert.ErrorIs(t, err, tracker.ErrPropagationTimeout)
	assert.Equal(t, 1, c.Get(tree.Key("a")), "tree updated before the wait")
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	c := New(WithInitial(map[string]any{"n": 0}))
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Update(ctx, func(cur any) (any, error) {
				n := tree.Get(cur, tree.Key("n")).(int)
				return tree.SetIn(cur, tree.Key("n"), n+1)
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, c.Get(tree.Key("n")))
}

func TestClose(t *testing.T) {
	c := New()
	completed := false
	c.Subscribe(stream.Observer[any]{Complete: func() { completed = true }})

	c.Close()
	c.Close()
	assert.True(t, completed)
	assert.ErrorIs(t, c.Set(context.Background(), tree.Key("a"), 1), ErrClosed)
}
