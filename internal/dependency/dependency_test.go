package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiClient struct {
	BaseURL string
	calls   int
}

func TestFromValue(t *testing.T) {
	client := &apiClient{BaseURL: "http://x"}
	n := FromValue(map[string]any{
		"api":   client,
		"flags": []any{"a", "b"},
		"limits": map[string]any{
			"max": 3,
		},
		"dropped": nil,
	})

	obj, ok := n.(Object)
	require.True(t, ok)
	assert.Equal(t, Leaf{Value: client}, obj["api"])
	assert.Equal(t, Array{Leaf{"a"}, Leaf{"b"}}, obj["flags"])
	assert.Equal(t, Object{"max": Leaf{3}}, obj["limits"])
	assert.NotContains(t, obj, "dropped")

	assert.Nil(t, FromValue(nil))
	assert.Equal(t, obj, FromValue(obj), "nodes pass through")
}

func TestValueRoundTrip(t *testing.T) {
	in := map[string]any{
		"a": map[string]any{"b": 1},
		"l": []any{"x"},
	}
	assert.Equal(t, in, Value(FromValue(in)))
	assert.Nil(t, Value(nil))
}

func TestLookupAndGet(t *testing.T) {
	n := FromValue(map[string]any{"svc": map[string]any{"url": "u"}})

	got, ok := Lookup(n, "svc", "url")
	require.True(t, ok)
	assert.Equal(t, Leaf{"u"}, got)

	assert.Equal(t, "u", Get(n, "svc", "url"))
	assert.Nil(t, Get(n, "svc", "missing"))
	assert.Nil(t, Get(n, "svc", "url", "deeper"))
}

func TestMerge_KeyByKey(t *testing.T) {
	main := FromValue(map[string]any{"http": map[string]any{"timeout": 5}})
	feature := FromValue(map[string]any{
		"http":  map[string]any{"retries": 2},
		"cache": map[string]any{"size": 10},
	})

	merged, conflicts := Merge(main, feature)
	assert.Empty(t, conflicts)
	assert.Equal(t, map[string]any{
		"http":  map[string]any{"timeout": 5, "retries": 2},
		"cache": map[string]any{"size": 10},
	}, Value(merged))
}

func TestMerge_FirstWriterWins(t *testing.T) {
	first := FromValue(map[string]any{"http": map[string]any{"timeout": 5}})
	second := FromValue(map[string]any{"http": map[string]any{"timeout": 9}})

	merged, conflicts := Merge(first, second)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "http.timeout", conflicts[0].String())
	assert.Equal(t, 5, Get(merged, "http", "timeout"))
}

func TestMerge_LeavesAreOpaque(t *testing.T) {
	client := &apiClient{BaseURL: "http://first"}
	other := &apiClient{BaseURL: "http://second"}

	merged, conflicts := Merge(
		FromValue(map[string]any{"api": client}),
		FromValue(map[string]any{"api": other}),
	)
	require.Len(t, conflicts, 1)
	assert.Same(t, client, Get(merged, "api"))
	assert.Equal(t, "http://first", client.BaseURL, "instance not merged field by field")
}

func TestMerge_SameLeafIsNotAConflict(t *testing.T) {
	client := &apiClient{}
	_, conflicts := Merge(
		FromValue(map[string]any{"api": client}),
		FromValue(map[string]any{"api": client}),
	)
	assert.Empty(t, conflicts)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	a := FromValue(map[string]any{"x": map[string]any{"a": 1}})
	b := FromValue(map[string]any{"x": map[string]any{"b": 2}})

	_, _ = Merge(a, b)
	assert.Equal(t, map[string]any{"x": map[string]any{"a": 1}}, Value(a))
	assert.Equal(t, map[string]any{"x": map[string]any{"b": 2}}, Value(b))
}

func TestMerge_NilTrees(t *testing.T) {
	merged, conflicts := Merge(nil, nil)
	assert.Nil(t, merged)
	assert.Empty(t, conflicts)

	only := FromValue(map[string]any{"a": 1})
	merged, _ = Merge(nil, only, nil)
	assert.Equal(t, only, merged)
}
