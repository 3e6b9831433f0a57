package harness

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/statestore/internal/action"
	"github.com/roach88/statestore/internal/reducer"
	"github.com/roach88/statestore/internal/store"
	"github.com/roach88/statestore/internal/tree"
)

// Rule is a declarative reducer clause: when an action of type On arrives,
// apply Op at Path (dotted, relative to the reducer's own state; empty means
// the whole state).
//
// The operand is Value, or the part of the action payload named by From:
// "payload" for the whole payload, "payload.a.b" for a nested field.
type Rule struct {
	On    string `yaml:"on"`
	Op    string `yaml:"op"`
	Path  string `yaml:"path,omitempty"`
	Value any    `yaml:"value,omitempty"`
	From  string `yaml:"from,omitempty"`
}

// Rule operations.
const (
	OpSet    = "set"
	OpInc    = "inc"
	OpAppend = "append"
	OpDelete = "delete"
	OpMerge  = "merge"
	// OpFail makes the reducer return an error, leaving its state unchanged.
	OpFail = "fail"
)

// ErrRuleFailed is returned by reducers running a fail rule.
var ErrRuleFailed = errors.New("rule failed")

func (r Rule) validate() error {
	if r.On == "" {
		return fmt.Errorf("on is required")
	}
	switch r.Op {
	case OpSet, OpInc, OpAppend, OpDelete, OpMerge, OpFail:
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", r.Op)
	}
	if r.From != "" && r.From != "payload" && !strings.HasPrefix(r.From, "payload.") {
		return fmt.Errorf("from must be \"payload\" or start with \"payload.\", got %q", r.From)
	}
	if r.From != "" && r.Value != nil {
		return fmt.Errorf("value and from are mutually exclusive")
	}
	return nil
}

func (r Rule) operand(a action.Action) any {
	if r.From == "" {
		return tree.DeepCopy(r.Value)
	}
	sub := strings.TrimPrefix(strings.TrimPrefix(r.From, "payload"), ".")
	return tree.DeepCopy(tree.Get(a.Payload, tree.ParsePath(sub)))
}

func (r Rule) apply(state any, a action.Action) (any, error) {
	p := tree.ParsePath(r.Path)
	v := r.operand(a)

	switch r.Op {
	case OpSet:
		return tree.SetIn(state, p, v)

	case OpInc:
		by := v
		if by == nil {
			by = 1
		}
		sum, err := add(tree.Get(state, p), by)
		if err != nil {
			return nil, fmt.Errorf("inc %s: %w", p, err)
		}
		return tree.SetIn(state, p, sum)

	case OpAppend:
		cur := tree.Get(state, p)
		list, ok := cur.([]any)
		if cur != nil && !ok {
			return nil, fmt.Errorf("append %s: not a list: %T", p, cur)
		}
		next := make([]any, len(list), len(list)+1)
		copy(next, list)
		return tree.SetIn(state, p, append(next, v))

	case OpDelete:
		return tree.DeleteIn(state, p)

	case OpMerge:
		patch, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("merge %s: operand is not a map: %T", p, v)
		}
		cur := tree.Get(state, p)
		base, ok := cur.(map[string]any)
		if cur != nil && !ok {
			return nil, fmt.Errorf("merge %s: not a map: %T", p, cur)
		}
		out := make(map[string]any, len(base)+len(patch))
		maps.Copy(out, base)
		maps.Copy(out, patch)
		return tree.SetIn(state, p, out)

	case OpFail:
		if v != nil {
			return nil, fmt.Errorf("%w: %v", ErrRuleFailed, v)
		}
		return nil, ErrRuleFailed
	}
	return nil, fmt.Errorf("unknown op %q", r.Op)
}

// add sums two numbers, staying integral when both are integers.
func add(cur, by any) (any, error) {
	if cur == nil {
		cur = 0
	}
	ci, cInt := toInt(cur)
	bi, bInt := toInt(by)
	if cInt && bInt {
		return ci + bi, nil
	}
	cf, ok := toFloat(cur)
	if !ok {
		return nil, fmt.Errorf("not a number: %T", cur)
	}
	bf, ok := toFloat(by)
	if !ok {
		return nil, fmt.Errorf("increment is not a number: %T", by)
	}
	return cf + bf, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	if n, ok := toInt(v); ok {
		return float64(n), true
	}
	f, ok := v.(float64)
	return f, ok
}

// rulesReducer builds a reducer that answers action.Init with a copy of
// initial and applies every matching rule in declaration order. A failing
// rule discards the partial result.
func rulesReducer(initial any, rules []Rule) reducer.Reducer {
	return func(_ context.Context, state any, a action.Action) (any, error) {
		if a.Type == action.Init {
			return tree.DeepCopy(initial), nil
		}
		next := state
		for _, r := range rules {
			if r.On != a.Type {
				continue
			}
			out, err := r.apply(next, a)
			if err != nil {
				return state, err
			}
			next = out
		}
		return next, nil
	}
}

// rejectMeta fails the wrapped reducer for the listed action types without
// calling it.
func rejectMeta(types []string) reducer.MetaReducer {
	return func(next reducer.Reducer) (reducer.Reducer, error) {
		return func(ctx context.Context, state any, a action.Action) (any, error) {
			if slices.Contains(types, a.Type) {
				return state, fmt.Errorf("%w: %s rejected", ErrRuleFailed, a.Type)
			}
			return next(ctx, state, a)
		}, nil
	}
}

// module converts a ModuleSpec into a store module.
func (m ModuleSpec) module() store.Module {
	mod := store.Module{Slice: m.Slice, Dependencies: m.Dependencies}
	if len(m.Reject) > 0 {
		mod.MetaReducers = []reducer.MetaReducer{rejectMeta(m.Reject)}
	}
	if len(m.Reducers) > 0 {
		t := reducer.Tree{}
		for name, leaf := range m.Reducers {
			t[name] = rulesReducer(leaf.Initial, leaf.Rules)
		}
		mod.Reducers = t
		return mod
	}
	mod.Reducer = rulesReducer(m.Initial, m.Rules)
	return mod
}
