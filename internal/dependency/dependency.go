// Package dependency models the dependency trees modules declare and merges
// them into the single tree handed to async actions.
//
// A tree is a Node: an Object of named children, an Array, or an opaque
// Leaf. Leaves are never looked into, so service instances survive a merge
// intact.
package dependency

import (
	"maps"
	"slices"
	"strings"
)

// Node is a sealed tagged union: Leaf, Object or Array.
type Node interface {
	node()
}

// Leaf wraps an opaque value: a service client, a config struct, a scalar.
type Leaf struct {
	Value any
}

func (Leaf) node() {}

// Object is a structural map of named children. It merges key by key.
type Object map[string]Node

func (Object) node() {}

// Array is an ordered list of children. Arrays are not merged element-wise.
type Array []Node

func (Array) node() {}

// FromValue converts plain data into a Node. map[string]any becomes Object,
// []any becomes Array, an existing Node is returned as is, nil stays nil and
// everything else, including structs and pointers, becomes a Leaf.
func FromValue(v any) Node {
	switch x := v.(type) {
	case nil:
		return nil
	case Node:
		return x
	case map[string]any:
		obj := make(Object, len(x))
		for k, c := range x {
			if n := FromValue(c); n != nil {
				obj[k] = n
			}
		}
		return obj
	case []any:
		arr := make(Array, 0, len(x))
		for _, c := range x {
			arr = append(arr, FromValue(c))
		}
		return arr
	default:
		return Leaf{Value: v}
	}
}

// Value converts a Node back into plain data: Object to map[string]any,
// Array to []any, Leaf to its wrapped value.
func Value(n Node) any {
	switch x := n.(type) {
	case nil:
		return nil
	case Leaf:
		return x.Value
	case Object:
		out := make(map[string]any, len(x))
		for k, c := range x {
			out[k] = Value(c)
		}
		return out
	case Array:
		out := make([]any, len(x))
		for i, c := range x {
			out[i] = Value(c)
		}
		return out
	default:
		return nil
	}
}

// Lookup walks n along keys through Objects.
func Lookup(n Node, keys ...string) (Node, bool) {
	cur := n
	for _, k := range keys {
		obj, ok := cur.(Object)
		if !ok {
			return nil, false
		}
		cur, ok = obj[k]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// Get returns the plain value at keys, or nil.
func Get(n Node, keys ...string) any {
	found, ok := Lookup(n, keys...)
	if !ok {
		return nil
	}
	return Value(found)
}

// Conflict records a key declared by more than one tree. The first
// declaration was kept.
type Conflict struct {
	Path []string
}

// String renders the conflicting path in dotted form.
func (c Conflict) String() string {
	return strings.Join(c.Path, ".")
}

// Merge folds trees left to right. Objects merge key by key and the first
// writer wins: a later tree declaring an existing key that is not itself a
// mergeable Object pair is reported as a Conflict and ignored. Inputs are
// never mutated.
func Merge(trees ...Node) (Node, []Conflict) {
	var (
		out       Node
		conflicts []Conflict
	)
	for _, t := range trees {
		out = merge(out, t, nil, &conflicts)
	}
	return out, conflicts
}

func merge(dst, src Node, path []string, conflicts *[]Conflict) Node {
	if src == nil {
		return dst
	}
	if dst == nil {
		return src
	}

	dobj, dok := dst.(Object)
	sobj, sok := src.(Object)
	if !dok || !sok {
		if !sameLeaf(dst, src) {
			*conflicts = append(*conflicts, Conflict{Path: slices.Clone(path)})
		}
		return dst
	}

	out := maps.Clone(dobj)
	// Sorted so conflicts are reported deterministically.
	for _, k := range slices.Sorted(maps.Keys(sobj)) {
		child := append(slices.Clone(path), k)
		if existing, ok := out[k]; ok {
			out[k] = merge(existing, sobj[k], child, conflicts)
			continue
		}
		out[k] = sobj[k]
	}
	return out
}

// sameLeaf treats re-declaring the identical leaf value as no conflict.
func sameLeaf(a, b Node) (same bool) {
	la, aok := a.(Leaf)
	lb, bok := b.(Leaf)
	if !aok || !bok {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return la.Value == lb.Value
}
