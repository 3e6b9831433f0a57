// Package tree implements reads and minimal-copy writes on plain-data state
// trees built from map[string]any, []any and scalars.
//
// Writes never mutate their input. SetIn clones only the ancestors of the
// written path; every subtree off the path is shared by reference with the
// previous tree.
package tree

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned for path segments that are neither string keys
// nor non-negative int indices.
var ErrInvalidPath = errors.New("tree: invalid path")

// Path is an ordered list of map keys (string) and slice indices (int).
// An empty path addresses the whole tree.
type Path []any

// Wildcard addresses the whole tree.
var Wildcard Path

// P builds a Path from segments.
func P(segments ...any) Path {
	return Path(segments)
}

// Key builds a single-key path addressing one top-level slice.
func Key(k string) Path {
	return Path{k}
}

// IsWildcard reports whether p addresses the whole tree.
func (p Path) IsWildcard() bool {
	return len(p) == 0
}

// String renders the path in dotted form, e.g. "todos.items.0".
func (p Path) String() string {
	if len(p) == 0 {
		return "*"
	}
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = fmt.Sprint(seg)
	}
	return strings.Join(parts, ".")
}

// ParsePath splits a dotted path. Segments that parse as integers become
// indices. "*" and "" return Wildcard.
func ParsePath(s string) Path {
	if s == "" || s == "*" {
		return Wildcard
	}
	parts := strings.Split(s, ".")
	p := make(Path, len(parts))
	for i, part := range parts {
		if n, err := strconv.Atoi(part); err == nil && n >= 0 {
			p[i] = n
			continue
		}
		p[i] = part
	}
	return p
}

// Get walks root along p. It returns nil as soon as an intermediate node is
// missing or not a container.
func Get(root any, p Path) any {
	cur := root
	for _, seg := range p {
		next, ok := child(cur, seg)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// Lookup is Get that also reports whether the full path exists.
func Lookup(root any, p Path) (any, bool) {
	cur := root
	for _, seg := range p {
		next, ok := child(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func child(node any, seg any) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		k, ok := seg.(string)
		if !ok {
			return nil, false
		}
		v, ok := n[k]
		return v, ok
	case []any:
		i, ok := seg.(int)
		if !ok || i < 0 || i >= len(n) {
			return nil, false
		}
		return n[i], true
	default:
		return nil, false
	}
}

// SetIn returns a new tree equal to root with value at p. Only nodes on the
// path are copied. Missing or scalar intermediates are replaced by a map
// (string segment) or a slice (int segment). An index equal to the slice
// length appends.
func SetIn(root any, p Path, value any) (any, error) {
	if len(p) == 0 {
		return value, nil
	}
	return setIn(root, p, value)
}

func setIn(node any, p Path, value any) (any, error) {
	seg := p[0]
	switch k := seg.(type) {
	case string:
		m, _ := node.(map[string]any)
		out := make(map[string]any, len(m)+1)
		maps.Copy(out, m)
		if len(p) == 1 {
			out[k] = value
			return out, nil
		}
		v, err := setIn(m[k], p[1:], value)
		if err != nil {
			return nil, err
		}
		out[k] = v
		return out, nil

	case int:
		if k < 0 {
			return nil, fmt.Errorf("%w: negative index %d", ErrInvalidPath, k)
		}
		s, _ := node.([]any)
		size := len(s)
		if k >= size {
			size = k + 1
		}
		out := make([]any, size)
		copy(out, s)
		if len(p) == 1 {
			out[k] = value
			return out, nil
		}
		var prev any
		if k < len(s) {
			prev = s[k]
		}
		v, err := setIn(prev, p[1:], value)
		if err != nil {
			return nil, err
		}
		out[k] = v
		return out, nil

	default:
		return nil, fmt.Errorf("%w: segment %v of type %T", ErrInvalidPath, seg, seg)
	}
}

// DeleteIn returns a new tree without the entry at p. Missing paths return
// root unchanged. Deleting a slice index removes the element.
func DeleteIn(root any, p Path) (any, error) {
	if len(p) == 0 {
		return nil, nil
	}
	if _, ok := Lookup(root, p); !ok {
		return root, nil
	}
	parentPath, last := p[:len(p)-1], p[len(p)-1]
	parent := Get(root, parentPath)

	var replaced any
	switch n := parent.(type) {
	case map[string]any:
		out := maps.Clone(n)
		delete(out, last.(string))
		replaced = out
	case []any:
		i := last.(int)
		replaced = slices.Delete(slices.Clone(n), i, i+1)
	}
	return SetIn(root, parentPath, replaced)
}

// ShallowCopy copies the top level of maps and slices and returns other
// values unchanged.
func ShallowCopy(v any) any {
	switch n := v.(type) {
	case map[string]any:
		return maps.Clone(n)
	case []any:
		return slices.Clone(n)
	default:
		return v
	}
}

// Same reports reference equality: identity for maps, slices, pointers,
// channels and funcs, == for comparable scalars. It is the change test the
// reducer composer uses to decide whether a slice was updated.
func Same(a, b any) (same bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.UnsafePointer() == vb.UnsafePointer()
	case reflect.Slice:
		if va.Len() != vb.Len() {
			return false
		}
		return va.Len() == 0 || va.UnsafePointer() == vb.UnsafePointer()
	}
	if !va.Type().Comparable() {
		return false
	}
	// Structs holding interface fields with incomparable dynamic values panic.
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// DeepCopy copies every map and slice in v. Used to hand out initial values
// that callers may not share.
func DeepCopy(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, c := range n {
			out[k] = DeepCopy(c)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, c := range n {
			out[i] = DeepCopy(c)
		}
		return out
	default:
		return v
	}
}
