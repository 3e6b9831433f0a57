// Package action defines the dispatchable values: plain Actions and
// AsyncAction functions, plus the shape check applied at the dispatch
// boundary.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/statestore/internal/dependency"
	"github.com/roach88/statestore/internal/tree"
)

// Init is the action type every reducer receives when asked for its initial
// state.
const Init = "@@INIT"

// Prefix marks system action types emitted by the store itself.
const Prefix = "@@statestore/"

// System action types.
const (
	InitializeState  = Prefix + "INITIALIZE_STATE"
	UpdateState      = Prefix + "UPDATE_STATE"
	StoreInitialized = Prefix + "STORE_INITIALIZED"
	ModuleLoaded     = Prefix + "MODULE_LOADED"
	ModuleUnloaded   = Prefix + "MODULE_UNLOADED"
)

// ErrInvalidAction is returned by Parse for values that are neither an
// action nor an async action.
var ErrInvalidAction = errors.New("action: invalid action")

// Action is a plain description of something that happened. Type is
// mandatory.
type Action struct {
	Type    string         `json:"type" yaml:"type"`
	Payload any            `json:"payload,omitempty" yaml:"payload,omitempty"`
	Meta    map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
	Error   bool           `json:"error,omitempty" yaml:"error,omitempty"`
}

// New builds an Action of type t carrying payload.
func New(t string, payload any) Action {
	return Action{Type: t, Payload: payload}
}

// IsSystem reports whether a was emitted by the store rather than a caller.
func (a Action) IsSystem() bool {
	return strings.HasPrefix(a.Type, Prefix)
}

// String returns the action type.
func (a Action) String() string {
	return a.Type
}

// DispatchFunc sends a value into a dispatch pipeline.
type DispatchFunc func(ctx context.Context, v any) error

// GetStateFunc reads the state tree at a path.
type GetStateFunc func(p tree.Path) any

// AsyncAction is a dispatchable function. It receives the pipeline's
// dispatch, a state reader and the merged dependency tree.
type AsyncAction func(ctx context.Context, dispatch DispatchFunc, getState GetStateFunc, deps dependency.Node) error

// Parse classifies v at the dispatch boundary. Exactly one of the returned
// Action and AsyncAction is meaningful when err is nil: a non-nil AsyncAction
// means v was an async action.
//
// Accepted shapes: Action, non-nil *Action, AsyncAction or a func with the
// same signature, and map[string]any with a non-empty string "type" (as
// decoded from YAML or JSON). Anything else, including an empty Type,
// returns ErrInvalidAction.
func Parse(v any) (Action, AsyncAction, error) {
	switch x := v.(type) {
	case Action:
		return checkType(x)
	case *Action:
		if x == nil {
			return Action{}, nil, fmt.Errorf("%w: nil *Action", ErrInvalidAction)
		}
		return checkType(*x)
	case AsyncAction:
		if x == nil {
			return Action{}, nil, fmt.Errorf("%w: nil async action", ErrInvalidAction)
		}
		return Action{}, x, nil
	case func(context.Context, DispatchFunc, GetStateFunc, dependency.Node) error:
		if x == nil {
			return Action{}, nil, fmt.Errorf("%w: nil async action", ErrInvalidAction)
		}
		return Action{}, AsyncAction(x), nil
	case map[string]any:
		return fromMap(x)
	case nil:
		return Action{}, nil, fmt.Errorf("%w: nil", ErrInvalidAction)
	default:
		return Action{}, nil, fmt.Errorf("%w: unsupported value of type %T", ErrInvalidAction, v)
	}
}

func checkType(a Action) (Action, AsyncAction, error) {
	if a.Type == "" {
		return Action{}, nil, fmt.Errorf("%w: empty type", ErrInvalidAction)
	}
	return a, nil, nil
}

func fromMap(m map[string]any) (Action, AsyncAction, error) {
	raw, ok := m["type"]
	if !ok {
		return Action{}, nil, fmt.Errorf("%w: missing type", ErrInvalidAction)
	}
	t, ok := raw.(string)
	if !ok {
		return Action{}, nil, fmt.Errorf("%w: type is %T, want string", ErrInvalidAction, raw)
	}

	a := Action{Type: t, Payload: m["payload"]}
	if meta, ok := m["meta"].(map[string]any); ok {
		a.Meta = meta
	}
	if e, ok := m["error"].(bool); ok {
		a.Error = e
	}
	return checkType(a)
}
