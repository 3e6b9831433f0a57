package store

import (
	"fmt"
	"strings"

	"github.com/roach88/statestore/internal/reducer"
)

// MainSlice is the slice name used when the main module declares none.
const MainSlice = "main"

// Strategy selects how the starter middleware processes actions.
type Strategy int

const (
	// Exclusive serializes every dispatch, including its downstream effects,
	// behind the shared lock.
	Exclusive Strategy = iota
	// Concurrent runs dispatches without the shared lock. Only issuance order
	// is guaranteed.
	Concurrent
)

// String returns the lower-case strategy name.
func (s Strategy) String() string {
	switch s {
	case Exclusive:
		return "exclusive"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy parses "exclusive" or "concurrent". The empty string is
// Exclusive.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exclusive":
		return Exclusive, nil
	case "concurrent":
		return Concurrent, nil
	default:
		return Exclusive, fmt.Errorf("unknown strategy %q (want exclusive or concurrent)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, used by env and YAML
// decoding.
func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Module declares a named state slice with its reducer and dependencies.
//
// Exactly one of Reducer and Reducers should be set; when both are, Reducers
// wins. MetaReducers of a feature module wrap that slice's reducer; those of
// the main module wrap the whole root reducer. Strategy is only read from the
// main module.
type Module struct {
	Slice        string
	Reducer      reducer.Reducer
	Reducers     reducer.Tree
	Dependencies any
	MetaReducers []reducer.MetaReducer
	Strategy     Strategy
}

func (m Module) hasReducer() bool {
	return len(m.Reducers) > 0 || m.Reducer != nil
}

func (m Module) validateFeature() error {
	if m.Slice == "" {
		return errInvalidModule("", "feature module requires a slice name")
	}
	if m.Slice == MainSlice {
		return errInvalidModule(m.Slice, "slice name is reserved for the main module")
	}
	if !m.hasReducer() {
		return errInvalidModule(m.Slice, "module declares no reducer")
	}
	return nil
}

// sliceReducer builds the reducer for m's slice with m's meta-reducers
// applied when wrapMetas is set.
func (b *builder) sliceReducer(m Module, wrapMetas bool) (reducer.Reducer, error) {
	r := m.Reducer
	if len(m.Reducers) > 0 {
		c, err := reducer.Combine(m.Reducers, reducer.WithLogger(b.logger))
		if err != nil {
			return nil, &Error{Code: ErrCodeInvalidModule, Message: "invalid reducer tree", Slice: m.Slice, Err: err}
		}
		r = c.Reducer()
	}
	if wrapMetas && len(m.MetaReducers) > 0 {
		r = reducer.ApplyWithLogger(b.logger.With("slice", m.Slice), r, m.MetaReducers...)
	}
	return r, nil
}
