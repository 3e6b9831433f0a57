package store

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/statestore/internal/action"
	"github.com/roach88/statestore/internal/reducer"
)

// counterReducer counts "inc" actions, adding an int payload when present.
func counterReducer() reducer.Reducer {
	return reducer.Func(func(state any, a action.Action) any {
		n, _ := state.(int)
		switch a.Type {
		case action.Init:
			return 0
		case "inc":
			if by, ok := a.Payload.(int); ok {
				return n + by
			}
			return n + 1
		}
		return state
	})
}

// logReducer appends the payload of every "log" action.
func logReducer() reducer.Reducer {
	return reducer.Func(func(state any, a action.Action) any {
		if a.Type == action.Init {
			return []any{}
		}
		if a.Type != "log" {
			return state
		}
		list, _ := state.([]any)
		return append(append([]any{}, list...), a.Payload)
	})
}

// recorder is a middleware capturing every action type that reaches it.
type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) middleware(API) func(next Dispatch) Dispatch {
	return func(next Dispatch) Dispatch {
		return func(ctx context.Context, v any) error {
			a := v.(action.Action)
			r.mu.Lock()
			r.types = append(r.types, a.Type)
			r.mu.Unlock()
			return next(ctx, a)
		}
	}
}

func (r *recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestStore(t *testing.T, main Module, opts ...Option) *Store {
	t.Helper()
	s, err := New(context.Background(), main, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}
