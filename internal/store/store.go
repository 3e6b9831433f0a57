package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/statestore/internal/action"
	"github.com/roach88/statestore/internal/dependency"
	"github.com/roach88/statestore/internal/execstack"
	"github.com/roach88/statestore/internal/lock"
	"github.com/roach88/statestore/internal/state"
	"github.com/roach88/statestore/internal/stream"
	"github.com/roach88/statestore/internal/tracker"
	"github.com/roach88/statestore/internal/tree"
)

// Store is one state-management instance: the state container, the shared
// lock, the execution stack and the pipeline built from the loaded modules.
//
// Thread-safety model:
//   - Dispatch, GetState, ReadSafe, LoadModule, UnloadModule: safe from any goroutine
//   - Observers of the state stream, selections and Actions run on the
//     dispatching goroutine and must not dispatch synchronously
//
// INVARIANTS:
//   - Slice names are unique among the main module and loaded features
//   - The state tree is only written through the state container
//   - Every instruction pushed on the stack is removed before its lock is released
type Store struct {
	id      string
	logger  *slog.Logger
	lock    *lock.Lock
	stack   *execstack.Stack
	clock   *execstack.Clock
	ids     execstack.IDGenerator
	tracker *tracker.Tracker
	state   *state.Container
	actions *stream.Subject[action.Action]
	builder builder

	// mu guards the module list, the pipeline and the built dispatch chain.
	mu         sync.RWMutex
	main       Module
	features   []Module
	pipeline   Pipeline
	middleware []Middleware
	dispatch   Dispatch

	inflight atomic.Int64
	closed   atomic.Bool
}

// New builds a store around the main module, then dispatches
// INITIALIZE_STATE and STORE_INITIALIZED.
//
// The main module's slice defaults to MainSlice. Options can be passed to
// configure the store (e.g., WithMiddleware, WithPropagationTimeout).
func New(ctx context.Context, main Module, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if main.Slice == "" {
		main.Slice = MainSlice
	}
	strategy := main.Strategy
	if cfg.strategy != nil {
		strategy = *cfg.strategy
	}

	s := &Store{
		id:         execstack.UUIDv7Generator{}.Generate(),
		logger:     cfg.logger,
		lock:       lock.New(),
		stack:      execstack.New(),
		clock:      execstack.NewClock(),
		ids:        cfg.ids,
		actions:    stream.NewSubject[action.Action](),
		builder:    builder{logger: cfg.logger},
		main:       main,
		middleware: slices.Clone(cfg.middleware),
	}

	p, err := s.builder.build(main, nil, strategy)
	if err != nil {
		return nil, err
	}
	s.pipeline = p

	var stateOpts []state.Option
	if cfg.awaitPropagation {
		s.tracker = tracker.New(tracker.WithTimeout(cfg.propagationTimeout))
		stateOpts = append(stateOpts, state.WithTracker(s.tracker))
	}
	if cfg.preloaded != nil {
		stateOpts = append(stateOpts, state.WithInitial(s.seed(ctx, cfg.preloaded)))
	}
	s.state = state.New(stateOpts...)
	s.rebuildChainLocked()

	if err := s.Dispatch(ctx, action.New(action.InitializeState, nil)); err != nil {
		return nil, fmt.Errorf("initialize state: %w", err)
	}
	if err := s.Dispatch(ctx, action.New(action.StoreInitialized, nil)); err != nil {
		return nil, fmt.Errorf("store initialized: %w", err)
	}

	s.logger.Debug("store initialized", "store", s.id, "strategy", strategy, "slices", s.Slices())
	return s, nil
}

// seed overlays preloaded slices on the reducers' initial state.
func (s *Store) seed(ctx context.Context, preloaded map[string]any) any {
	out := make(map[string]any, len(preloaded))
	init, err := s.pipeline.Reducer(ctx, nil, action.New(action.InitializeState, nil))
	if err != nil {
		s.logger.Warn("initial state unavailable, using preloaded state only", "error", err)
	} else if m, ok := init.(map[string]any); ok {
		maps.Copy(out, m)
	}
	maps.Copy(out, preloaded)
	return out
}

// rebuildChainLocked folds the starter and user middleware around the raw
// dispatch. Callers hold mu or have exclusive access to s.
func (s *Store) rebuildChainLocked() {
	mws := append([]Middleware{s.starter}, s.middleware...)
	s.dispatch = chain(s.api(), s.raw, mws)
}

func (s *Store) api() API {
	return API{
		StoreID:      s.id,
		GetState:     s.GetState,
		Dispatch:     s.Dispatch,
		Dependencies: s.Dependencies,
		Strategy:     s.Strategy,
		Lock:         s.lock,
		Stack:        s.stack,
	}
}

// ID returns the store's UUIDv7 identifier.
func (s *Store) ID() string {
	return s.id
}

// Dispatch sends an Action, a loosely typed action map or an AsyncAction
// through the pipeline. Invalid values are logged and dropped with a nil
// error.
func (s *Store) Dispatch(ctx context.Context, v any) error {
	if s.closed.Load() {
		return errClosed()
	}
	s.mu.RLock()
	d := s.dispatch
	s.mu.RUnlock()
	return d(ctx, v)
}

// starter is the first middleware of every chain. It validates the value,
// applies the strategy read at dispatch time and brackets processing with an
// instruction on the execution stack.
func (s *Store) starter(api API) func(next Dispatch) Dispatch {
	return func(next Dispatch) Dispatch {
		return func(ctx context.Context, v any) error {
			a, async, err := action.Parse(v)
			if err != nil {
				s.logger.Warn("dropping invalid action",
					"code", ErrCodeInvalidAction,
					"value_type", fmt.Sprintf("%T", v),
					"error", err)
				return nil
			}

			ins := &execstack.Instruction{
				ID:       s.ids.Generate(),
				Kind:     execstack.KindAction,
				Instance: a,
			}
			if parent := InstructionFrom(ctx); parent != nil {
				ins.Context = parent
			}
			if async != nil {
				ins.Kind = execstack.KindAsyncAction
				ins.Instance = async
			}

			strategy := api.Strategy()
			l := nestedLock(ctx)
			if l == nil && strategy == Exclusive {
				l = api.Lock
			}
			if l != nil {
				if err := l.Acquire(ctx); err != nil {
					return fmt.Errorf("dispatch: acquire lock: %w", err)
				}
				defer l.Release()
			}
			if strategy == Concurrent {
				s.inflight.Add(1)
				defer s.inflight.Add(-1)
			}

			// Stamped after the lock so the stack sees issuance order.
			ins.Seq = s.clock.Next()
			api.Stack.Add(ins)
			defer api.Stack.Remove(ins)

			ctx = withInstruction(ctx, ins)
			if async != nil {
				return s.runAsync(ctx, async)
			}
			return next(ctx, a)
		}
	}
}

// runAsync invokes fn with a fresh nested lock, so its sub-dispatches
// serialize against each other without touching the shared lock.
func (s *Store) runAsync(ctx context.Context, fn action.AsyncAction) (err error) {
	ctx = withNestedLock(ctx, lock.New())
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Code: ErrCodeAsyncFailed, Message: fmt.Sprintf("async action panicked: %v", r)}
			s.logger.Error("async action failed", "instruction", InstructionFrom(ctx), "error", err)
		}
	}()

	if err := fn(ctx, s.Dispatch, s.GetState, s.Dependencies()); err != nil {
		return &Error{Code: ErrCodeAsyncFailed, Message: "async action failed", Err: err}
	}
	return nil
}

// raw is the innermost dispatch: it runs the current root reducer against
// the current tree and publishes the result.
func (s *Store) raw(ctx context.Context, v any) error {
	a, ok := v.(action.Action)
	if !ok {
		parsed, async, err := action.Parse(v)
		if err != nil || async != nil {
			s.logger.Warn("dropping value rewritten by middleware", "value_type", fmt.Sprintf("%T", v))
			return nil
		}
		a = parsed
	}

	s.mu.RLock()
	r := s.pipeline.Reducer
	s.mu.RUnlock()

	err := s.state.Update(ctx, func(cur any) (next any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("root reducer panic: %v", p)
			}
		}()
		return r(ctx, cur, a)
	})

	switch {
	case err == nil:
		s.actions.Next(a)
		return nil
	case errors.Is(err, tracker.ErrPropagationTimeout):
		s.actions.Next(a)
		return &Error{Code: ErrCodePropagationTimeout, Message: "subscribers did not settle", Action: a.Type, Err: err}
	case errors.Is(err, state.ErrClosed):
		return errClosed()
	default:
		s.logger.Error("root reducer failed", "action", a.Type, "error", err)
		return &Error{Code: ErrCodeReducerFailed, Message: "root reducer failed", Action: a.Type, Err: err}
	}
}

// GetState reads the latest published tree at p without locking. The read
// may not reflect dispatches still queued behind the lock.
func (s *Store) GetState(p tree.Path) any {
	return s.state.Get(p)
}

// ReadSafe calls fn with the tree at p while holding the shared lock, so
// the read reflects every exclusive dispatch queued before it. Inside an
// async action the action's nested lock is used instead.
func (s *Store) ReadSafe(ctx context.Context, p tree.Path, fn func(any)) error {
	l := s.lockFor(ctx)
	if err := l.Acquire(ctx); err != nil {
		return fmt.Errorf("read safe: %w", err)
	}
	defer l.Release()
	fn(s.state.Get(p))
	return nil
}

func (s *Store) lockFor(ctx context.Context) *lock.Lock {
	if l := nestedLock(ctx); l != nil {
		return l
	}
	return s.lock
}

// Subscribe observes every published tree, starting with the current one.
func (s *Store) Subscribe(obs stream.Observer[any]) stream.Subscription {
	return s.state.Subscribe(obs)
}

// Actions emits every plain action after its reduction has been published.
func (s *Store) Actions() *stream.Subject[action.Action] {
	return s.actions
}

// Dependencies returns the merged dependency tree of all loaded modules.
func (s *Store) Dependencies() dependency.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipeline.Dependencies
}

// Strategy returns the strategy the next dispatch will use.
func (s *Store) Strategy() Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipeline.Strategy
}

// SetStrategy switches the strategy. It takes effect on the next dispatch;
// dispatches already past the starter keep the strategy they started with.
func (s *Store) SetStrategy(st Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipeline.Strategy = st
}

// Stack exposes the execution stack.
func (s *Store) Stack() *execstack.Stack {
	return s.stack
}

// Lock exposes the shared lock.
func (s *Store) Lock() *lock.Lock {
	return s.lock
}

// InFlight returns the number of concurrent-strategy dispatches running.
func (s *Store) InFlight() int64 {
	return s.inflight.Load()
}

// Drain blocks until the execution stack is empty.
func (s *Store) Drain(ctx context.Context) error {
	return s.stack.WaitForEmpty(ctx)
}

// Idle blocks until no plain action is in flight.
func (s *Store) Idle(ctx context.Context) error {
	return s.stack.WaitForIdle(ctx)
}

// Slices returns the main slice followed by feature slices in load order.
func (s *Store) Slices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []string{s.main.Slice}
	for _, f := range s.features {
		out = append(out, f.Slice)
	}
	return out
}

// Close completes every stream. Later dispatches fail with a STORE_CLOSED
// error. Close is idempotent.
func (s *Store) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.state.Close()
	s.stack.Close()
	s.actions.Complete()
	s.logger.Debug("store closed", "store", s.id)
}
