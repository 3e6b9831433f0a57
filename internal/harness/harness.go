package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/statestore/internal/action"
	"github.com/roach88/statestore/internal/dependency"
	"github.com/roach88/statestore/internal/execstack"
	"github.com/roach88/statestore/internal/journal"
	"github.com/roach88/statestore/internal/snapshot"
	"github.com/roach88/statestore/internal/store"
	"github.com/roach88/statestore/internal/telemetry"
	"github.com/roach88/statestore/internal/testutil"
	"github.com/roach88/statestore/internal/tree"
)

// Option configures a harness run.
type Option func(*Harness)

// WithLogger sets the store logger. Runs are silent by default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithJournal records every dispatch of the run in j.
func WithJournal(j *journal.Journal) Option {
	return func(h *Harness) {
		h.journal = j
	}
}

// WithTracer emits a span per dispatched action.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Harness) {
		h.tracer = tracer
	}
}

// WithStoreOptions applies extra store options after the harness defaults.
// A scenario's own propagation_timeout and preloaded state still win.
func WithStoreOptions(opts ...store.Option) Option {
	return func(h *Harness) {
		h.storeOpts = append(h.storeOpts, opts...)
	}
}

// Harness runs scenarios against real stores with deterministic instruction
// IDs.
type Harness struct {
	logger  *slog.Logger
	journal *journal.Journal
	tracer  trace.Tracer
	ids     *testutil.SequentialIDs

	storeOpts []store.Option

	mu     sync.Mutex
	events []TraceEvent
	result *Result
}

// Run executes a scenario on a fresh store and returns its result. The
// error is non-nil only when the scenario could not be executed at all;
// step mismatches and failed assertions are reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:    testutil.NewSequentialIDs("ins"),
		result: NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h.run(ctx, scenario)
}

func (h *Harness) run(ctx context.Context, scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	main := scenario.Main.module()
	strategy, _ := store.ParseStrategy(scenario.Strategy)
	main.Strategy = strategy

	modules := make(map[string]store.Module, len(scenario.Modules))
	for _, m := range scenario.Modules {
		modules[m.Slice] = m.module()
	}

	// Trace first: it records after the journal and tracer have finished.
	mws := []store.Middleware{h.traceMiddleware}
	if h.journal != nil {
		mws = append(mws, journal.Middleware(h.journal, h.logger))
	}
	if h.tracer != nil {
		mws = append(mws, telemetry.Middleware(h.tracer))
	}

	opts := []store.Option{
		store.WithLogger(h.logger),
		store.WithIDGenerator(h.ids),
		store.WithMiddleware(mws...),
	}
	opts = append(opts, h.storeOpts...)
	if scenario.PropagationTimeout != "" {
		d, _ := time.ParseDuration(scenario.PropagationTimeout)
		opts = append(opts, store.WithPropagationTimeout(d))
	}
	if scenario.Preloaded != nil {
		opts = append(opts, store.WithPreloadedState(scenario.Preloaded))
	}

	s, err := store.New(ctx, main, opts...)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	defer s.Close()

	published := testutil.Record[any](s)
	defer published.Stop()

	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, s, modules, step); err != nil {
			h.result.AddError(fmt.Sprintf("steps[%d] (%s): %v", i, step.Kind(), err))
		}
	}
	if err := s.Drain(ctx); err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}

	r := h.result
	r.Trace = h.traceSnapshot()
	r.State = s.GetState(tree.Wildcard)
	r.Slices = s.Slices()
	r.Publishes = published.Len() - 1
	r.Digest, err = snapshot.StateDigest(r.State)
	if err != nil {
		return nil, fmt.Errorf("digest final state: %w", err)
	}

	for _, msg := range EvaluateAssertions(r, scenario.Assertions) {
		r.AddError(msg)
	}
	return r, nil
}

// runStep performs one step and checks its outcome against ExpectError.
func (h *Harness) runStep(ctx context.Context, s *store.Store, modules map[string]store.Module, step Step) error {
	var err error
	switch step.Kind() {
	case StepDispatch:
		err = s.Dispatch(ctx, action.New(step.Dispatch, step.Payload))
	case StepAsync:
		err = s.Dispatch(ctx, asyncSequence(step.Async))
	case StepLoad:
		err = s.LoadModule(ctx, modules[step.Load])
	case StepUnload:
		err = s.UnloadModule(ctx, modules[step.Unload], step.Clear)
	case StepStrategy:
		st, _ := store.ParseStrategy(step.SetStrategy)
		s.SetStrategy(st)
	case StepParallel:
		return h.runParallel(ctx, s, modules, step.Parallel)
	}
	return checkOutcome(step.ExpectError, err)
}

// runParallel runs steps concurrently and reports every mismatch, not only
// the first one the group saw. Steps are not cancelled when a sibling fails.
func (h *Harness) runParallel(ctx context.Context, s *store.Store, modules map[string]store.Module, steps []Step) error {
	errs := make([]error, len(steps))
	var g errgroup.Group
	for i, step := range steps {
		g.Go(func() error {
			if err := h.runStep(ctx, s, modules, step); err != nil {
				errs[i] = fmt.Errorf("parallel[%d] (%s): %w", i, step.Kind(), err)
				return errs[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err == nil {
		return nil
	}
	return errors.Join(errs...)
}

func checkOutcome(expected string, err error) error {
	if expected == "" {
		if err != nil {
			return fmt.Errorf("unexpected error: %w", err)
		}
		return nil
	}
	var se *store.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("expected %s error, got %v", expected, err)
	}
	if string(se.Code) != expected {
		return fmt.Errorf("expected %s error, got %s", expected, se.Code)
	}
	return nil
}

// asyncSequence dispatches each action in order, stopping at the first error.
func asyncSequence(actions []ActionSpec) action.AsyncAction {
	return func(ctx context.Context, dispatch action.DispatchFunc, _ action.GetStateFunc, _ dependency.Node) error {
		for _, a := range actions {
			if err := dispatch(ctx, action.New(a.Type, a.Payload)); err != nil {
				return err
			}
		}
		return nil
	}
}

// traceMiddleware records every plain action once downstream returns.
func (h *Harness) traceMiddleware(store.API) func(next store.Dispatch) store.Dispatch {
	return func(next store.Dispatch) store.Dispatch {
		return func(ctx context.Context, v any) error {
			err := next(ctx, v)

			a, ok := v.(action.Action)
			if !ok {
				return err
			}
			ev := TraceEvent{Action: a.Type, Payload: a.Payload, Status: "ok"}
			if ins := store.InstructionFrom(ctx); ins != nil {
				ev.Seq = ins.Seq
				if parent, ok := ins.Context.(*execstack.Instruction); ok {
					ev.Parent = parent.Seq
				}
			}
			var se *store.Error
			switch {
			case err == nil:
			case errors.As(err, &se) && se.Code == store.ErrCodePropagationTimeout:
				ev.Status, ev.Error = "timeout", string(se.Code)
			case errors.As(err, &se):
				ev.Status, ev.Error = "failed", string(se.Code)
			default:
				ev.Status, ev.Error = "failed", err.Error()
			}

			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
			return err
		}
	}
}

func (h *Harness) traceSnapshot() []TraceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TraceEvent{}, h.events...)
}
