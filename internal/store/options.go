package store

import (
	"log/slog"
	"time"

	"github.com/roach88/statestore/internal/execstack"
	"github.com/roach88/statestore/internal/tracker"
)

// Option allows configuration of store parameters.
type Option func(*config)

type config struct {
	logger             *slog.Logger
	middleware         []Middleware
	propagationTimeout time.Duration
	awaitPropagation   bool
	ids                execstack.IDGenerator
	preloaded          map[string]any
	strategy           *Strategy
}

func defaultConfig() config {
	return config{
		logger:             slog.Default(),
		propagationTimeout: tracker.DefaultTimeout,
		awaitPropagation:   true,
		ids:                execstack.UUIDv7Generator{},
	}
}

// WithLogger sets the logger for warnings and dispatch diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMiddleware appends user middleware after the starter middleware.
// The first middleware given is the outermost of the user chain.
func WithMiddleware(mws ...Middleware) Option {
	return func(c *config) {
		c.middleware = append(c.middleware, mws...)
	}
}

// WithPropagationTimeout bounds how long a dispatch waits for tracked
// selectors to settle after a publish.
//
// Default: 30ms (tracker.DefaultTimeout)
func WithPropagationTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.propagationTimeout = d
		}
	}
}

// WithAwaitPropagation toggles the completion tracker. When disabled a
// dispatch returns as soon as the new tree is published.
func WithAwaitPropagation(enabled bool) Option {
	return func(c *config) {
		c.awaitPropagation = enabled
	}
}

// WithIDGenerator sets the instruction ID source. Use
// execstack.NewFixedGenerator in tests for deterministic IDs.
func WithIDGenerator(g execstack.IDGenerator) Option {
	return func(c *config) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithPreloadedState seeds top-level slices before INITIALIZE_STATE. Slices
// present here win over the reducers' initial values.
func WithPreloadedState(slices map[string]any) Option {
	return func(c *config) {
		c.preloaded = slices
	}
}

// WithStrategy overrides the strategy declared by the main module.
func WithStrategy(s Strategy) Option {
	return func(c *config) {
		c.strategy = &s
	}
}
