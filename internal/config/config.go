// Package config loads statestore settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/statestore/internal/store"
)

// Store holds environment configuration for a store and its tooling.
// Command-line flags override these values in the CLI.
type Store struct {
	// Strategy overrides the main module's strategy when set.
	Strategy           string        `env:"STATESTORE_STRATEGY"`
	PropagationTimeout time.Duration `env:"STATESTORE_PROPAGATION_TIMEOUT" envDefault:"30ms"`
	AwaitPropagation   bool          `env:"STATESTORE_AWAIT_PROPAGATION" envDefault:"true"`
	// Journal is the SQLite journal path; empty disables journaling.
	Journal      string     `env:"STATESTORE_JOURNAL"`
	OTelEndpoint string     `env:"STATESTORE_OTEL_ENDPOINT"`
	ServiceName  string     `env:"STATESTORE_SERVICE_NAME" envDefault:"statestore"`
	LogLevel     slog.Level `env:"STATESTORE_LOG_LEVEL" envDefault:"info"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the store configuration.
func Load() (Store, error) {
	var cfg Store
	if err := ParseEnv(&cfg); err != nil {
		return Store{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Store{}, err
	}
	return cfg, nil
}

// Validate checks values the env parser cannot.
func (c Store) Validate() error {
	var errs []error
	if c.Strategy != "" {
		if _, err := store.ParseStrategy(c.Strategy); err != nil {
			errs = append(errs, fmt.Errorf("STATESTORE_STRATEGY: %w", err))
		}
	}
	if c.PropagationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("STATESTORE_PROPAGATION_TIMEOUT: must be positive, got %s", c.PropagationTimeout))
	}
	return errors.Join(errs...)
}

// Options maps the configuration onto store options. Journal and tracing
// middleware are wired by the caller, which owns their lifetimes.
func (c Store) Options() []store.Option {
	opts := []store.Option{
		store.WithPropagationTimeout(c.PropagationTimeout),
		store.WithAwaitPropagation(c.AwaitPropagation),
	}
	if s, err := store.ParseStrategy(c.Strategy); err == nil && c.Strategy != "" {
		opts = append(opts, store.WithStrategy(s))
	}
	return opts
}
