package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/statestore/internal/config"
	"github.com/roach88/statestore/internal/harness"
	"github.com/roach88/statestore/internal/journal"
	"github.com/roach88/statestore/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// session holds what scenario-running commands share: the logger, the
// optional journal and the optional tracer.
type session struct {
	cfg      config.Store
	logger   *slog.Logger
	journal  *journal.Journal
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

func openSession(ctx context.Context, cmd *cobra.Command, opts *RootOptions, cfg config.Store) (*session, error) {
	s := &session{
		cfg:      cfg,
		logger:   newLogger(cmd, opts, cfg.LogLevel),
		shutdown: func(context.Context) error { return nil },
	}

	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return nil, err
		}
		s.journal = j
		s.logger.Debug("journal opened", "path", cfg.Journal)
	}

	shutdown, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	s.shutdown = shutdown
	if cfg.OTelEndpoint != "" {
		s.tracer = telemetry.Tracer()
		s.logger.Debug("tracing enabled", "endpoint", cfg.OTelEndpoint, "service", cfg.ServiceName)
	}
	return s, nil
}

// harnessOptions wires the session into a harness run.
func (s *session) harnessOptions() []harness.Option {
	opts := []harness.Option{
		harness.WithLogger(s.logger),
		harness.WithStoreOptions(s.cfg.Options()...),
	}
	if s.journal != nil {
		opts = append(opts, harness.WithJournal(s.journal))
	}
	if s.tracer != nil {
		opts = append(opts, harness.WithTracer(s.tracer))
	}
	return opts
}

// close flushes spans and closes the journal. Failures are logged only.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown failed", "error", err)
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Error("error closing journal", "error", err)
		}
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
