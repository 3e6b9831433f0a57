package cli

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/statestore/internal/config"
	"github.com/roach88/statestore/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the statestore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "statestore",
		Short: "statestore - scenario runner for the state store",
		Long: `Drive state stores through declarative scenarios.

Scenarios declare rule-driven modules, the steps that dispatch actions and
load or unload modules, and assertions over the final state and trace.
Settings come from STATESTORE_* environment variables; flags override them.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd
}

// StoreFlags are the store settings a command can override on top of the
// environment configuration.
type StoreFlags struct {
	Strategy     string
	Timeout      time.Duration
	Journal      string
	OTelEndpoint string
}

func (f *StoreFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Strategy, "strategy", "", "force a strategy for every store (exclusive|concurrent)")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "propagation timeout (default from STATESTORE_PROPAGATION_TIMEOUT)")
	cmd.Flags().StringVar(&f.Journal, "journal", "", "record dispatches in this SQLite journal")
	cmd.Flags().StringVar(&f.OTelEndpoint, "otel-endpoint", "", "export spans over OTLP/HTTP to this URL")
}

// resolve loads the environment configuration and applies the flags that
// were set.
func (f *StoreFlags) resolve(cmd *cobra.Command) (config.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Store{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("strategy") {
		if _, err := store.ParseStrategy(f.Strategy); err != nil {
			return config.Store{}, fmt.Errorf("--strategy: %w", err)
		}
		cfg.Strategy = f.Strategy
	}
	if flags.Changed("timeout") {
		if f.Timeout <= 0 {
			return config.Store{}, fmt.Errorf("--timeout: must be positive, got %s", f.Timeout)
		}
		cfg.PropagationTimeout = f.Timeout
	}
	if flags.Changed("journal") {
		cfg.Journal = f.Journal
	}
	if flags.Changed("otel-endpoint") {
		cfg.OTelEndpoint = f.OTelEndpoint
	}
	return cfg, nil
}

// newLogger writes text logs to the command's error stream. --verbose
// lowers the level to debug.
func newLogger(cmd *cobra.Command, opts *RootOptions, level slog.Level) *slog.Logger {
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
