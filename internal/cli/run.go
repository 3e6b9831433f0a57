package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/statestore/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Store StoreFlags
}

// RunSummary is the outcome of one scenario run.
type RunSummary struct {
	Scenario  string               `json:"scenario"`
	Pass      bool                 `json:"pass"`
	Actions   int                  `json:"actions"`
	Publishes int                  `json:"publishes"`
	Slices    []string             `json:"slices"`
	Digest    string               `json:"digest"`
	State     any                  `json:"state"`
	Trace     []harness.TraceEvent `json:"trace,omitempty"`
	Errors    []string             `json:"errors,omitempty"`
}

func newRunSummary(name string, r *harness.Result, withTrace bool) RunSummary {
	s := RunSummary{
		Scenario:  name,
		Pass:      r.Pass,
		Actions:   len(r.Trace),
		Publishes: r.Publishes,
		Slices:    r.Slices,
		Digest:    r.Digest,
		State:     r.State,
		Errors:    r.Errors,
	}
	if withTrace {
		s.Trace = r.Trace
	}
	return s
}

// String renders the summary for text output.
func (s RunSummary) String() string {
	var b strings.Builder
	mark := "✓"
	if !s.Pass {
		mark = "✗"
	}
	fmt.Fprintf(&b, "%s %s: %d actions, %d publishes\n", mark, s.Scenario, s.Actions, s.Publishes)
	fmt.Fprintf(&b, "  slices: %s\n", strings.Join(s.Slices, ", "))
	fmt.Fprintf(&b, "  digest: %s", s.Digest)
	for _, ev := range s.Trace {
		fmt.Fprintf(&b, "\n  #%d %s %s", ev.Seq, ev.Action, ev.Status)
		if ev.Parent != 0 {
			fmt.Fprintf(&b, " (parent #%d)", ev.Parent)
		}
	}
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "\n  %s", e)
	}
	return b.String()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run one scenario",
		Long: `Run a YAML or CUE scenario against a fresh store and report the final
state digest, the publish count and any failed steps or assertions.

Exit codes:
  0 - Scenario passed
  1 - Scenario invalid or failed
  2 - Command error (bad flags, journal unusable, etc.)

Examples:
  statestore run ./scenarios/counter.yaml
  statestore run ./scenarios/modules.cue --journal ./trace.db
  statestore run ./scenarios/counter.yaml --strategy concurrent --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}
	opts.Store.register(cmd)

	return cmd
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	cfg, err := opts.Store.resolve(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(CodeScenarioInvalid, err.Error(), map[string]string{"file": path})
		return WrapExitError(ExitFailure, "invalid scenario", err)
	}

	ctx := commandContext(cmd)
	sess, err := openSession(ctx, cmd, opts.RootOptions, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up run", err)
	}
	defer sess.close()

	formatter.VerboseLog("running %s (%d steps)", scenario.Name, len(scenario.Steps))
	result, err := harness.Run(ctx, scenario, sess.harnessOptions()...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	summary := newRunSummary(scenario.Name, result, opts.Verbose)
	if !result.Pass {
		if formatter.IsJSON() {
			_ = formatter.Failure(CodeScenarioFailed, fmt.Sprintf("scenario %s failed", scenario.Name), summary)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), summary)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return formatter.Success(summary)
}
