package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/statestore/internal/harness"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// FileValidation is the validation outcome of one scenario file.
type FileValidation struct {
	File     string `json:"file"`
	Scenario string `json:"scenario,omitempty"`
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <scenario>...",
		Short: "Check scenario files without running them",
		Long: `Parse scenario files and check their structure: required fields, rule
operations, step kinds, module references, error codes and assertion types.
CUE scenarios must evaluate to concrete values.

Examples:
  statestore validate ./scenarios/counter.yaml
  statestore validate ./scenarios/*.cue --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, files []string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	results := make([]FileValidation, 0, len(files))
	invalid := 0
	for _, file := range files {
		formatter.VerboseLog("validating %s", file)
		v := FileValidation{File: file, Valid: true}
		scenario, err := harness.LoadScenario(file)
		if err != nil {
			v.Valid = false
			v.Error = err.Error()
			invalid++
		} else {
			v.Scenario = scenario.Name
		}
		results = append(results, v)
	}

	if formatter.IsJSON() {
		if invalid > 0 {
			msg := fmt.Sprintf("%d of %d scenario(s) invalid", invalid, len(files))
			_ = formatter.Failure(CodeScenarioInvalid, msg, results)
			return NewExitError(ExitFailure, msg)
		}
		return formatter.Success(results)
	}

	w := cmd.OutOrStdout()
	for _, v := range results {
		if v.Valid {
			fmt.Fprintf(w, "✓ %s (%s)\n", v.File, v.Scenario)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n  %s\n", v.File, v.Error)
	}
	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) invalid", invalid, len(files)))
	}
	return nil
}
