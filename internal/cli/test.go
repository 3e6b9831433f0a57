package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/statestore/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Store  StoreFlags
	Golden string // golden file directory; empty skips golden comparison
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern on the file name)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	File   string   `json:"file"`
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Digest string   `json:"digest,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run every scenario in a directory",
		Long: `Run every .yaml, .yml and .cue scenario directly inside a directory.

With --golden each result snapshot is compared byte for byte with
<golden>/<scenario name>.golden; --update rewrites those files instead.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  statestore test ./scenarios
  statestore test ./scenarios --filter "module_*"
  statestore test ./scenarios --golden ./scenarios/golden --update
  statestore test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	opts.Store.register(cmd)
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "compare snapshots with golden files in this directory")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files (requires --golden)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	if opts.Update && opts.Golden == "" {
		return NewExitError(ExitCommandError, "--update requires --golden")
	}
	if _, err := filepath.Match(opts.Filter, ""); err != nil {
		return WrapExitError(ExitCommandError, "invalid filter pattern", err)
	}

	cfg, err := opts.Store.resolve(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	if len(files) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	sess, err := openSession(commandContext(cmd), cmd, opts.RootOptions, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up run", err)
	}
	defer sess.close()

	for _, file := range files {
		sr := testScenario(opts, sess, file, cmd)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// findScenarioFiles lists scenario files in dir whose base name without
// extension matches filter.
func findScenarioFiles(dir, filter string) ([]string, error) {
	files, err := harness.ScenarioFiles(dir)
	if err != nil || filter == "" {
		return files, err
	}
	var out []string
	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		if ok, _ := filepath.Match(filter, name); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// testScenario loads, runs and optionally golden-checks one scenario.
func testScenario(opts *TestOptions, sess *session, file string, cmd *cobra.Command) ScenarioResult {
	w := cmd.OutOrStdout()
	text := opts.Format != "json"
	sr := ScenarioResult{File: file, Name: filepath.Base(file)}

	fail := func(msgs ...string) ScenarioResult {
		sr.Pass = false
		sr.Errors = append(sr.Errors, msgs...)
		if text {
			fmt.Fprintf(w, "✗ %s\n", sr.Name)
			for _, m := range sr.Errors {
				fmt.Fprintf(w, "  %s\n", m)
			}
		}
		return sr
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail(fmt.Sprintf("failed to load scenario: %v", err))
	}
	sr.Name = scenario.Name

	result, err := harness.Run(commandContext(cmd), scenario, sess.harnessOptions()...)
	if err != nil {
		return fail(fmt.Sprintf("failed to run scenario: %v", err))
	}
	sr.Digest = result.Digest
	if !result.Pass {
		return fail(result.Errors...)
	}

	if opts.Golden != "" {
		if err := checkGolden(opts, scenario.Name, result); err != nil {
			return fail(err.Error())
		}
	}

	sr.Pass = true
	if text {
		fmt.Fprintf(w, "✓ %s\n", sr.Name)
	}
	return sr
}

// errGoldenMismatch marks a snapshot that differs from its golden file.
var errGoldenMismatch = errors.New("snapshot differs from golden file")

func checkGolden(opts *TestOptions, name string, result *harness.Result) error {
	data, err := harness.Snapshot(name, result)
	if err != nil {
		return fmt.Errorf("failed to build snapshot: %w", err)
	}
	path := filepath.Join(opts.Golden, name+".golden")

	if opts.Update {
		if err := os.MkdirAll(opts.Golden, 0o755); err != nil {
			return fmt.Errorf("failed to create golden dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write golden file: %w", err)
		}
		return nil
	}

	want, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("golden file %s missing (run with --update)", path)
	}
	if err != nil {
		return fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(want, data) {
		return fmt.Errorf("%s: %w", CodeGoldenMismatch, errGoldenMismatch)
	}
	return nil
}

func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	f := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
	if result.Failed > 0 {
		msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
		if err := f.Failure(CodeTestFailed, msg, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	return f.Success(result)
}

func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
