package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Passing(t *testing.T) {
	path := writeFile(t, t.TempDir(), "counter.yaml", passingScenario)

	out, _, err := execute(t, "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ cli_counter: 4 actions, 2 publishes")
	assert.Contains(t, out, "slices: main")
	assert.Contains(t, out, "digest: ")
	assert.NotContains(t, out, "#3", "trace is only shown in verbose mode")
}

func TestRun_VerboseShowsTrace(t *testing.T) {
	path := writeFile(t, t.TempDir(), "counter.yaml", passingScenario)

	out, _, err := execute(t, "run", "-v", path)
	require.NoError(t, err)
	assert.Contains(t, out, "#3 inc ok")
	assert.Contains(t, out, "#5 inc ok (parent #4)")
}

func TestRun_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "counter.yaml", passingScenario)

	out, _, err := execute(t, "run", "--format", "json", path)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Pass)
	assert.Equal(t, "cli_counter", resp.Data.Scenario)
	assert.Equal(t, 2, resp.Data.Publishes)
	assert.Equal(t, []string{"main"}, resp.Data.Slices)
	assert.Len(t, resp.Data.Digest, 64)
	assert.Equal(t, map[string]any{"main": map[string]any{"n": float64(2)}}, resp.Data.State)
}

func TestRun_FailingScenario(t *testing.T) {
	path := writeFile(t, t.TempDir(), "failing.yaml", failingScenario)

	out, _, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario cli_failing failed")
	assert.Contains(t, out, "✗ cli_failing")
	assert.Contains(t, out, "Assertion failed: state_equals")
}

func TestRun_FailingScenarioJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "failing.yaml", failingScenario)

	out, _, err := execute(t, "run", "--format", "json", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, CodeScenarioFailed, resp.Error.Code)
	assert.NotNil(t, resp.Data)
}

func TestRun_InvalidScenario(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "name: bad\n")

	out, _, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, CodeScenarioInvalid)
}

func TestRun_MissingFile(t *testing.T) {
	_, _, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "read scenario file")
}

func TestRun_BadStrategyFlag(t *testing.T) {
	path := writeFile(t, t.TempDir(), "counter.yaml", passingScenario)

	_, _, err := execute(t, "run", "--strategy", "eventual", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--strategy")
}

func TestRun_BadTimeoutFlag(t *testing.T) {
	path := writeFile(t, t.TempDir(), "counter.yaml", passingScenario)

	_, _, err := execute(t, "run", "--timeout", "0s", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_InvalidEnvironment(t *testing.T) {
	t.Setenv("STATESTORE_STRATEGY", "eventual")
	path := writeFile(t, t.TempDir(), "counter.yaml", passingScenario)

	_, _, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "STATESTORE_STRATEGY")
}

func TestRun_FlagOverridesEnvironment(t *testing.T) {
	t.Setenv("STATESTORE_STRATEGY", "eventual")
	path := writeFile(t, t.TempDir(), "counter.yaml", passingScenario)

	// The environment is validated before flags apply.
	_, _, err := execute(t, "run", "--strategy", "concurrent", path)
	require.Error(t, err)

	t.Setenv("STATESTORE_STRATEGY", "exclusive")
	_, _, err = execute(t, "run", "--strategy", "concurrent", path)
	require.NoError(t, err)
}

func TestRun_WritesJournal(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "counter.yaml", passingScenario)
	db := filepath.Join(dir, "trace.db")

	_, _, err := execute(t, "run", "--journal", db, path)
	require.NoError(t, err)

	out, _, err := execute(t, "trace", "--journal", db)
	require.NoError(t, err)
	assert.Contains(t, out, "@@statestore/INITIALIZE_STATE")
	assert.Contains(t, out, "(from ins-0004)")
	assert.Contains(t, out, "4 dispatches: 4 ok, 0 timeout, 0 failed, 0 pending, 1 nested")
}
