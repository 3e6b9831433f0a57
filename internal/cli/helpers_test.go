package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const passingScenario = `
name: cli_counter
description: Counter driven by a plain and an async dispatch
main:
  initial: {n: 0}
  rules:
    - {on: inc, op: inc, path: n}
steps:
  - dispatch: inc
  - async: [{type: inc}]
assertions:
  - {type: state_equals, path: main.n, value: 2}
`

const failingScenario = `
name: cli_failing
description: Assertion that cannot hold
main:
  initial: {n: 0}
  rules:
    - {on: inc, op: inc, path: n}
steps:
  - dispatch: inc
assertions:
  - {type: state_equals, path: main.n, value: 3}
`

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
