// Package cli implements the statestore command line: run, validate and
// test scenario files, and list journaled dispatches with trace.
//
// Commands share RootOptions (--verbose, --format) and report through
// OutputFormatter. Failures are returned as *ExitError; GetExitCode maps
// them to 0 (success), 1 (scenario or test failure) or 2 (command error).
package cli
