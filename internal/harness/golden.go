package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/statestore/internal/snapshot"
)

// GoldenDir holds golden files relative to the test's package directory.
const GoldenDir = "testdata/golden"

// Snapshot renders the deterministic part of a result as canonical JSON:
// the trace, final state, digest, slices and publish count. Instruction IDs
// and store IDs are left out.
func Snapshot(name string, r *Result) ([]byte, error) {
	events := make([]any, len(r.Trace))
	for i, ev := range r.Trace {
		m := map[string]any{
			"seq":    ev.Seq,
			"action": ev.Action,
			"status": ev.Status,
		}
		if ev.Parent != 0 {
			m["parent"] = ev.Parent
		}
		if ev.Payload != nil {
			m["payload"] = ev.Payload
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		events[i] = m
	}

	doc := map[string]any{
		"scenario":  name,
		"pass":      r.Pass,
		"trace":     events,
		"state":     r.State,
		"digest":    r.Digest,
		"slices":    stringsToAny(r.Slices),
		"publishes": r.Publishes,
	}
	if len(r.Errors) > 0 {
		doc["errors"] = stringsToAny(r.Errors)
	}
	return snapshot.Marshal(doc)
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against the golden file for name.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
