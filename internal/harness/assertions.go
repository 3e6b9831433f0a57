package harness

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/statestore/internal/snapshot"
	"github.com/roach88/statestore/internal/tree"
)

// AssertionError is returned when an assertion fails. It carries the trace
// to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] #%d %s %s %v\n", i+1, ev.Seq, ev.Action, ev.Status, ev.Payload)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against r and returns one
// message per failure.
func EvaluateAssertions(r *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(r, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(r *Result, a Assertion) error {
	switch a.Type {
	case AssertStateEquals:
		return assertStateEquals(r, a)
	case AssertStateAbsent:
		return assertStateAbsent(r, a)
	case AssertPublishCount:
		return assertPublishCount(r, a)
	case AssertDispatchOrder:
		return assertDispatchOrder(r, a)
	case AssertSlices:
		return assertSlices(r, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertStateEquals compares canonical JSON, so number representations and
// map ordering do not matter.
func assertStateEquals(r *Result, a Assertion) error {
	p := tree.ParsePath(a.Path)
	got := tree.Get(r.State, p)

	want, err := snapshot.Marshal(a.Value)
	if err != nil {
		return fmt.Errorf("state_equals %s: expected value: %w", p, err)
	}
	have, err := snapshot.Marshal(got)
	if err != nil {
		return fmt.Errorf("state_equals %s: state value: %w", p, err)
	}
	if !bytes.Equal(want, have) {
		return &AssertionError{
			Type:     AssertStateEquals,
			Expected: fmt.Sprintf("%s = %s", p, want),
			Actual:   string(have),
			Trace:    r.Trace,
		}
	}
	return nil
}

func assertStateAbsent(r *Result, a Assertion) error {
	p := tree.ParsePath(a.Path)
	if v, ok := tree.Lookup(r.State, p); ok {
		return &AssertionError{
			Type:     AssertStateAbsent,
			Expected: fmt.Sprintf("no value at %s", p),
			Actual:   fmt.Sprintf("%v", v),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertPublishCount counts successfully published occurrences of an
// action. Timed-out dispatches count: their state was published.
func assertPublishCount(r *Result, a Assertion) error {
	count := 0
	for _, ev := range r.Trace {
		if ev.Action == a.Action && ev.Status != "failed" {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertPublishCount,
			Expected: fmt.Sprintf("%d publishes of %s", a.Count, a.Action),
			Actual:   fmt.Sprintf("%d publishes", count),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertDispatchOrder checks that the actions appear in the trace in the
// given relative order. Other actions may come in between, and an action
// listed twice must appear twice.
func assertDispatchOrder(r *Result, a Assertion) error {
	pos := 0
	for _, want := range a.Actions {
		i := slices.IndexFunc(r.Trace[pos:], func(ev TraceEvent) bool { return ev.Action == want })
		if i < 0 {
			return &AssertionError{
				Type:     AssertDispatchOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual:   fmt.Sprintf("%s not found after position %d", want, pos),
				Trace:    r.Trace,
			}
		}
		pos += i + 1
	}
	return nil
}

func assertSlices(r *Result, a Assertion) error {
	if !slices.Equal(r.Slices, a.Slices) {
		return &AssertionError{
			Type:     AssertSlices,
			Expected: fmt.Sprintf("%v", a.Slices),
			Actual:   fmt.Sprintf("%v", r.Slices),
			Trace:    r.Trace,
		}
	}
	return nil
}
