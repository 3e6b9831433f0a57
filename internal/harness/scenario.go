package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/statestore/internal/store"
	"github.com/roach88/statestore/internal/tree"
)

// Scenario drives one store through a list of steps and checks the
// resulting trace and state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Strategy is the main module's strategy: "exclusive" (default) or
	// "concurrent".
	Strategy string `yaml:"strategy,omitempty"`

	// PropagationTimeout bounds how long a publish waits for subscribers,
	// as a Go duration string. Empty uses the store default.
	PropagationTimeout string `yaml:"propagation_timeout,omitempty"`

	// Preloaded seeds top-level slices before initialization.
	Preloaded map[string]any `yaml:"preloaded,omitempty"`

	// Main is the module the store is created with.
	Main ModuleSpec `yaml:"main"`

	// Modules are feature modules that load and unload steps refer to by
	// slice name.
	Modules []ModuleSpec `yaml:"modules,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// ModuleSpec declares a module whose reducers are built from rules. A module
// sets either Rules (one reducer for the whole slice) or Reducers (a tree of
// rule-driven leaves under the slice).
type ModuleSpec struct {
	Slice        string              `yaml:"slice"`
	Initial      any                 `yaml:"initial,omitempty"`
	Rules        []Rule              `yaml:"rules,omitempty"`
	Reducers     map[string]LeafSpec `yaml:"reducers,omitempty"`
	Dependencies map[string]any      `yaml:"dependencies,omitempty"`

	// Reject lists action types a meta-reducer fails before any reducer
	// runs. On the main module this fails the whole dispatch with
	// REDUCER_FAILED; on a feature module only that slice skips the action.
	Reject []string `yaml:"reject,omitempty"`
}

// LeafSpec is one rule-driven reducer inside a module's reducer tree.
type LeafSpec struct {
	Initial any    `yaml:"initial,omitempty"`
	Rules   []Rule `yaml:"rules,omitempty"`
}

// Step is one scenario operation. Exactly one of Dispatch, Async, Load,
// Unload, SetStrategy or Parallel is set.
type Step struct {
	// Dispatch is the type of a plain action; Payload is its payload.
	Dispatch string `yaml:"dispatch,omitempty"`
	Payload  any    `yaml:"payload,omitempty"`

	// Async dispatches one async action that dispatches these in order.
	Async []ActionSpec `yaml:"async,omitempty"`

	// Load and Unload name a module from Scenario.Modules. Clear drops the
	// slice's state on unload.
	Load   string `yaml:"load,omitempty"`
	Unload string `yaml:"unload,omitempty"`
	Clear  bool   `yaml:"clear,omitempty"`

	SetStrategy string `yaml:"set_strategy,omitempty"`

	// Parallel runs its steps concurrently and waits for all of them.
	Parallel []Step `yaml:"parallel,omitempty"`

	// ExpectError is the store error code the step must fail with, e.g.
	// "REDUCER_FAILED". Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// ActionSpec is a plain action inside an async step.
type ActionSpec struct {
	Type    string `yaml:"type"`
	Payload any    `yaml:"payload,omitempty"`
}

// Step kinds reported by Step.Kind.
const (
	StepDispatch = "dispatch"
	StepAsync    = "async"
	StepLoad     = "load"
	StepUnload   = "unload"
	StepStrategy = "set_strategy"
	StepParallel = "parallel"
)

// Kind names the operation the step performs, or "" when none or several
// are set.
func (s Step) Kind() string {
	var kinds []string
	if s.Dispatch != "" {
		kinds = append(kinds, StepDispatch)
	}
	if len(s.Async) > 0 {
		kinds = append(kinds, StepAsync)
	}
	if s.Load != "" {
		kinds = append(kinds, StepLoad)
	}
	if s.Unload != "" {
		kinds = append(kinds, StepUnload)
	}
	if s.SetStrategy != "" {
		kinds = append(kinds, StepStrategy)
	}
	if len(s.Parallel) > 0 {
		kinds = append(kinds, StepParallel)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Assertion validates the final trace or state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Path is a dotted state path (state_equals, state_absent).
	Path string `yaml:"path,omitempty"`

	// Value is the expected value at Path (state_equals). Numbers compare
	// by value, so 3 and 3.0 are equal.
	Value any `yaml:"value,omitempty"`

	// Action and Count: the action must be published exactly Count times
	// (publish_count).
	Action string `yaml:"action,omitempty"`
	Count  int    `yaml:"count,omitempty"`

	// Actions must appear in this relative order (dispatch_order).
	Actions []string `yaml:"actions,omitempty"`

	// Slices is the expected slice list, main first (slices).
	Slices []string `yaml:"slices,omitempty"`
}

// Assertion type constants.
const (
	AssertStateEquals   = "state_equals"
	AssertStateAbsent   = "state_absent"
	AssertPublishCount  = "publish_count"
	AssertDispatchOrder = "dispatch_order"
	AssertSlices        = "slices"
)

// LoadScenario reads and validates a scenario file. Files ending in .cue are
// evaluated as CUE; anything else is parsed as YAML.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		return ParseCUE(path, data)
	}
	return ParseYAML(data)
}

// ParseYAML parses and validates a YAML scenario. Unknown fields are
// rejected so typos such as "assertion:" fail loudly.
func ParseYAML(data []byte) (*Scenario, error) {
	var scenario Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ParseCUE evaluates a CUE scenario. The value must be concrete; it is
// exported as JSON and decoded with the same strict rules as YAML.
func ParseCUE(filename string, data []byte) (*Scenario, error) {
	v := cuecontext.New().CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	exported, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	// JSON is a subset of YAML, so the YAML decoder yields the same value
	// types for both formats.
	return ParseYAML(exported)
}

// formatCUEError keeps the first error with its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return fmt.Errorf("cue: %w", err)
	}
	first := errs[0]
	if pos := cueerrors.Positions(first); len(pos) > 0 && pos[0].IsValid() {
		return fmt.Errorf("%s:%d:%d: cue: %s", pos[0].Filename(), pos[0].Line(), pos[0].Column(), first.Error())
	}
	return fmt.Errorf("cue: %w", first)
}

// ScenarioFiles lists the scenario files directly inside dir, sorted.
func ScenarioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".cue":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

// validateScenario checks required fields and cross references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := store.ParseStrategy(s.Strategy); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if s.PropagationTimeout != "" {
		d, err := time.ParseDuration(s.PropagationTimeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("propagation_timeout: invalid duration %q", s.PropagationTimeout)
		}
	}

	mainSlice := s.Main.Slice
	if mainSlice == "" {
		mainSlice = store.MainSlice
	}
	if err := validateModule("main", s.Main); err != nil {
		return err
	}

	declared := map[string]bool{}
	for i, m := range s.Modules {
		where := fmt.Sprintf("modules[%d]", i)
		if m.Slice == "" {
			return fmt.Errorf("%s: slice is required", where)
		}
		if m.Slice == mainSlice || m.Slice == store.MainSlice {
			return fmt.Errorf("%s: slice %q collides with the main module", where, m.Slice)
		}
		if declared[m.Slice] {
			return fmt.Errorf("%s: duplicate slice %q", where, m.Slice)
		}
		declared[m.Slice] = true
		if err := validateModule(where, m); err != nil {
			return err
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(fmt.Sprintf("steps[%d]", i), step, declared, false); err != nil {
			return err
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateModule(where string, m ModuleSpec) error {
	if len(m.Rules) > 0 && len(m.Reducers) > 0 {
		return fmt.Errorf("%s: rules and reducers are mutually exclusive", where)
	}
	if len(m.Reducers) > 0 && m.Initial != nil {
		return fmt.Errorf("%s: initial belongs on each reducer when reducers is used", where)
	}
	for i, r := range m.Rules {
		if err := r.validate(); err != nil {
			return fmt.Errorf("%s.rules[%d]: %w", where, i, err)
		}
	}
	for i, t := range m.Reject {
		if t == "" {
			return fmt.Errorf("%s.reject[%d]: empty action type", where, i)
		}
	}
	for name, leaf := range m.Reducers {
		if name == "" {
			return fmt.Errorf("%s.reducers: empty key", where)
		}
		for i, r := range leaf.Rules {
			if err := r.validate(); err != nil {
				return fmt.Errorf("%s.reducers.%s.rules[%d]: %w", where, name, i, err)
			}
		}
	}
	return nil
}

var errorCodes = []store.ErrorCode{
	store.ErrCodeInvalidAction,
	store.ErrCodeReducerFailed,
	store.ErrCodePropagationTimeout,
	store.ErrCodeStoreClosed,
	store.ErrCodeInvalidModule,
	store.ErrCodeAsyncFailed,
}

func validateStep(where string, step Step, modules map[string]bool, nested bool) error {
	kind := step.Kind()
	if kind == "" {
		return fmt.Errorf("%s: exactly one of dispatch, async, load, unload, set_strategy or parallel is required", where)
	}
	if step.ExpectError != "" && !slices.Contains(errorCodes, store.ErrorCode(step.ExpectError)) {
		return fmt.Errorf("%s: unknown expect_error %q", where, step.ExpectError)
	}
	if step.Payload != nil && kind != StepDispatch {
		return fmt.Errorf("%s: payload is only valid with dispatch", where)
	}
	if step.Clear && kind != StepUnload {
		return fmt.Errorf("%s: clear is only valid with unload", where)
	}

	switch kind {
	case StepAsync:
		for i, a := range step.Async {
			if a.Type == "" {
				return fmt.Errorf("%s.async[%d]: type is required", where, i)
			}
		}
	case StepLoad:
		if !modules[step.Load] {
			return fmt.Errorf("%s: load refers to undeclared module %q", where, step.Load)
		}
	case StepUnload:
		if !modules[step.Unload] {
			return fmt.Errorf("%s: unload refers to undeclared module %q", where, step.Unload)
		}
	case StepStrategy:
		if _, err := store.ParseStrategy(step.SetStrategy); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
	case StepParallel:
		if nested {
			return fmt.Errorf("%s: parallel steps cannot nest", where)
		}
		if step.ExpectError != "" {
			return fmt.Errorf("%s: expect_error belongs on the parallel sub-steps", where)
		}
		for i, sub := range step.Parallel {
			if err := validateStep(fmt.Sprintf("%s.parallel[%d]", where, i), sub, modules, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertStateEquals:
		// An empty path compares the whole tree.
	case AssertStateAbsent:
		if tree.ParsePath(a.Path).IsWildcard() {
			return fmt.Errorf("assertions[%d]: path is required for state_absent", index)
		}
	case AssertPublishCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for publish_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for publish_count", index)
		}
	case AssertDispatchOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for dispatch_order", index)
		}
	case AssertSlices:
		if len(a.Slices) == 0 {
			return fmt.Errorf("assertions[%d]: slices list is required for slices", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
