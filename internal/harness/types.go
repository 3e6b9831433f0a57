package harness

// TraceEvent is one plain action as it left the pipeline.
type TraceEvent struct {
	// Seq is the instruction's issuance number.
	Seq int64 `json:"seq"`
	// Parent is the Seq of the async action that dispatched this one, or 0.
	Parent  int64  `json:"parent,omitempty"`
	Action  string `json:"action"`
	Payload any    `json:"payload,omitempty"`
	// Status is "ok", "timeout" or "failed".
	Status string `json:"status"`
	// Error is the store error code for failed or timed-out dispatches.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as declared and every assertion
	// held.
	Pass bool `json:"pass"`

	// Trace lists plain actions in completion order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step mismatches and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// State is the final state tree and Digest its canonical digest.
	State  any    `json:"state"`
	Digest string `json:"digest"`

	// Slices lists the loaded slices, main first.
	Slices []string `json:"slices"`

	// Publishes counts state trees published after initialization.
	Publishes int `json:"publishes"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Actions returns the action types in trace order.
func (r *Result) Actions() []string {
	out := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		out[i] = e.Action
	}
	return out
}
