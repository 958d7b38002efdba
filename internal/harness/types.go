package harness

import (
	"encoding/json"

	"github.com/roach88/fluxo/internal/trace"
)

// Outcome classifies how an intent ended.
type Outcome string

const (
	OutcomeHandled    Outcome = "handled"
	OutcomeError      Outcome = "error"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeClosed     Outcome = "closed"
)

// StepResult records what a send step produced.
type StepResult struct {
	Step    int     `json:"step"`
	Intent  string  `json:"intent"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace is the normalized event trace, ordered by seq.
	Trace []trace.Entry `json:"trace"`

	// Steps lists the outcome of every send step in flow order.
	Steps []StepResult `json:"steps"`

	// State is the final state as canonical JSON.
	State json.RawMessage `json:"state"`

	// Effects names the collected side effects in arrival order.
	Effects []string `json:"effects,omitempty"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:  true,
		Trace: []trace.Entry{},
		Steps: []StepResult{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
