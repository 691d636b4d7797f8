package harness

// TraceEvent records one executed step.
// Digest is an alias (d1, d2, ...) rather than the fingerprint so traces stay
// readable and stable across hash changes.
type TraceEvent struct {
	Step        int      `json:"step"`
	Op          string   `json:"op"`
	As          string   `json:"as,omitempty"`
	Digest      string   `json:"digest,omitempty"`
	Files       []string `json:"files,omitempty"`
	Paths       []string `json:"paths,omitempty"`
	Count       *int     `json:"count,omitempty"`
	Invalidated *bool    `json:"invalidated,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step that was expected to succeed did and
	// every assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step, in step order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Runs counts rule body executions by rule name.
	Runs map[string]int `json:"runs,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Runs:   make(map[string]int),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
