package harness

import (
	"fmt"
	"strings"
)

// TraceEvent is one line of a scenario trace.
type TraceEvent struct {
	// Seq is the 1-based step number; zero for the final summary lines.
	Seq     int    `json:"seq,omitempty"`
	Replica string `json:"replica,omitempty"`
	Op      string `json:"op"`
	Detail  string `json:"detail,omitempty"`
}

// String renders the event as it appears in golden files.
func (e TraceEvent) String() string {
	var parts []string
	if e.Op == opFinal {
		parts = append(parts, opFinal, e.Replica)
	} else {
		if e.Replica != "" {
			parts = append(parts, e.Replica)
		}
		parts = append(parts, e.Op)
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	line := strings.Join(parts, " ")
	if e.Seq > 0 {
		return fmt.Sprintf("%d: %s", e.Seq, line)
	}
	return line
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors lists unexpected step outcomes and failed assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event.
func (r *Result) AddTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}

// Lines renders the trace, one event per line.
func (r *Result) Lines() []string {
	lines := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		lines[i] = e.String()
	}
	return lines
}
