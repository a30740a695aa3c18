package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/hlcsync/internal/value"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}

	return buf.String()
}

// AssertionContext carries what state assertions need to inspect.
type AssertionContext struct {
	Ctx     context.Context
	Harness *Harness
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertConverged:
			err = assertConverged(actx.Harness)
		case AssertDocument:
			err = assertDocument(actx.Ctx, actx.Harness, a)
		case AssertEntryCount:
			err = assertEntryCount(actx.Ctx, actx.Harness, a)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertConverged checks that every client's Merkle root equals the hub's.
func assertConverged(h *Harness) error {
	hubRoot := h.hub.engine.Trie().Hash()
	var diverged []string
	for _, r := range h.order {
		if r.engine.Trie().Hash() != hubRoot {
			diverged = append(diverged, r.name)
		}
	}
	if len(diverged) > 0 {
		return &AssertionError{
			Type:     AssertConverged,
			Expected: fmt.Sprintf("every replica at hub root %016x", hubRoot),
			Actual:   fmt.Sprintf("diverged: %s", strings.Join(diverged, ", ")),
		}
	}
	return nil
}

// assertDocument compares the projected document canonically.
func assertDocument(ctx context.Context, h *Harness, a Assertion) error {
	r, ok := h.replica(a.Replica)
	if !ok {
		return fmt.Errorf("unknown replica %q", a.Replica)
	}
	key, err := toValue(a.Key)
	if err != nil {
		return err
	}
	doc, err := r.engine.Get(ctx, a.Store, key)
	if err != nil {
		return err
	}

	field := describeField(a.Store, key, "")
	if a.Missing {
		if doc.Found {
			return &AssertionError{
				Type:     AssertDocument,
				Expected: fmt.Sprintf("%s missing on %s", field, r.name),
				Actual:   value.Text(doc.Value),
			}
		}
		return nil
	}

	want, err := toValue(a.Expect)
	if err != nil {
		return err
	}
	if !doc.Found {
		return &AssertionError{
			Type:     AssertDocument,
			Expected: fmt.Sprintf("%s = %s on %s", field, value.Text(want), r.name),
			Actual:   "document not found",
		}
	}
	if got := value.Text(doc.Value); got != value.Text(want) {
		return &AssertionError{
			Type:     AssertDocument,
			Expected: fmt.Sprintf("%s = %s on %s", field, value.Text(want), r.name),
			Actual:   got,
		}
	}
	return nil
}

// assertEntryCount checks how many entries a replica stored.
func assertEntryCount(ctx context.Context, h *Harness, a Assertion) error {
	r, ok := h.replica(a.Replica)
	if !ok {
		return fmt.Errorf("unknown replica %q", a.Replica)
	}
	n, err := r.store.CountEntries(ctx)
	if err != nil {
		return err
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertEntryCount,
			Expected: fmt.Sprintf("%d entries on %s", a.Count, r.name),
			Actual:   fmt.Sprintf("%d entries", n),
		}
	}
	return nil
}

// assertTraceContains checks that some trace line contains the text.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if strings.Contains(event.String(), a.Text) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("a trace line containing %q", a.Text),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}
