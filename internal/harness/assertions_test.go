package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertEntryCount,
		Expected: "2 entries on a",
		Actual:   "1 entries",
		Trace:    []TraceEvent{{Seq: 1, Op: opAdvance, Detail: "1s"}},
	}

	want := "Assertion failed: entry_count\n" +
		"  Expected: 2 entries on a\n" +
		"  Actual: 1 entries\n" +
		"\nFull trace:\n" +
		"  1: advance 1s\n"
	assert.Equal(t, want, err.Error())

	err.Trace = nil
	assert.NotContains(t, err.Error(), "Full trace")
}

func TestAssertTraceContains(t *testing.T) {
	trace := []TraceEvent{
		{Seq: 1, Replica: "a", Op: opSync, Detail: "rounds=2 sent=3 received=1 applied=0"},
		{Replica: "a", Op: opFinal, Detail: "entries=3 converged"},
	}

	assert.NoError(t, assertTraceContains(trace, Assertion{Text: "a sync rounds=2"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Text: "final a entries=3"}))

	err := assertTraceContains(trace, Assertion{Text: "rounds=3"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
}

func TestTraceEvent_String(t *testing.T) {
	tests := []struct {
		event TraceEvent
		want  string
	}{
		{TraceEvent{Seq: 4, Replica: "a", Op: opSync, Detail: "rounds=1"}, "4: a sync rounds=1"},
		{TraceEvent{Seq: 2, Op: opAdvance, Detail: "2m0s"}, "2: advance 2m0s"},
		{TraceEvent{Seq: 7, Replica: "b", Op: opRestart}, "7: b restart"},
		{TraceEvent{Replica: "hub", Op: opFinal, Detail: "entries=4"}, "final hub entries=4"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.event.String())
	}
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: "final_state"}}, &AssertionContext{})
	require.Len(t, errs, 1)
	assert.Equal(t, `assertions[0]: unknown assertion type "final_state"`, errs[0])
}
