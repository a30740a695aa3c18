package harness

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoReplicas(steps []Step, assertions ...Assertion) *Scenario {
	if len(assertions) == 0 {
		assertions = []Assertion{{Type: AssertConverged}}
	}
	return &Scenario{
		Name:        "inline",
		Description: "inline scenario",
		Replicas:    []ReplicaSpec{{Name: "a"}, {Name: "b"}},
		Steps:       steps,
		Assertions:  assertions,
	}
}

func putTitle(replica, key, title string) Step {
	return Step{Put: &PutStep{Replica: replica, Store: "todos", Key: key, Prop: "title", Value: title}}
}

func TestRun_Converges(t *testing.T) {
	s := twoReplicas([]Step{
		putTitle("a", "1", "x"),
		{Advance: time.Second},
		putTitle("b", "2", "y"),
		{Sync: "a"},
		{Sync: "b"},
		{Sync: "a"},
	},
		Assertion{Type: AssertConverged},
		Assertion{Type: AssertDocument, Replica: "a", Store: "todos", Key: "2", Expect: map[string]any{"title": "y"}},
		Assertion{Type: AssertDocument, Replica: "b", Store: "todos", Key: "1", Expect: map[string]any{"title": "x"}},
		Assertion{Type: AssertEntryCount, Replica: "hub", Count: 2},
	)
	require.NoError(t, validateScenario(s))

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, len(s.Steps)+3)
	assert.Equal(t, "final hub entries=2", result.Trace[len(result.Trace)-1].String())
}

func TestRun_Deterministic(t *testing.T) {
	s := twoReplicas([]Step{
		putTitle("a", "1", "x"),
		putTitle("a", "1", "y"),
		{Sync: "a"},
		{Sync: "b"},
	})

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, first.Lines(), second.Lines())

	// Same millisecond, so the counter increments.
	assert.Contains(t, first.Lines()[0], "@ 2023-11-14T22:13:20.000Z-0000-000000000000000a")
	assert.Contains(t, first.Lines()[1], "@ 2023-11-14T22:13:20.000Z-0001-000000000000000a")
}

func TestRun_DivergedWithoutSync(t *testing.T) {
	s := twoReplicas([]Step{putTitle("a", "1", "x")})

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: converged")
	assert.Contains(t, result.Errors[0], "diverged: a")
	assert.Contains(t, result.Lines(), "final a entries=1 diverged")
	assert.Contains(t, result.Lines(), "final b entries=0 converged")
}

func TestRun_UnexpectedRejection(t *testing.T) {
	s := twoReplicas([]Step{
		{Put: &PutStep{Replica: "a", Store: "todos", Key: true, Prop: "title", Value: "x"}},
	})

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Lines()[0], "rejected:")
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "step 1: a put todos[true].title failed")
}

func TestRun_ExpectedRejection(t *testing.T) {
	s := twoReplicas([]Step{
		{Put: &PutStep{Replica: "a", Store: "todos", Key: true, Prop: "title", Value: "x"}, Expect: ExpectRejected},
		putTitle("b", "1", "x"),
	},
		Assertion{Type: AssertEntryCount, Replica: "a", Count: 0},
	)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_UnexpectedSuccess(t *testing.T) {
	s := twoReplicas([]Step{
		putTitle("a", "1", "x"),
		{Sync: "a", Expect: ExpectProtocolError},
		{Sync: "b"},
	})

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected a protocol error")
}

func TestRun_ResolutionMismatchIsUniform(t *testing.T) {
	// Every replica shares the scenario's resolution, so syncs still work.
	s := twoReplicas([]Step{putTitle("a", "1", "x"), {Sync: "a"}, {Sync: "b"}})
	s.Resolution = time.Hour

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_AssertionFailures(t *testing.T) {
	s := twoReplicas([]Step{putTitle("a", "1", "x"), {Sync: "a"}},
		Assertion{Type: AssertDocument, Replica: "a", Store: "todos", Key: "1", Expect: map[string]any{"title": "other"}},
		Assertion{Type: AssertDocument, Replica: "b", Store: "todos", Key: "1", Expect: map[string]any{"title": "x"}},
		Assertion{Type: AssertDocument, Replica: "hub", Store: "todos", Key: "1", Missing: true},
		Assertion{Type: AssertEntryCount, Replica: "a", Count: 5},
		Assertion{Type: AssertTraceContains, Text: "never printed"},
	)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], `Actual: {"title":"x"}`)
	assert.Contains(t, result.Errors[1], "document not found")
	assert.Contains(t, result.Errors[2], `todos["1"] missing on hub`)
	assert.Contains(t, result.Errors[3], "Actual: 1 entries")
	assert.Contains(t, result.Errors[4], "Full trace:")
	assert.True(t, strings.HasPrefix(result.Errors[4], "assertions[4]: "))
}
