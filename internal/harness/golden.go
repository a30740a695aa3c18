package harness

import (
	"context"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Render formats a scenario trace for golden comparison: a header line, then
// one line per trace event.
func Render(scenarioName string, result *Result) []byte {
	var buf strings.Builder
	buf.WriteString("scenario " + scenarioName + "\n")
	for _, line := range result.Lines() {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return []byte(buf.String())
}

// RunWithGolden executes a scenario, fails t if it did not pass, and compares
// the trace against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, msg)
	}

	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Render(scenarioName, result))
}
