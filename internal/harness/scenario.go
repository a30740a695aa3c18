package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/value"
)

// Scenario defines a convergence scenario: replicas, the steps they take and
// what must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the RFC 3339 wall time the run begins at. Empty means
	// DefaultStart.
	Start string `yaml:"start,omitempty"`

	// Group is the sync group. Empty means DefaultGroup.
	Group string `yaml:"group,omitempty"`

	// Resolution and MaxDrift override the engine defaults when non-zero.
	Resolution time.Duration `yaml:"resolution,omitempty"`
	MaxDrift   time.Duration `yaml:"max_drift,omitempty"`

	// Hub names the server replica. Empty means DefaultHub.
	Hub string `yaml:"hub,omitempty"`

	Replicas   []ReplicaSpec `yaml:"replicas"`
	Steps      []Step        `yaml:"steps"`
	Assertions []Assertion   `yaml:"assertions"`
}

// ReplicaSpec declares a client replica. The name doubles as its node id.
type ReplicaSpec struct {
	Name string `yaml:"name"`

	// Skew shifts this replica's physical clock relative to the shared wall.
	Skew time.Duration `yaml:"skew,omitempty"`
}

// Step is one action. Exactly one of Put, Advance, Sync and Restart is set.
type Step struct {
	Put     *PutStep      `yaml:"put,omitempty"`
	Advance time.Duration `yaml:"advance,omitempty"`
	Sync    string        `yaml:"sync,omitempty"`
	Restart string        `yaml:"restart,omitempty"`

	// Expect names the outcome of a put or sync that is supposed to fail:
	// ExpectRejected or ExpectProtocolError. Empty means success.
	Expect string `yaml:"expect,omitempty"`
}

// PutStep writes through one replica's engine.
type PutStep struct {
	Replica string `yaml:"replica"`
	Store   string `yaml:"store"`
	Key     any    `yaml:"key"`
	Prop    string `yaml:"prop,omitempty"`
	Value   any    `yaml:"value"`
}

// Assertion validates the final state or the trace.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	// Replica is the replica inspected by document and entry_count. The hub
	// may be named here.
	Replica string `yaml:"replica,omitempty"`

	// Store, Key and Expect describe the document (used by document).
	Store  string `yaml:"store,omitempty"`
	Key    any    `yaml:"key,omitempty"`
	Expect any    `yaml:"expect,omitempty"`

	// Missing asserts that the document does not exist (used by document).
	Missing bool `yaml:"missing,omitempty"`

	// Count is the expected number of stored entries (used by entry_count).
	Count int `yaml:"count,omitempty"`

	// Text must appear in some trace line (used by trace_contains).
	Text string `yaml:"text,omitempty"`
}

// Assertion type constants.
const (
	AssertConverged     = "converged"
	AssertDocument      = "document"
	AssertEntryCount    = "entry_count"
	AssertTraceContains = "trace_contains"
)

// Step expectations.
const (
	ExpectRejected      = "rejected"
	ExpectProtocolError = "protocol_error"
)

// Scenario defaults.
const (
	DefaultStart = "2023-11-14T22:13:20Z"
	DefaultGroup = "harness"
	DefaultHub   = "hub"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	names := make(map[string]string)
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if prev, ok := names[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", filepath.Base(path), s.Name, prev)
		}
		names[s.Name] = filepath.Base(path)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func (s *Scenario) hubName() string {
	if s.Hub == "" {
		return DefaultHub
	}
	return s.Hub
}

func (s *Scenario) group() string {
	if s.Group == "" {
		return DefaultGroup
	}
	return s.Group
}

func (s *Scenario) startTime() (time.Time, error) {
	if s.Start == "" {
		return time.Parse(time.RFC3339, DefaultStart)
	}
	return time.Parse(time.RFC3339, s.Start)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := s.startTime(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if s.Resolution < 0 || s.MaxDrift < 0 {
		return fmt.Errorf("resolution and max_drift must not be negative")
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	hub := s.hubName()
	if _, err := hlc.ParseNodeID(hub); err != nil {
		return fmt.Errorf("hub: %w", err)
	}
	clients := make(map[string]bool)
	for i, r := range s.Replicas {
		if _, err := hlc.ParseNodeID(r.Name); err != nil {
			return fmt.Errorf("replicas[%d]: %w", i, err)
		}
		if r.Name == hub {
			return fmt.Errorf("replicas[%d]: %q is the hub", i, r.Name)
		}
		if clients[r.Name] {
			return fmt.Errorf("replicas[%d]: duplicate replica %q", i, r.Name)
		}
		clients[r.Name] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, clients); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, clients, hub); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step Step, clients map[string]bool) error {
	actions := 0
	if step.Put != nil {
		actions++
	}
	if step.Advance != 0 {
		actions++
	}
	if step.Sync != "" {
		actions++
	}
	if step.Restart != "" {
		actions++
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one of put, advance, sync, restart is required", index)
	}

	switch {
	case step.Put != nil:
		p := step.Put
		if !clients[p.Replica] {
			return fmt.Errorf("steps[%d].put: unknown replica %q", index, p.Replica)
		}
		if p.Store == "" {
			return fmt.Errorf("steps[%d].put: store is required", index)
		}
		if _, err := toValue(p.Key); err != nil {
			return fmt.Errorf("steps[%d].put.key: %w", index, err)
		}
		if _, err := toValue(p.Value); err != nil {
			return fmt.Errorf("steps[%d].put.value: %w", index, err)
		}
		if step.Expect != "" && step.Expect != ExpectRejected {
			return fmt.Errorf("steps[%d]: a put can only expect %q", index, ExpectRejected)
		}
	case step.Sync != "":
		if !clients[step.Sync] {
			return fmt.Errorf("steps[%d].sync: unknown replica %q", index, step.Sync)
		}
		if step.Expect != "" && step.Expect != ExpectProtocolError {
			return fmt.Errorf("steps[%d]: a sync can only expect %q", index, ExpectProtocolError)
		}
	case step.Restart != "":
		if !clients[step.Restart] {
			return fmt.Errorf("steps[%d].restart: unknown replica %q", index, step.Restart)
		}
		if step.Expect != "" {
			return fmt.Errorf("steps[%d]: restart takes no expect", index)
		}
	default:
		if step.Advance < 0 {
			return fmt.Errorf("steps[%d].advance: must be positive", index)
		}
		if step.Expect != "" {
			return fmt.Errorf("steps[%d]: advance takes no expect", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, clients map[string]bool, hub string) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	known := func(name string) bool { return clients[name] || name == hub }

	switch a.Type {
	case AssertConverged:
	case AssertDocument:
		if !known(a.Replica) {
			return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
		}
		if a.Store == "" {
			return fmt.Errorf("assertions[%d]: store is required for document", index)
		}
		if _, err := toValue(a.Key); err != nil {
			return fmt.Errorf("assertions[%d].key: %w", index, err)
		}
		if a.Missing == (a.Expect != nil) {
			return fmt.Errorf("assertions[%d]: document needs exactly one of expect and missing", index)
		}
	case AssertEntryCount:
		if !known(a.Replica) {
			return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for entry_count", index)
		}
	case AssertTraceContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for trace_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

// toValue converts a decoded YAML value to a value.Value through its JSON
// form.
func toValue(v any) (value.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return value.Unmarshal(data)
}
