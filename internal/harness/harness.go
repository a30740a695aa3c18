package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/hlcsync/internal/engine"
	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/store"
	"github.com/roach88/hlcsync/internal/testutil"
	"github.com/roach88/hlcsync/internal/transport"
	"github.com/roach88/hlcsync/internal/value"
)

const (
	opPut     = "put"
	opAdvance = "advance"
	opSync    = "sync"
	opRestart = "restart"
	opFinal   = "final"
)

// replica is one engine over its own in-memory store.
type replica struct {
	name   string
	node   hlc.NodeID
	skew   time.Duration
	store  *store.Store
	engine *engine.Engine
}

// Harness executes one scenario. All replicas share the manual wall clock.
type Harness struct {
	scenario *Scenario
	wall     *testutil.ManualClock
	hub      *replica
	clients  map[string]*replica
	order    []*replica
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each replica runs in a fresh in-memory database for isolation.
// Execution flow:
// 1. Open the hub and every client replica
// 2. Execute the steps in order, tracing each
// 3. Trace a final summary line per replica
// 4. Evaluate the assertions
//
// Unexpected step outcomes and failed assertions are reported in the
// result; the returned error is reserved for infrastructure failures.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(ctx, scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	if err := h.summarize(ctx, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Ctx: ctx, Harness: h}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario) (*Harness, error) {
	start, err := scenario.startTime()
	if err != nil {
		return nil, err
	}

	h := &Harness{
		scenario: scenario,
		wall:     testutil.NewManualClock(start),
		clients:  make(map[string]*replica),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	h.hub, err = h.openReplica(ctx, scenario.hubName(), 0)
	if err != nil {
		return nil, err
	}
	for _, spec := range scenario.Replicas {
		r, err := h.openReplica(ctx, spec.Name, spec.Skew)
		if err != nil {
			h.close()
			return nil, err
		}
		h.clients[spec.Name] = r
		h.order = append(h.order, r)
	}
	return h, nil
}

func (h *Harness) openReplica(ctx context.Context, name string, skew time.Duration) (*replica, error) {
	node, err := hlc.ParseNodeID(name)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store for %s: %w", name, err)
	}
	r := &replica{name: name, node: node, skew: skew, store: st}
	if err := h.openEngine(ctx, r); err != nil {
		st.Close()
		return nil, err
	}
	return r, nil
}

// openEngine (re)creates r's engine over its store.
func (h *Harness) openEngine(ctx context.Context, r *replica) error {
	skew := r.skew
	clockOpts := []hlc.ClockOption{
		hlc.WithNow(func() time.Time { return h.wall.Now().Add(skew) }),
	}
	if h.scenario.MaxDrift > 0 {
		clockOpts = append(clockOpts, hlc.WithMaxDrift(h.scenario.MaxDrift))
	}

	opts := []engine.Option{
		engine.WithGroup(h.scenario.group()),
		engine.WithLogger(h.logger.With("replica", r.name)),
		engine.WithClockOptions(clockOpts...),
	}
	if h.scenario.Resolution > 0 {
		opts = append(opts, engine.WithResolution(h.scenario.Resolution))
	}

	eng, err := engine.Open(ctx, r.store, r.node, opts...)
	if err != nil {
		return fmt.Errorf("failed to open engine for %s: %w", r.name, err)
	}
	r.engine = eng
	return nil
}

func (h *Harness) close() {
	if h.hub != nil {
		h.hub.store.Close()
	}
	for _, r := range h.order {
		r.store.Close()
	}
}

// replica returns a client or the hub by name.
func (h *Harness) replica(name string) (*replica, bool) {
	if name == h.hub.name {
		return h.hub, true
	}
	r, ok := h.clients[name]
	return r, ok
}

// execute runs one step.
func (h *Harness) execute(ctx context.Context, seq int, step Step, result *Result) error {
	switch {
	case step.Put != nil:
		return h.executePut(ctx, seq, step, result)

	case step.Sync != "":
		r := h.clients[step.Sync]
		report, err := r.engine.Sync(ctx, transport.Local{Handler: h.hub.engine})
		if err != nil {
			result.AddTrace(TraceEvent{Seq: seq, Replica: r.name, Op: opSync, Detail: "failed: " + err.Error()})
			if step.Expect != ExpectProtocolError || !engine.IsProtocolError(err) {
				result.AddError(fmt.Sprintf("step %d: %s sync failed: %v", seq, r.name, err))
			}
			return nil
		}
		result.AddTrace(TraceEvent{Seq: seq, Replica: r.name, Op: opSync, Detail: fmt.Sprintf(
			"rounds=%d sent=%d received=%d applied=%d",
			report.Rounds, report.Sent, report.Received, report.Applied)})
		if step.Expect == ExpectProtocolError {
			result.AddError(fmt.Sprintf("step %d: %s sync succeeded, expected a protocol error", seq, r.name))
		}
		return nil

	case step.Restart != "":
		r := h.clients[step.Restart]
		if err := h.openEngine(ctx, r); err != nil {
			return err
		}
		result.AddTrace(TraceEvent{Seq: seq, Replica: r.name, Op: opRestart})
		return nil

	default:
		h.wall.Advance(step.Advance)
		result.AddTrace(TraceEvent{Seq: seq, Op: opAdvance, Detail: step.Advance.String()})
		return nil
	}
}

func (h *Harness) executePut(ctx context.Context, seq int, step Step, result *Result) error {
	p := step.Put
	r := h.clients[p.Replica]

	key, err := toValue(p.Key)
	if err != nil {
		return err
	}
	val, err := toValue(p.Value)
	if err != nil {
		return err
	}

	field := describeField(p.Store, key, p.Prop)
	entry, err := r.engine.Apply(ctx, engine.Mutation{Store: p.Store, ObjectKey: key, Prop: p.Prop, Value: val})
	if err != nil {
		result.AddTrace(TraceEvent{Seq: seq, Replica: r.name, Op: opPut, Detail: fmt.Sprintf("%s rejected: %v", field, err)})
		if step.Expect != ExpectRejected {
			result.AddError(fmt.Sprintf("step %d: %s put %s failed: %v", seq, r.name, field, err))
		}
		return nil
	}

	result.AddTrace(TraceEvent{Seq: seq, Replica: r.name, Op: opPut, Detail: fmt.Sprintf(
		"%s = %s @ %s", field, value.Text(val), entry.HLCTime)})
	if step.Expect == ExpectRejected {
		result.AddError(fmt.Sprintf("step %d: %s put %s succeeded, expected a rejection", seq, r.name, field))
	}
	return nil
}

// summarize traces one final line per client and one for the hub.
func (h *Harness) summarize(ctx context.Context, result *Result) error {
	hubRoot := h.hub.engine.Trie().Hash()
	for _, r := range h.order {
		n, err := r.store.CountEntries(ctx)
		if err != nil {
			return err
		}
		state := "diverged"
		if r.engine.Trie().Hash() == hubRoot {
			state = "converged"
		}
		result.AddTrace(TraceEvent{Replica: r.name, Op: opFinal, Detail: fmt.Sprintf("entries=%d %s", n, state)})
	}

	n, err := h.hub.store.CountEntries(ctx)
	if err != nil {
		return err
	}
	result.AddTrace(TraceEvent{Replica: h.hub.name, Op: opFinal, Detail: fmt.Sprintf("entries=%d", n)})
	return nil
}

// describeField renders store[key].prop, or store[key] for a whole object.
func describeField(storeName string, key value.Value, prop string) string {
	field := fmt.Sprintf("%s[%s]", storeName, value.Text(key))
	if prop != "" {
		field += "." + prop
	}
	return field
}
