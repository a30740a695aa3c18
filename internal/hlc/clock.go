package hlc

import (
	"sync"
	"time"
)

// DefaultMaxDrift bounds how far logical time may run ahead of wall time.
const DefaultMaxDrift = 60 * time.Second

// Clock is a hybrid logical clock owned by one replica.
//
// All methods are safe for concurrent use. The engine additionally serializes
// clock use with its merges so that a timestamp and the write it stamps are
// observed together.
type Clock struct {
	mu       sync.Mutex
	node     NodeID
	last     Timestamp
	maxDrift time.Duration
	now      func() time.Time
}

// ClockOption configures a Clock.
type ClockOption func(*Clock)

// WithMaxDrift overrides DefaultMaxDrift.
func WithMaxDrift(d time.Duration) ClockOption {
	return func(c *Clock) { c.maxDrift = d }
}

// WithNow replaces the physical clock. Tests use this with a manual clock.
func WithNow(now func() time.Time) ClockOption {
	return func(c *Clock) { c.now = now }
}

// NewClock returns a clock for node whose last timestamp is the zero
// timestamp on node.
func NewClock(node NodeID, opts ...ClockOption) *Clock {
	c := &Clock{
		node:     node,
		last:     Timestamp{Node: node},
		maxDrift: DefaultMaxDrift,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Node returns the id stamped on every timestamp this clock produces.
func (c *Clock) Node() NodeID { return c.node }

// MaxDrift returns the configured drift bound.
func (c *Clock) MaxDrift() time.Duration { return c.maxDrift }

// Last returns the newest timestamp the clock has issued or observed.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Restore raises last to (ts.Millis, ts.Counter) when that is ahead of the
// current value. It performs no drift check: it is used on startup to
// re-derive the clock from this node's own persisted entries.
func (c *Clock) Restore(ts Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := Timestamp{Millis: ts.Millis, Counter: ts.Counter, Node: c.node}
	if c.last.Less(next) {
		c.last = next
	}
}

// Send stamps a local event.
func (c *Clock) Send() (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := c.physical()
	millis := max(c.last.Millis, phys)

	var counter uint32
	if millis == c.last.Millis {
		counter = uint32(c.last.Counter) + 1
	}

	if err := c.check(millis, phys, counter); err != nil {
		return Timestamp{}, err
	}

	c.last = Timestamp{Millis: millis, Counter: uint16(counter), Node: c.node}
	return c.last, nil
}

// Receive merges a timestamp observed on a remote entry and returns a
// timestamp strictly greater than both it and anything issued before.
func (c *Clock) Receive(remote Timestamp) (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote.Node == c.node {
		return Timestamp{}, &DuplicateNodeError{Node: c.node}
	}
	return c.advance(remote)
}

// TickPast advances the clock past observed without the duplicate-node
// check. It is used when replaying or receiving this node's own entries, for
// example after a restore from a backup.
func (c *Clock) TickPast(observed Timestamp) (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advance(observed)
}

// advance implements the receive rule. c.mu must be held.
func (c *Clock) advance(remote Timestamp) (Timestamp, error) {
	phys := c.physical()

	if remote.Millis > phys && remote.Millis-phys > c.driftMillis() {
		return Timestamp{}, &ClockDriftError{Logical: remote.Millis, Physical: phys, MaxDrift: c.maxDrift}
	}

	millis := max(c.last.Millis, phys, remote.Millis)

	var counter uint32
	switch {
	case millis == c.last.Millis && millis == remote.Millis:
		counter = uint32(max(c.last.Counter, remote.Counter)) + 1
	case millis == c.last.Millis:
		counter = uint32(c.last.Counter) + 1
	case millis == remote.Millis:
		counter = uint32(remote.Counter) + 1
	}

	if err := c.check(millis, phys, counter); err != nil {
		return Timestamp{}, err
	}

	c.last = Timestamp{Millis: millis, Counter: uint16(counter), Node: c.node}
	return c.last, nil
}

// check applies the drift and overflow guards to a candidate (millis,
// counter) pair. millis is never below phys.
func (c *Clock) check(millis, phys uint64, counter uint32) error {
	if millis-phys > c.driftMillis() {
		return &ClockDriftError{Logical: millis, Physical: phys, MaxDrift: c.maxDrift}
	}
	if counter > MaxCounter {
		return &CounterOverflowError{Millis: millis}
	}
	return nil
}

func (c *Clock) driftMillis() uint64 {
	if c.maxDrift <= 0 {
		return 0
	}
	return uint64(c.maxDrift.Milliseconds())
}

func (c *Clock) physical() uint64 {
	ms := c.now().UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}
