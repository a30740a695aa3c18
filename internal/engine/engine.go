package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/merkle"
	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/value"
)

const (
	// DefaultMaxRounds caps one Sync call.
	DefaultMaxRounds = 32

	// nodeSetting is the settings row holding the replica's node id.
	nodeSetting = "node_id"
)

// Engine is one replica's replication engine.
//
// Thread-safety: all methods are safe for concurrent use. Merges, local
// applies and trie swaps are serialized by mu; Sync and HandleSync release
// mu while talking to the store scanner or the transport.
type Engine struct {
	mu        sync.Mutex
	store     oplog.Store
	clock     *hlc.Clock
	trie      *merkle.Trie
	outbox    *outbox
	projector Projector
	logger    *slog.Logger

	group      string
	maxRounds  int
	pageSize   int
	resolution time.Duration
	clockOpts  []hlc.ClockOption
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithProjector replaces DocumentProjector.
func WithProjector(p Projector) Option {
	return func(e *Engine) { e.projector = p }
}

// WithGroup sets the sync group sent with every request. HandleSync rejects
// requests for other groups when set.
func WithGroup(group string) Option {
	return func(e *Engine) { e.group = group }
}

// WithMaxRounds caps the number of exchanges in one Sync call.
//
// Default: 32 rounds (DefaultMaxRounds)
func WithMaxRounds(n int) Option {
	return func(e *Engine) { e.maxRounds = n }
}

// WithPageSize sets the page size used when scanning entries to send.
func WithPageSize(n int) Option {
	return func(e *Engine) { e.pageSize = n }
}

// WithResolution sets the Merkle bucket width. Peers must agree on it.
func WithResolution(d time.Duration) Option {
	return func(e *Engine) { e.resolution = d }
}

// WithClockOptions forwards options to the hybrid logical clock, such as
// hlc.WithMaxDrift or hlc.WithNow.
func WithClockOptions(opts ...hlc.ClockOption) Option {
	return func(e *Engine) { e.clockOpts = append(e.clockOpts, opts...) }
}

// Open builds an engine for node over s and restores its state:
//
//  1. The clock is restored from the newest entry this node authored, with no
//     drift check, so a restart never reissues a timestamp.
//  2. The clock then ticks past the newest entry overall. A drift error here
//     is logged and ignored; the entry was already accepted once.
//  3. The trie is rebuilt from the winning timestamp of every field.
func Open(ctx context.Context, s oplog.Store, node hlc.NodeID, opts ...Option) (*Engine, error) {
	if !node.Valid() {
		return nil, fmt.Errorf("open engine: invalid node id %q", node)
	}

	e := &Engine{
		store:      s,
		outbox:     newOutbox(),
		projector:  DocumentProjector{},
		logger:     slog.Default(),
		maxRounds:  DefaultMaxRounds,
		pageSize:   oplog.DefaultPageSize,
		resolution: merkle.DefaultResolution,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxRounds <= 0 {
		e.maxRounds = DefaultMaxRounds
	}
	e.clock = hlc.NewClock(node, e.clockOpts...)
	e.trie = merkle.New(e.resolution)

	own, ok, err := s.LatestEntry(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("open engine: latest own entry: %w", err)
	}
	if ok {
		e.clock.Restore(own.HLCTime)
	}

	newest, ok, err := s.LatestEntry(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("open engine: latest entry: %w", err)
	}
	if ok && e.clock.Last().Less(newest.HLCTime) {
		if _, err := e.clock.TickPast(newest.HLCTime); err != nil {
			e.logger.Warn("clock not advanced past stored entry",
				"hlc_time", newest.HLCTime.String(),
				"error", err)
		}
	}

	winners, err := s.WinningTimes(ctx)
	if err != nil {
		return nil, fmt.Errorf("open engine: winning times: %w", err)
	}
	for _, ts := range winners {
		e.trie = e.trie.Insert(ts)
	}

	e.logger.Info("engine opened",
		"node", node.String(),
		"group", e.group,
		"clock", e.clock.Last().String(),
		"winners", len(winners),
		"merkle_root", e.trie.Hash())

	return e, nil
}

// NodeIdentity returns the node id recorded in s, generating and storing a
// new random one on first use.
func NodeIdentity(ctx context.Context, s oplog.Store) (hlc.NodeID, error) {
	text, ok, err := s.Setting(ctx, nodeSetting)
	if err != nil {
		return "", fmt.Errorf("read node id: %w", err)
	}
	if ok {
		node, err := hlc.ParseNodeID(text)
		if err != nil {
			return "", fmt.Errorf("stored node id: %w", err)
		}
		return node, nil
	}

	node := hlc.NewNodeID()
	if err := s.PutSetting(ctx, nodeSetting, node.String()); err != nil {
		return "", fmt.Errorf("store node id: %w", err)
	}
	return node, nil
}

// Node returns this replica's node id.
func (e *Engine) Node() hlc.NodeID { return e.clock.Node() }

// Group returns the configured sync group.
func (e *Engine) Group() string { return e.group }

// Clock returns the newest timestamp issued or observed.
func (e *Engine) Clock() hlc.Timestamp { return e.clock.Last() }

// Store returns the underlying store.
func (e *Engine) Store() oplog.Store { return e.store }

// Trie returns the current trie. Tries are immutable, so the result stays
// valid after later merges.
func (e *Engine) Trie() *merkle.Trie {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trie
}

// Pending returns the number of local entries not yet delivered to a peer.
func (e *Engine) Pending() int { return e.outbox.Len() }

// Changes receives after local mutations. Notifications are coalesced.
func (e *Engine) Changes() <-chan struct{} { return e.outbox.Wait() }

// Get returns the projected document for (store, key).
func (e *Engine) Get(ctx context.Context, store string, key value.Value) (Document, error) {
	if err := value.ValidateKey(key); err != nil {
		return Document{}, fmt.Errorf("get %s: %w", store, err)
	}
	doc, ok, err := e.store.Document(ctx, store, key)
	if err != nil {
		return Document{}, fmt.Errorf("get %s: %w", store, err)
	}
	return Document{Store: store, Key: key, Value: doc, Found: ok}, nil
}

// Status summarizes the replica for operators.
type Status struct {
	Node       hlc.NodeID
	Group      string
	Clock      hlc.Timestamp
	Entries    int
	Pending    int
	MerkleRoot uint64
	Resolution time.Duration
}

// Status reports the current replica state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	n, err := e.store.CountEntries(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	t := e.Trie()
	return Status{
		Node:       e.Node(),
		Group:      e.group,
		Clock:      e.clock.Last(),
		Entries:    n,
		Pending:    e.outbox.Len(),
		MerkleRoot: t.Hash(),
		Resolution: t.Resolution(),
	}, nil
}
