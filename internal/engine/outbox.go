package engine

import (
	"sync"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/oplog"
)

// outbox holds local entries that have not yet been acknowledged by a peer.
//
// It lives in memory only. Entries lost on restart are still found by the
// next trie diff, just later in the sync loop.
//
// The signal channel (buffered, size 1) coalesces pushes so a sync loop can
// wait for local writes with select.
type outbox struct {
	mu      sync.Mutex
	entries []oplog.Entry
	signal  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		entries: make([]oplog.Entry, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Push appends e and signals waiters without blocking.
func (o *outbox) Push(e oplog.Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.entries = append(o.entries, e)
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the pending entries in push order.
func (o *outbox) Snapshot() []oplog.Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]oplog.Entry, len(o.entries))
	copy(out, o.entries)
	return out
}

// Remove drops the given entries, keeping anything pushed since they were
// snapshotted.
func (o *outbox) Remove(sent []oplog.Entry) {
	if len(sent) == 0 {
		return
	}
	done := make(map[hlc.Timestamp]struct{}, len(sent))
	for _, e := range sent {
		done[e.HLCTime] = struct{}{}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	kept := o.entries[:0]
	for _, e := range o.entries {
		if _, ok := done[e.HLCTime]; !ok {
			kept = append(kept, e)
		}
	}
	// Clear the tail so dropped entries can be collected.
	for i := len(kept); i < len(o.entries); i++ {
		o.entries[i] = oplog.Entry{}
	}
	o.entries = kept
}

// Len returns the number of pending entries.
func (o *outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Wait returns a channel that receives after at least one Push.
func (o *outbox) Wait() <-chan struct{} {
	return o.signal
}
