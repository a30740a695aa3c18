package engine

import (
	"context"
	"fmt"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/syncproto"
	"github.com/roach88/hlcsync/internal/value"
)

// Outcome is the result of merging one entry.
type Outcome int

const (
	// OutcomeRejected means the entry failed validation, the clock refused
	// it, or the store failed. It was not persisted.
	OutcomeRejected Outcome = iota

	// OutcomeApplied means the entry is the new winner of its field. It was
	// persisted, projected and added to the trie.
	OutcomeApplied

	// OutcomeDuplicate means the field's winner already has this timestamp.
	OutcomeDuplicate

	// OutcomeStale means the field already has a newer winner. The entry
	// was dropped.
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeStale:
		return "stale"
	default:
		return "rejected"
	}
}

// Mutation is a local write before it is stamped.
type Mutation struct {
	Store     string
	ObjectKey value.Value
	// Prop is the property to set, or "" to replace the whole object.
	Prop  string
	Value value.Value
}

// BatchResult counts the outcomes of MergeBatch.
type BatchResult struct {
	Applied   int
	Duplicate int
	Stale     int
	Rejected  int

	// Errors holds one entry per rejected entry, in batch order.
	Errors []EntryError
}

func (r *BatchResult) add(o Outcome) {
	switch o {
	case OutcomeApplied:
		r.Applied++
	case OutcomeDuplicate:
		r.Duplicate++
	case OutcomeStale:
		r.Stale++
	default:
		r.Rejected++
	}
}

// addUndecoded counts messages that never became entries as rejected.
func (r *BatchResult) addUndecoded(bad []syncproto.Undecoded) {
	for _, u := range bad {
		r.Rejected++
		r.Errors = append(r.Errors, EntryError{Entry: u.HLCTime, Err: u.Err})
	}
}

// Merge applies the last-writer-wins rule to one entry.
//
// A rejected entry returns OutcomeRejected and the reason: an
// *oplog.InvalidEntryError, an hlc clock error, an *oplog.ConflictError when
// a different entry already holds the timestamp, or a wrapped store error.
// A rejected entry is neither projected nor added to the trie.
func (e *Engine) Merge(ctx context.Context, candidate oplog.Entry) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.merge(ctx, candidate, false)
}

// MergeBatch merges entries in order. Per-entry failures are collected in
// the result; only context cancellation stops the batch early, in which
// case the entries merged so far stay merged.
func (e *Engine) MergeBatch(ctx context.Context, entries []oplog.Entry) (BatchResult, error) {
	var result BatchResult

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome, err := e.merge(ctx, entry, false)
		result.add(outcome)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			result.Errors = append(result.Errors, EntryError{Entry: entry.HLCTime.String(), Err: err})
		}
	}

	if result.Rejected > 0 {
		e.logger.Warn("merge batch rejected entries",
			"rejected", result.Rejected,
			"first_error", result.Errors[0].Error())
	}
	e.logger.Debug("merge batch",
		"entries", len(entries),
		"applied", result.Applied,
		"duplicate", result.Duplicate,
		"stale", result.Stale)

	return result, nil
}

// Apply stamps a local mutation, merges it and queues it for the next sync.
func (e *Engine) Apply(ctx context.Context, m Mutation) (oplog.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts, err := e.clock.Send()
	if err != nil {
		return oplog.Entry{}, fmt.Errorf("apply %s: %w", m.Store, err)
	}

	entry := oplog.Entry{
		ClientID:  e.clock.Node(),
		HLCTime:   ts,
		Store:     m.Store,
		ObjectKey: m.ObjectKey,
		Prop:      m.Prop,
		Value:     m.Value,
	}
	outcome, err := e.merge(ctx, entry, true)
	if err != nil {
		return oplog.Entry{}, fmt.Errorf("apply %s: %w", m.Store, err)
	}
	if outcome != OutcomeApplied {
		// Send returned a timestamp newer than anything observed, so only
		// a store written behind the engine's back can get here.
		return oplog.Entry{}, fmt.Errorf("apply %s: local entry %s was %s", m.Store, ts, outcome)
	}

	e.outbox.Push(entry)
	e.logger.Debug("local mutation applied",
		"hlc_time", ts.String(),
		"store", m.Store,
		"prop", m.Prop)
	return entry, nil
}

// merge implements Merge. e.mu must be held.
func (e *Engine) merge(ctx context.Context, candidate oplog.Entry, local bool) (Outcome, error) {
	if err := candidate.Validate(); err != nil {
		return OutcomeRejected, err
	}

	own := candidate.HLCTime.Node == e.clock.Node()

	if e.clock.Last().Less(candidate.HLCTime) {
		var err error
		if own {
			_, err = e.clock.TickPast(candidate.HLCTime)
		} else {
			_, err = e.clock.Receive(candidate.HLCTime)
		}
		if err != nil {
			return OutcomeRejected, fmt.Errorf("merge %s: %w", candidate.HLCTime, err)
		}
	}

	var (
		outcome   Outcome
		displaced hlc.Timestamp
		hadWinner bool
	)
	err := e.store.Update(ctx, func(tx oplog.Tx) error {
		// Update may retry fn, so every result is reset here.
		outcome, displaced, hadWinner = OutcomeRejected, hlc.Timestamp{}, false

		current, ok, err := tx.NewestEntry(ctx, candidate.Field())
		if err != nil {
			return err
		}
		if ok {
			switch c := current.HLCTime.Compare(candidate.HLCTime); {
			case c == 0:
				if !oplog.SameEntry(current, candidate) {
					return &oplog.ConflictError{HLCTime: candidate.HLCTime, Stored: current.Field(), Candidate: candidate.Field()}
				}
				outcome = OutcomeDuplicate
				return nil
			case c > 0:
				outcome = OutcomeStale
				return nil
			}
		}

		if err := tx.PutEntry(ctx, candidate); err != nil {
			return err
		}
		if err := e.projector.Project(ctx, tx, candidate); err != nil {
			return fmt.Errorf("project: %w", err)
		}
		outcome = OutcomeApplied
		displaced, hadWinner = current.HLCTime, ok
		return nil
	})
	if err != nil {
		return OutcomeRejected, fmt.Errorf("merge %s: %w", candidate.HLCTime, err)
	}

	if outcome == OutcomeApplied {
		e.trie = e.trie.Insert(candidate.HLCTime)
		if hadWinner {
			e.trie = e.trie.Remove(displaced)
		}
		if own && !local {
			e.logger.Warn("applied entry authored by this node",
				"hlc_time", candidate.HLCTime.String())
		}
	}
	return outcome, nil
}
