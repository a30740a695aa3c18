package oplog

import (
	"context"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/value"
)

// Store is a durable, transactional home for one replica's oplog and the
// documents projected from it.
type Store interface {
	Scanner

	// Update runs fn in a read-write transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	Update(ctx context.Context, fn func(Tx) error) error

	// LatestEntry returns the newest entry authored by node, or the newest
	// entry overall when node is "".
	LatestEntry(ctx context.Context, node hlc.NodeID) (Entry, bool, error)

	// WinningTimes returns the timestamp of the newest entry of every field,
	// in ascending order.
	WinningTimes(ctx context.Context) ([]hlc.Timestamp, error)

	// CountEntries returns the number of stored entries.
	CountEntries(ctx context.Context) (int, error)

	// Document returns the projected document for an object.
	Document(ctx context.Context, store string, key value.Value) (value.Value, bool, error)

	// Setting and PutSetting hold replica metadata such as the node id.
	Setting(ctx context.Context, name string) (string, bool, error)
	PutSetting(ctx context.Context, name, val string) error

	Close() error
}

// Tx is the view of a Store inside Update.
type Tx interface {
	// NewestEntry returns the newest entry written to field.
	NewestEntry(ctx context.Context, field FieldKey) (Entry, bool, error)

	// PutEntry stores e. Storing the same entry again is a no-op; a
	// different entry under an existing HLCTime fails with *ConflictError.
	PutEntry(ctx context.Context, e Entry) error

	// FieldEntriesAfter returns the property entries (Prop != "") of one
	// object newer than after, in ascending timestamp order.
	FieldEntriesAfter(ctx context.Context, store string, key value.Value, after hlc.Timestamp) ([]Entry, error)

	Document(ctx context.Context, store string, key value.Value) (value.Value, bool, error)
	PutDocument(ctx context.Context, store string, key value.Value, doc value.Value) error
}

// Scanner pages through entries in ascending timestamp order.
type Scanner interface {
	ScanEntries(ctx context.Context, q ScanQuery) ([]Entry, error)
}

// ScanQuery selects one page of entries.
type ScanQuery struct {
	// Since is the inclusive lower bound. The zero timestamp selects
	// everything.
	Since hlc.Timestamp

	// After is an exclusive cursor, normally the last timestamp of the
	// previous page. Ignored when zero.
	After hlc.Timestamp

	// ExcludeClient drops entries authored by this node when set.
	ExcludeClient hlc.NodeID

	// Limit caps the page size. Zero or negative means DefaultPageSize.
	Limit int
}

// DefaultPageSize is used when a ScanQuery has no Limit.
const DefaultPageSize = 500

// PageLimit returns the effective page size for q.
func (q ScanQuery) PageLimit() int {
	if q.Limit <= 0 {
		return DefaultPageSize
	}
	return q.Limit
}
