package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/value"
)

// Update runs fn inside a transaction, committing when fn returns nil.
//
// Lock contention that outlives busy_timeout is retried with backoff, which
// re-runs fn from the start: fn must not keep state across attempts.
func (s *Store) Update(ctx context.Context, fn func(oplog.Tx) error) error {
	return retryOp(ctx, s.retry, func() error {
		return s.update(ctx, fn)
	})
}

func (s *Store) update(ctx context.Context, fn func(oplog.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback() // no-op after commit

	if err := fn(&tx{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PutSetting stores a replica setting, replacing any previous value.
func (s *Store) PutSetting(ctx context.Context, name, val string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, name, val)
	if err != nil {
		return fmt.Errorf("write setting %q: %w", name, err)
	}
	return nil
}

// tx implements oplog.Tx over a SQL transaction.
type tx struct {
	q querier
}

var _ oplog.Tx = (*tx)(nil)

// PutEntry inserts an entry. ON CONFLICT(hlc_time) DO NOTHING makes a
// re-delivered entry a no-op; a skipped insert is checked against the stored
// row so a different entry under the same timestamp is reported.
func (t *tx) PutEntry(ctx context.Context, e oplog.Entry) error {
	r, err := oplog.ToRow(e)
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}

	res, err := t.q.ExecContext(ctx, `
		INSERT INTO oplog (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hlc_time) DO NOTHING
	`, r.HLCTime, r.ClientID, r.Store, r.ObjectKey, r.Prop, r.Value)
	if err != nil {
		return fmt.Errorf("write entry %s: %w", r.HLCTime, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write entry %s: %w", r.HLCTime, err)
	}
	if n > 0 {
		return nil
	}

	stored, err := scanEntry(t.q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM oplog WHERE hlc_time = ?`, r.HLCTime))
	if err != nil {
		return fmt.Errorf("read entry %s: %w", r.HLCTime, err)
	}
	if !oplog.SameEntry(stored, e) {
		return &oplog.ConflictError{HLCTime: e.HLCTime, Stored: stored.Field(), Candidate: e.Field()}
	}
	return nil
}

func (t *tx) NewestEntry(ctx context.Context, field oplog.FieldKey) (oplog.Entry, bool, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM oplog
		WHERE store = ? AND object_key = ? AND prop = ?
		ORDER BY hlc_time DESC
		LIMIT 1
	`, field.Store, field.ObjectKey, field.Prop)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return oplog.Entry{}, false, nil
	}
	if err != nil {
		return oplog.Entry{}, false, fmt.Errorf("read newest entry: %w", err)
	}
	return e, true, nil
}

func (t *tx) FieldEntriesAfter(ctx context.Context, storeName string, key value.Value, after hlc.Timestamp) ([]oplog.Entry, error) {
	keyJSON, err := encodeJSON("object key", key)
	if err != nil {
		return nil, fmt.Errorf("read field entries: %w", err)
	}

	rows, err := t.q.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM oplog
		WHERE store = ? AND object_key = ? AND prop <> '' AND hlc_time > ?
		ORDER BY hlc_time ASC
	`, storeName, keyJSON, after.String())
	if err != nil {
		return nil, fmt.Errorf("query field entries: %w", err)
	}
	return collectEntries(rows)
}

func (t *tx) Document(ctx context.Context, storeName string, key value.Value) (value.Value, bool, error) {
	return readDocument(ctx, t.q, storeName, key)
}

// PutDocument replaces the projected document of an object.
func (t *tx) PutDocument(ctx context.Context, storeName string, key, doc value.Value) error {
	keyJSON, err := encodeJSON("object key", key)
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	docJSON, err := encodeJSON("document", doc)
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO documents (store, object_key, doc) VALUES (?, ?, ?)
		ON CONFLICT(store, object_key) DO UPDATE SET doc = excluded.doc
	`, storeName, keyJSON, docJSON)
	if err != nil {
		return fmt.Errorf("write document %s/%s: %w", storeName, keyJSON, err)
	}
	return nil
}
