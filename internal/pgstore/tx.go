package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/value"
)

type tx struct {
	t     pgx.Tx
	group string
}

var _ oplog.Tx = (*tx)(nil)

func (t *tx) PutEntry(ctx context.Context, e oplog.Entry) error {
	r, err := oplog.ToRow(e)
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	tag, err := t.t.Exec(ctx, `
		INSERT INTO hlcsync_oplog (group_id, `+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (group_id, hlc_time) DO NOTHING
	`, t.group, r.HLCTime, r.ClientID, r.Store, r.ObjectKey, r.Prop, r.Value)
	if err != nil {
		return fmt.Errorf("write entry %s: %w", r.HLCTime, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	stored, ok, err := scanOne(t.t.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM hlcsync_oplog WHERE group_id = $1 AND hlc_time = $2
	`, t.group, r.HLCTime))
	if err != nil {
		return fmt.Errorf("write entry %s: %w", r.HLCTime, err)
	}
	if !ok || !oplog.SameEntry(stored, e) {
		return &oplog.ConflictError{HLCTime: e.HLCTime, Stored: stored.Field(), Candidate: e.Field()}
	}
	return nil
}

func (t *tx) NewestEntry(ctx context.Context, field oplog.FieldKey) (oplog.Entry, bool, error) {
	row := t.t.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM hlcsync_oplog
		WHERE group_id = $1 AND store = $2 AND object_key = $3 AND prop = $4
		ORDER BY hlc_time DESC LIMIT 1
	`, t.group, field.Store, field.ObjectKey, field.Prop)
	return scanOne(row)
}

func (t *tx) FieldEntriesAfter(ctx context.Context, storeName string, key value.Value, after hlc.Timestamp) ([]oplog.Entry, error) {
	keyJSON, err := value.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("read field entries: %w", err)
	}
	rows, err := t.t.Query(ctx, `
		SELECT `+entryColumns+` FROM hlcsync_oplog
		WHERE group_id = $1 AND store = $2 AND object_key = $3 AND prop <> '' AND hlc_time > $4
		ORDER BY hlc_time ASC
	`, t.group, storeName, string(keyJSON), after.String())
	if err != nil {
		return nil, fmt.Errorf("query field entries: %w", err)
	}
	return collectEntries(rows)
}

func (t *tx) Document(ctx context.Context, storeName string, key value.Value) (value.Value, bool, error) {
	return readDocument(ctx, t.t, t.group, storeName, key)
}

func (t *tx) PutDocument(ctx context.Context, storeName string, key, doc value.Value) error {
	keyJSON, err := value.Marshal(key)
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	docJSON, err := value.Marshal(doc)
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	_, err = t.t.Exec(ctx, `
		INSERT INTO hlcsync_documents (group_id, store, object_key, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, store, object_key) DO UPDATE SET doc = EXCLUDED.doc
	`, t.group, storeName, string(keyJSON), string(docJSON))
	if err != nil {
		return fmt.Errorf("write document %s/%s: %w", storeName, keyJSON, err)
	}
	return nil
}

// rowQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func readDocument(ctx context.Context, q rowQuerier, group, storeName string, key value.Value) (value.Value, bool, error) {
	keyJSON, err := value.Marshal(key)
	if err != nil {
		return nil, false, fmt.Errorf("read document: %w", err)
	}
	var doc string
	err = q.QueryRow(ctx, `
		SELECT doc FROM hlcsync_documents WHERE group_id = $1 AND store = $2 AND object_key = $3
	`, group, storeName, string(keyJSON)).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read document %s/%s: %w", storeName, keyJSON, err)
	}
	v, err := value.Unmarshal([]byte(doc))
	if err != nil {
		return nil, false, fmt.Errorf("read document %s/%s: %w", storeName, keyJSON, err)
	}
	return v, true, nil
}

func scanOne(row pgx.Row) (oplog.Entry, bool, error) {
	var r oplog.Row
	err := row.Scan(r.Dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return oplog.Entry{}, false, nil
	}
	if err != nil {
		return oplog.Entry{}, false, fmt.Errorf("read entry: %w", err)
	}
	e, err := r.Entry()
	if err != nil {
		return oplog.Entry{}, false, err
	}
	return e, true, nil
}

func collectEntries(rows pgx.Rows) ([]oplog.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (oplog.Entry, error) {
		var r oplog.Row
		if err := row.Scan(r.Dest()...); err != nil {
			return oplog.Entry{}, err
		}
		return r.Entry()
	})
	if err != nil {
		return nil, fmt.Errorf("collect entries: %w", err)
	}
	if entries == nil {
		entries = []oplog.Entry{}
	}
	return entries, nil
}
