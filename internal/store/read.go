package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/value"
)

// ScanEntries returns one page of entries ordered by hlc_time ASC.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ScanEntries(ctx context.Context, q oplog.ScanQuery) ([]oplog.Entry, error) {
	var (
		where []string
		args  []any
	)
	if !q.Since.IsZero() {
		where = append(where, "hlc_time >= ?")
		args = append(args, q.Since.String())
	}
	if !q.After.IsZero() {
		where = append(where, "hlc_time > ?")
		args = append(args, q.After.String())
	}
	if q.ExcludeClient != "" {
		where = append(where, "client_id <> ?")
		args = append(args, string(q.ExcludeClient))
	}

	query := "SELECT " + entryColumns + " FROM oplog"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY hlc_time ASC LIMIT ?"
	args = append(args, q.PageLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return collectEntries(rows)
}

// LatestEntry returns the newest entry by node, or overall when node is "".
func (s *Store) LatestEntry(ctx context.Context, node hlc.NodeID) (oplog.Entry, bool, error) {
	var row *sql.Row
	if node == "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT `+entryColumns+` FROM oplog ORDER BY hlc_time DESC LIMIT 1
		`)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT `+entryColumns+` FROM oplog
			WHERE client_id = ?
			ORDER BY hlc_time DESC LIMIT 1
		`, string(node))
	}

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return oplog.Entry{}, false, nil
	}
	if err != nil {
		return oplog.Entry{}, false, fmt.Errorf("read latest entry: %w", err)
	}
	return e, true, nil
}

// WinningTimes returns the newest timestamp of every field, ascending.
func (s *Store) WinningTimes(ctx context.Context) ([]hlc.Timestamp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT MAX(hlc_time) AS winner
		FROM oplog
		GROUP BY store, object_key, prop
		ORDER BY winner ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query winners: %w", err)
	}
	defer rows.Close()

	out := []hlc.Timestamp{}
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan winner: %w", err)
		}
		ts, err := hlc.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("scan winner: %w", err)
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate winners: %w", err)
	}
	return out, nil
}

// CountEntries returns the number of stored entries.
func (s *Store) CountEntries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM oplog`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Document returns the projected document for an object.
func (s *Store) Document(ctx context.Context, storeName string, key value.Value) (value.Value, bool, error) {
	return readDocument(ctx, s.db, storeName, key)
}

// Setting returns a replica setting.
func (s *Store) Setting(ctx context.Context, name string) (string, bool, error) {
	var val string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %q: %w", name, err)
	}
	return val, true, nil
}

func readDocument(ctx context.Context, q querier, storeName string, key value.Value) (value.Value, bool, error) {
	keyJSON, err := encodeJSON("object key", key)
	if err != nil {
		return nil, false, fmt.Errorf("read document: %w", err)
	}

	var doc string
	err = q.QueryRowContext(ctx, `
		SELECT doc FROM documents WHERE store = ? AND object_key = ?
	`, storeName, keyJSON).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read document %s/%s: %w", storeName, keyJSON, err)
	}

	v, err := decodeJSON("document", doc)
	if err != nil {
		return nil, false, fmt.Errorf("read document %s/%s: %w", storeName, keyJSON, err)
	}
	return v, true, nil
}

// collectEntries drains and closes rows.
func collectEntries(rows *sql.Rows) ([]oplog.Entry, error) {
	defer rows.Close()

	entries := []oplog.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}
