// Package pgstore is a Postgres implementation of oplog.Store for sync
// servers. One database holds many sync groups; a Store is scoped to one
// group and every query filters on it.
//
// Update takes a transaction-scoped advisory lock on the group, so several
// server processes can share a database without interleaving merges for the
// same group.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/value"
)

//go:embed schema.sql
var schemaSQL string

const entryColumns = `hlc_time, client_id, store, object_key, prop, value`

var _ oplog.Store = (*Store)(nil)

// Store is one group's view of a shared Postgres database.
type Store struct {
	pool    *pgxpool.Pool
	group   string
	ownPool bool
}

// Connect opens a pool for dsn and applies the schema.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return pool, nil
}

// Open connects to dsn and returns a store for group that owns its pool.
func Open(ctx context.Context, dsn, group string) (*Store, error) {
	pool, err := Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := ForGroup(pool, group)
	s.ownPool = true
	return s, nil
}

// ForGroup returns a store for group over a shared pool. Closing it leaves
// the pool open.
func ForGroup(pool *pgxpool.Pool, group string) *Store {
	return &Store{pool: pool, group: group}
}

// Group returns the sync group this store is scoped to.
func (s *Store) Group() string { return s.group }

// Close releases the pool if this store opened it.
func (s *Store) Close() error {
	if s.ownPool {
		s.pool.Close()
	}
	return nil
}

// Update runs fn in a transaction holding the group's advisory lock.
func (s *Store) Update(ctx context.Context, fn func(oplog.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(t pgx.Tx) error {
		if _, err := t.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.group); err != nil {
			return fmt.Errorf("lock group %s: %w", s.group, err)
		}
		return fn(&tx{t: t, group: s.group})
	})
}

// ScanEntries returns one page of the group's entries ordered by hlc_time.
func (s *Store) ScanEntries(ctx context.Context, q oplog.ScanQuery) ([]oplog.Entry, error) {
	where := []string{"group_id = $1"}
	args := []any{s.group}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if !q.Since.IsZero() {
		where = append(where, "hlc_time >= "+arg(q.Since.String()))
	}
	if !q.After.IsZero() {
		where = append(where, "hlc_time > "+arg(q.After.String()))
	}
	if q.ExcludeClient != "" {
		where = append(where, "client_id <> "+arg(string(q.ExcludeClient)))
	}
	limit := arg(q.PageLimit())

	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM hlcsync_oplog
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY hlc_time ASC
		LIMIT `+limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return collectEntries(rows)
}

// LatestEntry returns the group's newest entry by node, or overall when
// node is "".
func (s *Store) LatestEntry(ctx context.Context, node hlc.NodeID) (oplog.Entry, bool, error) {
	var row pgx.Row
	if node == "" {
		row = s.pool.QueryRow(ctx, `
			SELECT `+entryColumns+` FROM hlcsync_oplog
			WHERE group_id = $1
			ORDER BY hlc_time DESC LIMIT 1
		`, s.group)
	} else {
		row = s.pool.QueryRow(ctx, `
			SELECT `+entryColumns+` FROM hlcsync_oplog
			WHERE group_id = $1 AND client_id = $2
			ORDER BY hlc_time DESC LIMIT 1
		`, s.group, string(node))
	}
	return scanOne(row)
}

// WinningTimes returns the newest timestamp of every field, ascending.
func (s *Store) WinningTimes(ctx context.Context) ([]hlc.Timestamp, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT MAX(hlc_time) AS winner
		FROM hlcsync_oplog
		WHERE group_id = $1
		GROUP BY store, object_key, prop
		ORDER BY winner ASC
	`, s.group)
	if err != nil {
		return nil, fmt.Errorf("query winners: %w", err)
	}

	texts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect winners: %w", err)
	}

	out := make([]hlc.Timestamp, 0, len(texts))
	for _, text := range texts {
		ts, err := hlc.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("scan winner: %w", err)
		}
		out = append(out, ts)
	}
	return out, nil
}

// CountEntries returns the number of entries in the group.
func (s *Store) CountEntries(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM hlcsync_oplog WHERE group_id = $1`, s.group).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (s *Store) Document(ctx context.Context, storeName string, key value.Value) (value.Value, bool, error) {
	return readDocument(ctx, s.pool, s.group, storeName, key)
}

func (s *Store) Setting(ctx context.Context, name string) (string, bool, error) {
	var val string
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM hlcsync_settings WHERE group_id = $1 AND name = $2
	`, s.group, name).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %q: %w", name, err)
	}
	return val, true, nil
}

func (s *Store) PutSetting(ctx context.Context, name, val string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO hlcsync_settings (group_id, name, value) VALUES ($1, $2, $3)
		ON CONFLICT (group_id, name) DO UPDATE SET value = EXCLUDED.value
	`, s.group, name, val)
	if err != nil {
		return fmt.Errorf("write setting %q: %w", name, err)
	}
	return nil
}
