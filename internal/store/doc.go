// Package store provides SQLite-backed durable storage for one replica's
// oplog. It implements oplog.Store.
//
// Tables:
//   - oplog: one row per entry, keyed by the canonical timestamp string
//   - documents: the projected value of each object
//   - settings: replica metadata (node id)
//
// # Ordering
//
// hlc_time is stored as the canonical timestamp string. Its byte order is
// the timestamp order, so every range query is an index scan on the primary
// key with ORDER BY hlc_time. Object keys and values are stored as canonical
// JSON (see internal/value), so equal keys are equal strings.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Update retries the whole transaction with backoff when SQLite reports
// SQLITE_BUSY or SQLITE_LOCKED past the busy timeout.
package store
