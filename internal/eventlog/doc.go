// Package eventlog provides SQLite-backed durable storage for store traces.
//
// A run groups the events recorded while one process drove one or more
// stores. Events are append-only and content addressed: the row id is the
// hash of the run id and the serialized entry, so recording the same event
// twice is a no-op.
//
// # Ordering
//
// All reads order by seq ASC, store ASC, id ASC COLLATE BINARY. Wall-clock
// recorded_at is informational only.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait on lock contention
//   - foreign_keys=ON: events must belong to a run
package eventlog
