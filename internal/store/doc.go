// Package store provides SQLite-backed storage for the dispatch journal and
// for the records served by the reference provider.
//
// The journal is append-only: one row per committed channel entry, keyed by
// seq. Rows are written by JournalMiddleware and read back in seq order for
// tracing and replay.
//
// Ordering uses seq (the channel's logical clock), never wall-clock time,
// and every read is ORDER BY seq ASC so results are identical across runs.
//
// Payloads and meta are stored as RFC 8785 canonical JSON, so a replayed
// entry hashes to the ID recorded for it.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
