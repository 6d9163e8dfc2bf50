// Package store provides SQLite-backed durable storage for model flushes
// and embed sessions.
//
// The store is an append-only log with:
//   - Flushes: one row per model flush, keyed by its logical seq
//   - Flush values: the full value of every key in a flush
//   - Embeds: one row per embed attempt, live or failed
//
// # Ordering
//
// All ordering uses the model's logical seq, never timestamps. Queries
// order by seq ASC and then key or id ASC COLLATE BINARY, so history reads
// are identical across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Values are stored as canonical JSON (internal/value), so equal values are
// byte-identical in the database.
package store
