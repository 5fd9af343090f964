// Package store journals container snapshots in SQLite.
//
// A session is one container's lifetime. Every accepted transition is
// written as a snapshot row keyed by (session, seq), where seq comes from
// the container's logical clock. Bodies are canonical JSON and carry a
// CIDv1 (raw, sha2-256) so a snapshot can be verified and deduplicated
// across sessions.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Writes are idempotent: re-recording a (session, seq) pair is ignored.
package store
