// Package store provides SQLite-backed durable storage for the livesync
// authority.
//
// The store holds two tables:
//   - records: the current version of every record, in insertion order
//     (position)
//   - changes: an append-only log of every insert, update and delete
//
// Every mutation writes the record row and its change row in one
// transaction, so the log and the table never disagree.
//
// # Ordering
//
// Records are returned by position (first insertion). Changes are returned
// ORDER BY seq ASC. Nothing is ordered by wall time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Field values are serialized with ir.MarshalCanonical.
package store
