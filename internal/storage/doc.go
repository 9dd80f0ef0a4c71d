// Package storage persists pending actions and registry documents.
//
// Drivers:
//   - file: JSON Lines journal compacted into a snapshot
//   - sqlite: modernc.org/sqlite (pure Go, WAL)
//   - postgres: pgx connection pool
//
// Actions are unique on (kind, target_id, parent_id, body); inserting a
// duplicate returns the id of the row already stored.
package storage
