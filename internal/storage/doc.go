// Package storage persists execution records.
//
// Drivers:
//   - file: append-only JSON Lines
//   - sqlite: SQLite database (modernc.org/sqlite, no cgo)
//   - redis: a capped list per key
package storage
