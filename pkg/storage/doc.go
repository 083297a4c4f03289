// Package storage opens the SQLite database that holds proxy keys and quota
// counters.
//
// The database runs in WAL mode with a single connection, applies its schema
// through numbered migrations tracked in PRAGMA user_version, and checkpoints
// the WAL on an interval. Stores in pkg/keys and pkg/limits/quota share one
// *DB so both survive restart in the same file.
package storage
