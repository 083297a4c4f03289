// Package storage provides usage.Storage implementations.
//
// SQLiteStorage is the production store. Each record is one row keyed by its
// id with the UTC day precomputed, so daily summaries are a single GROUP BY
// over an indexed (key_id, ts) range. MemoryStorage keeps records in a slice
// and is meant for tests.
package storage

import (
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/usage"
)

// MemoryPath selects the in-memory store.
const MemoryPath = ":memory:"

// Open returns the store configured by c.
func Open(c config.UsageSQLiteConfig) (usage.Storage, error) {
	if c.Path == MemoryPath {
		return NewMemoryStorage(), nil
	}
	return NewSQLiteStorage(ConfigFrom(c))
}
