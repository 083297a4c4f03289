package storage

// migrations are applied in order; PRAGMA user_version records how many ran.
// Append only.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS api_keys (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		secret_hash   TEXT NOT NULL UNIQUE,
		prefix        TEXT NOT NULL,
		rate_limit    INTEGER NOT NULL,
		rate_window   INTEGER NOT NULL,
		quota_limit   INTEGER NOT NULL,
		status        TEXT NOT NULL DEFAULT 'active',
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_api_keys_status ON api_keys(status);

	CREATE TABLE IF NOT EXISTS quota_counters (
		key_id        TEXT NOT NULL,
		period_start  INTEGER NOT NULL,
		used          INTEGER NOT NULL DEFAULT 0,
		updated_at    INTEGER NOT NULL,
		PRIMARY KEY (key_id, period_start)
	);

	CREATE INDEX IF NOT EXISTS idx_quota_counters_period ON quota_counters(period_start);
	`,
}
