package storage

// SchemaVersion is the current usage database schema version.
const SchemaVersion = 1

// Schema creates the usage database schema.
const Schema = `
-- One row per proxied request, append-only
CREATE TABLE IF NOT EXISTS usage_records (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,
    key_id TEXT NOT NULL,
    backend_id TEXT NOT NULL DEFAULT '',

    -- ts is unix nanoseconds; day is the UTC date (YYYY-MM-DD) of ts
    ts INTEGER NOT NULL,
    day TEXT NOT NULL,

    -- Request
    method TEXT NOT NULL,
    path TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',

    -- Result
    outcome TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    status_code INTEGER NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,

    -- Usage
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
    cache_read_tokens INTEGER NOT NULL DEFAULT 0,
    cost REAL NOT NULL DEFAULT 0,

    request_bytes INTEGER NOT NULL DEFAULT 0,
    response_bytes INTEGER NOT NULL DEFAULT 0
);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_key_ts ON usage_records(key_id, ts);
CREATE INDEX IF NOT EXISTS idx_usage_ts ON usage_records(ts);
CREATE INDEX IF NOT EXISTS idx_usage_request_id ON usage_records(request_id);
`

// InsertSchemaVersion records the schema version.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion reads the newest schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const insertRecord = `
INSERT INTO usage_records (
    id, request_id, key_id, backend_id,
    ts, day,
    method, path, model,
    outcome, reason, status_code, attempts, duration_ms,
    input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, cost,
    request_bytes, response_bytes
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectColumns = `
    id, request_id, key_id, backend_id, ts,
    method, path, model,
    outcome, reason, status_code, attempts, duration_ms,
    input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, cost,
    request_bytes, response_bytes
`

const summaryColumns = `
    day,
    COUNT(*),
    COALESCE(SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN outcome = 'rejected' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN outcome = 'upstream_error' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(input_tokens), 0),
    COALESCE(SUM(output_tokens), 0),
    COALESCE(SUM(cache_creation_tokens), 0),
    COALESCE(SUM(cache_read_tokens), 0),
    COALESCE(SUM(cost), 0)
`
