package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/usage"
)

const dayLayout = "2006-01-02"

// SQLiteConfig contains configuration for the SQLite usage store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int

	// WALMode enables write-ahead logging so reports do not block the
	// recorder.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// ConfigFrom converts the usage database section of the configuration.
func ConfigFrom(c config.UsageSQLiteConfig) *SQLiteConfig {
	return &SQLiteConfig{
		Path:         c.Path,
		MaxOpenConns: c.MaxOpenConns,
		WALMode:      true,
		BusyTimeout:  c.BusyTimeout,
	}
}

// SQLiteStorage implements usage.Storage on SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	insert *sql.Stmt
	logger *slog.Logger
}

// NewSQLiteStorage opens the database at config.Path and creates the schema.
func NewSQLiteStorage(cfg *SQLiteConfig) (*SQLiteStorage, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, usage.NewStorageError("sqlite", "open", fmt.Errorf("database path is required"))
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = config.DefaultUsageSQLiteMaxOpenConns
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = config.DefaultStorageBusyTimeout
	}

	logger := slog.Default().With("component", "usage.storage.sqlite")

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, usage.NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)

	s := &SQLiteStorage{
		db:     db,
		config: cfg,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.insert, err = db.Prepare(insertRecord)
	if err != nil {
		db.Close()
		return nil, usage.NewStorageError("sqlite", "prepare", err)
	}

	logger.Info("usage storage initialized",
		"path", cfg.Path,
		"wal_mode", cfg.WALMode,
		"max_open_conns", cfg.MaxOpenConns,
	)
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return usage.NewStorageError("sqlite", "enable_wal", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return usage.NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return usage.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return usage.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return usage.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return usage.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Store appends a usage record.
func (s *SQLiteStorage) Store(ctx context.Context, rec *usage.Record) error {
	ts := rec.Timestamp.UTC()
	_, err := s.insert.ExecContext(ctx,
		rec.ID, rec.RequestID, rec.KeyID, rec.BackendID,
		ts.UnixNano(), ts.Format(dayLayout),
		rec.Method, rec.Path, rec.Model,
		string(rec.Outcome), rec.Reason, rec.StatusCode, rec.Attempts, rec.Duration.Milliseconds(),
		rec.RequestUnits, rec.ResponseUnits, rec.CacheCreationTokens, rec.CacheReadTokens, rec.CostEstimate,
		rec.RequestBytes, rec.ResponseBytes,
	)
	if err != nil {
		return usage.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query returns per-day summaries ordered by day.
func (s *SQLiteStorage) Query(ctx context.Context, keyID string, r usage.Range) ([]usage.Summary, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	where, args := rangeClause(keyID, r)
	q := "SELECT " + summaryColumns + " FROM usage_records WHERE " + where + " GROUP BY day ORDER BY day"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, usage.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	out := []usage.Summary{}
	for rows.Next() {
		var (
			sum usage.Summary
			day string
		)
		if err := rows.Scan(&day,
			&sum.Requests, &sum.Successes, &sum.Rejected, &sum.UpstreamErrors,
			&sum.InputTokens, &sum.OutputTokens, &sum.CacheCreationTokens, &sum.CacheReadTokens,
			&sum.Cost,
		); err != nil {
			return nil, usage.NewStorageError("sqlite", "scan", err)
		}
		sum.Day, err = time.ParseInLocation(dayLayout, day, time.UTC)
		if err != nil {
			return nil, usage.NewStorageError("sqlite", "scan", err)
		}
		sum.Cost = usage.RoundCost(sum.Cost)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, usage.NewStorageError("sqlite", "query", err)
	}
	return out, nil
}

// List returns records newest first.
func (s *SQLiteStorage) List(ctx context.Context, keyID string, r usage.Range, limit int) ([]*usage.Record, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	where, args := rangeClause(keyID, r)
	q := "SELECT " + selectColumns + " FROM usage_records WHERE " + where + " ORDER BY ts DESC, id"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, usage.NewStorageError("sqlite", "list", err)
	}
	defer rows.Close()

	out := []*usage.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, usage.NewStorageError("sqlite", "scan", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, usage.NewStorageError("sqlite", "list", err)
	}
	return out, nil
}

// Prune deletes records older than t.
func (s *SQLiteStorage) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM usage_records WHERE ts < ?", olderThan.UTC().UnixNano())
	if err != nil {
		return 0, usage.NewStorageError("sqlite", "prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, usage.NewStorageError("sqlite", "prune", err)
	}
	return n, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database.
func (s *SQLiteStorage) Close() error {
	if s.insert != nil {
		s.insert.Close()
	}
	if err := s.db.Close(); err != nil {
		return usage.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("usage storage closed")
	return nil
}

func rangeClause(keyID string, r usage.Range) (string, []any) {
	where := "ts >= ? AND ts < ?"
	args := []any{r.From.UTC().UnixNano(), r.To.UTC().UnixNano()}
	if keyID != "" {
		where = "key_id = ? AND " + where
		args = append([]any{keyID}, args...)
	}
	return where, args
}

func scanRecord(rows *sql.Rows) (*usage.Record, error) {
	var (
		rec        usage.Record
		ts         int64
		outcome    string
		durationMS int64
	)
	err := rows.Scan(
		&rec.ID, &rec.RequestID, &rec.KeyID, &rec.BackendID, &ts,
		&rec.Method, &rec.Path, &rec.Model,
		&outcome, &rec.Reason, &rec.StatusCode, &rec.Attempts, &durationMS,
		&rec.RequestUnits, &rec.ResponseUnits, &rec.CacheCreationTokens, &rec.CacheReadTokens, &rec.CostEstimate,
		&rec.RequestBytes, &rec.ResponseBytes,
	)
	if err != nil {
		return nil, err
	}
	rec.Timestamp = time.Unix(0, ts).UTC()
	rec.Outcome = usage.Outcome(outcome)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return &rec, nil
}
