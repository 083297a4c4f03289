package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mercator-hq/relay/pkg/storage"
)

// Store persists per-period quota counters.
type Store interface {
	// Load returns the units used by keyID in the period starting at periodStart.
	// A missing row is zero.
	Load(ctx context.Context, keyID string, periodStart time.Time) (int64, error)

	// Add atomically increments the counter by delta, creating the row if needed.
	Add(ctx context.Context, keyID string, periodStart time.Time, delta int64) error

	// History returns the most recent counters of keyID, newest first.
	History(ctx context.Context, keyID string, limit int) ([]Counter, error)

	// PruneBefore deletes counters whose period started before t.
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
}

// SQLiteStore implements Store on the shared relay database.
//
// Increments are a single upsert (used = used + ?) so concurrent commits for
// the same row never lose an update regardless of order.
type SQLiteStore struct {
	db *sql.DB

	loadStmt    *sql.Stmt
	addStmt     *sql.Stmt
	historyStmt *sql.Stmt
	pruneStmt   *sql.Stmt
}

// NewSQLiteStore prepares statements against db.
func NewSQLiteStore(db *storage.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db.SQL()}
	if err := s.prepareStatements(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.loadStmt, err = s.db.Prepare(`
		SELECT used FROM quota_counters
		WHERE key_id = ? AND period_start = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.addStmt, err = s.db.Prepare(`
		INSERT INTO quota_counters (key_id, period_start, used, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key_id, period_start) DO UPDATE SET
			used = used + excluded.used,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare add statement: %w", err)
	}

	s.historyStmt, err = s.db.Prepare(`
		SELECT key_id, period_start, used FROM quota_counters
		WHERE key_id = ?
		ORDER BY period_start DESC
		LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare history statement: %w", err)
	}

	s.pruneStmt, err = s.db.Prepare(`
		DELETE FROM quota_counters WHERE period_start < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare prune statement: %w", err)
	}

	return nil
}

// Load returns the stored usage for one key and period.
func (s *SQLiteStore) Load(ctx context.Context, keyID string, periodStart time.Time) (int64, error) {
	var used int64
	err := s.loadStmt.QueryRowContext(ctx, keyID, periodStart.UnixNano()).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load quota counter: %w", err)
	}
	return used, nil
}

// Add increments one counter.
func (s *SQLiteStore) Add(ctx context.Context, keyID string, periodStart time.Time, delta int64) error {
	if keyID == "" {
		return fmt.Errorf("key id cannot be empty")
	}
	_, err := s.addStmt.ExecContext(ctx, keyID, periodStart.UnixNano(), delta, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to add to quota counter: %w", err)
	}
	return nil
}

// History returns recent counters for keyID.
func (s *SQLiteStore) History(ctx context.Context, keyID string, limit int) ([]Counter, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.historyStmt.QueryContext(ctx, keyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query quota history: %w", err)
	}
	defer rows.Close()

	var out []Counter
	for rows.Next() {
		var c Counter
		var start int64
		if err := rows.Scan(&c.KeyID, &start, &c.Used); err != nil {
			return nil, fmt.Errorf("failed to scan quota counter: %w", err)
		}
		c.PeriodStart = time.Unix(0, start).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// PruneBefore deletes old counters.
func (s *SQLiteStore) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.pruneStmt.ExecContext(ctx, t.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune quota counters: %w", err)
	}
	return res.RowsAffected()
}

// Close releases prepared statements. The database itself is owned by the
// caller.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.loadStmt, s.addStmt, s.historyStmt, s.pruneStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}
