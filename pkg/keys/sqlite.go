package keys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mercator-hq/relay/pkg/storage"
)

// Store persists proxy keys. Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new key. Returns ErrDuplicate if the hash exists.
	Create(ctx context.Context, k *Key) error

	// Get returns the key with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*Key, error)

	// GetByHash returns the key whose secret hashes to hash or ErrNotFound.
	GetByHash(ctx context.Context, hash string) (*Key, error)

	// Update applies a partial update and returns the updated key.
	Update(ctx context.Context, id string, u Update) (*Key, error)

	// List returns every key ordered by creation time.
	List(ctx context.Context) ([]*Key, error)
}

// SQLiteStore implements Store on the shared relay database.
type SQLiteStore struct {
	db *sql.DB

	insertStmt *sql.Stmt
	getStmt    *sql.Stmt
	hashStmt   *sql.Stmt
	listStmt   *sql.Stmt
}

const keyColumns = `id, name, secret_hash, prefix, rate_limit, rate_window, quota_limit, status, created_at, updated_at`

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

	s.insertStmt, err = s.db.Prepare(`INSERT INTO api_keys (` + keyColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.getStmt, err = s.db.Prepare(`SELECT ` + keyColumns + ` FROM api_keys WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.hashStmt, err = s.db.Prepare(`SELECT ` + keyColumns + ` FROM api_keys WHERE secret_hash = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare hash lookup statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`SELECT ` + keyColumns + ` FROM api_keys ORDER BY created_at, id`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	return nil
}

// Create inserts a new key.
func (s *SQLiteStore) Create(ctx context.Context, k *Key) error {
	if k == nil || k.ID == "" || k.SecretHash == "" {
		return fmt.Errorf("key id and secret hash are required")
	}

	_, err := s.insertStmt.ExecContext(ctx,
		k.ID, k.Name, k.SecretHash, k.Prefix,
		k.RateLimit, k.RateWindow.Milliseconds(), k.QuotaLimit,
		string(k.Status), k.CreatedAt.UnixNano(), k.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return fmt.Errorf("failed to insert key: %w", err)
	}
	return nil
}

// Get returns a key by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Key, error) {
	return scanKey(s.getStmt.QueryRowContext(ctx, id))
}

// GetByHash returns a key by secret hash.
func (s *SQLiteStore) GetByHash(ctx context.Context, hash string) (*Key, error) {
	return scanKey(s.hashStmt.QueryRowContext(ctx, hash))
}

// Update applies u inside a transaction.
func (s *SQLiteStore) Update(ctx context.Context, id string, u Update) (*Key, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	k, err := scanKey(tx.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	u.Apply(k, time.Now())

	_, err = tx.ExecContext(ctx, `
		UPDATE api_keys
		SET name = ?, rate_limit = ?, rate_window = ?, quota_limit = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		k.Name, k.RateLimit, k.RateWindow.Milliseconds(), k.QuotaLimit, string(k.Status), k.UpdatedAt.UnixNano(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit key update: %w", err)
	}
	return k, nil
}

// List returns all keys.
func (s *SQLiteStore) List(ctx context.Context) ([]*Key, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var out []*Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Close releases prepared statements. The database itself is owned by the caller.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.insertStmt, s.getStmt, s.hashStmt, s.listStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*Key, error) {
	var (
		k                    Key
		status               string
		windowMs             int64
		createdAt, updatedAt int64
	)
	err := row.Scan(&k.ID, &k.Name, &k.SecretHash, &k.Prefix,
		&k.RateLimit, &windowMs, &k.QuotaLimit, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan key: %w", err)
	}

	k.Status = Status(status)
	k.RateWindow = time.Duration(windowMs) * time.Millisecond
	k.CreatedAt = time.Unix(0, createdAt).UTC()
	k.UpdatedAt = time.Unix(0, updatedAt).UTC()
	k.syncJSON()
	return &k, nil
}
