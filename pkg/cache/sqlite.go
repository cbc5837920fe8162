package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteStore is the on-device durable cache backed by SQLite in WAL mode.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates the data directory if needed, opens the cache database
// and runs the schema.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("cache: create data dir: %w", err)
	}

	db, err := openDB("sqlite", filepath.Join(dataDir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("cache: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("cache: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("cache: migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER,
			updated_at INTEGER NOT NULL
		)`)
	return err
}

// Get returns the stored value, treating an expired row as absent. Expired
// rows are deleted lazily on read.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get", key, err)
	}

	if expiresAt.Valid && s.now().Unix() >= expiresAt.Int64 {
		// Lazy expiry; best effort, a failed delete just leaves a dead row.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return nil, ErrNotFound
	}
	return value, nil
}

// Put upserts the value. ttl <= 0 stores without expiry.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		key, value, expiresAt, s.now().Unix())
	if err != nil {
		return wrapErr("put", key, err)
	}
	return nil
}

// Invalidate removes the key.
func (s *SQLiteStore) Invalidate(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return wrapErr("invalidate", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
