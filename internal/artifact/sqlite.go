package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createBlobsTable = `
CREATE TABLE IF NOT EXISTS blobs (
    handle     TEXT PRIMARY KEY,
    data       BLOB NOT NULL,
    size       INTEGER NOT NULL,
    created_at DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Backend = (*SQLiteBackend)(nil)

// SQLiteBackend keeps artifact bytes in a SQLite table so large meshes do not
// have to stay resident. Rows live exactly as long as their handle.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens the SQLite database at dbPath and creates the blob table.
// Rows left over from a previous process are discarded, since their handles
// cannot have survived it.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createBlobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create blobs table: %w", err)
	}

	if _, err := db.Exec("DELETE FROM blobs"); err != nil {
		db.Close()
		return nil, fmt.Errorf("clear stale blobs: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Put inserts or replaces the bytes stored under handle.
func (s *SQLiteBackend) Put(ctx context.Context, handle string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO blobs (handle, data, size, created_at) VALUES (?, ?, ?, ?)`,
		handle, data, len(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert blob: %w", err)
	}
	return nil
}

// Get returns the bytes stored under handle.
func (s *SQLiteBackend) Get(ctx context.Context, handle string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM blobs WHERE handle = ?", handle).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return data, nil
}

// Delete removes the row for handle. Missing rows are ignored.
func (s *SQLiteBackend) Delete(ctx context.Context, handle string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE handle = ?", handle); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Count returns the number of stored blobs.
func (s *SQLiteBackend) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blobs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count blobs: %w", err)
	}
	return n, nil
}

// Close closes the underlying database connection.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
