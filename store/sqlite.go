package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const defaultSQLitePath = "payoff_grid.db"

var sqliteDialect = dialect{
	name:   "sqlite",
	driver: "sqlite",
	createTable: `CREATE TABLE IF NOT EXISTS grid_points (
		id INTEGER PRIMARY KEY,
		balance INTEGER NOT NULL,
		rate INTEGER NOT NULL,
		payment INTEGER NOT NULL,
		payoff_time INTEGER NOT NULL
	)`,
	placeholder: positional,
}

// SQLiteStore persists grid points to a single SQLite file.
type SQLiteStore struct {
	*sqlStore
	path string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = defaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection keeps batches from
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite journal mode: %w", err)
	}

	inner, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: inner, path: path}, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }
