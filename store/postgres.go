package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const defaultPostgresDSN = "postgres://localhost/payoffgrid?sslmode=disable"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var postgresDialect = dialect{
	name:   "postgres",
	driver: "pgx",
	createTable: `CREATE TABLE IF NOT EXISTS grid_points (
		id BIGINT PRIMARY KEY,
		balance BIGINT NOT NULL,
		rate BIGINT NOT NULL,
		payment BIGINT NOT NULL,
		payoff_time BIGINT NOT NULL
	)`,
	placeholder: numbered,
}

// PostgresStore persists grid points to a Postgres table.
type PostgresStore struct {
	*sqlStore
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects using dsn (falls back to defaultPostgresDSN) and
// ensures the grid_points table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	openMu.Lock()
	db, err := sqlOpen(postgresDialect.driver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	inner, err := newSQLStore(ctx, db, postgresDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{sqlStore: inner}, nil
}

// DB exposes the underlying sql.DB for integration tests.
func (s *PostgresStore) DB() *sql.DB { return s.db }
