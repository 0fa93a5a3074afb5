package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"payoffgrid/logger"
	"payoffgrid/models"
)

// dialect carries what differs between the SQL back ends.
type dialect struct {
	name        string
	driver      string
	createTable string
	// placeholder returns the bind marker for the nth (1-based) argument.
	placeholder func(n int) string
}

// sqlStore implements Store over database/sql. The schema is one row per
// grid point with every column NOT NULL, so a row is either fully present or
// absent.
type sqlStore struct {
	db      *sql.DB
	dialect dialect

	upsertSQL string
	getSQL    string
	rangeSQL  string
	countSQL  string
	clearSQL  string
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	if _, err := db.ExecContext(ctx, d.createTable); err != nil {
		return nil, fmt.Errorf("create grid_points table: %w", err)
	}

	p := d.placeholder
	s := &sqlStore{db: db, dialect: d}
	s.upsertSQL = fmt.Sprintf(`INSERT INTO grid_points (id, balance, rate, payment, payoff_time)
VALUES (%s, %s, %s, %s, %s)
ON CONFLICT (id) DO UPDATE SET
	balance = excluded.balance,
	rate = excluded.rate,
	payment = excluded.payment,
	payoff_time = excluded.payoff_time`, p(1), p(2), p(3), p(4), p(5))
	s.getSQL = fmt.Sprintf(`SELECT id, balance, rate, payment, payoff_time FROM grid_points WHERE id = %s`, p(1))
	s.rangeSQL = fmt.Sprintf(`SELECT id, balance, rate, payment, payoff_time FROM grid_points
WHERE id >= %s AND id < %s ORDER BY id ASC`, p(1), p(2))
	s.countSQL = `SELECT COUNT(*) FROM grid_points`
	s.clearSQL = fmt.Sprintf(`DELETE FROM grid_points WHERE id IN (
	SELECT id FROM grid_points ORDER BY id LIMIT %s)`, p(1))
	return s, nil
}

func (s *sqlStore) Put(ctx context.Context, rec models.GridRecord) error {
	if _, err := s.db.ExecContext(ctx, s.upsertSQL, rec.ID, rec.Balance, rec.Rate, rec.Payment, rec.Time); err != nil {
		return fmt.Errorf("%s put %d: %w", s.dialect.name, rec.ID, err)
	}
	return nil
}

// PutBatch writes recs in one transaction, rolling back on any error.
func (s *sqlStore) PutBatch(ctx context.Context, recs []models.GridRecord) (retErr error) {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s begin: %w", s.dialect.name, err)
	}
	defer func() {
		if retErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logger.GetLogger().WithComponent("store").WithError(rbErr).Warn("rollback failed")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.upsertSQL)
	if err != nil {
		return fmt.Errorf("%s prepare upsert: %w", s.dialect.name, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Balance, rec.Rate, rec.Payment, rec.Time); err != nil {
			return fmt.Errorf("%s upsert %d: %w", s.dialect.name, rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s commit: %w", s.dialect.name, err)
	}
	return nil
}

func (s *sqlStore) Get(ctx context.Context, id int64) (models.GridRecord, error) {
	var rec models.GridRecord
	err := s.db.QueryRowContext(ctx, s.getSQL, id).Scan(&rec.ID, &rec.Balance, &rec.Rate, &rec.Payment, &rec.Time)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GridRecord{}, ErrNotFound
	}
	if err != nil {
		return models.GridRecord{}, fmt.Errorf("%s get %d: %w", s.dialect.name, id, err)
	}
	return rec, nil
}

func (s *sqlStore) Range(ctx context.Context, start, end int64) ([]models.GridRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rangeSQL, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s range [%d,%d): %w", s.dialect.name, start, end, err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.GridRecord
	for rows.Next() {
		var rec models.GridRecord
		if err := rows.Scan(&rec.ID, &rec.Balance, &rec.Rate, &rec.Payment, &rec.Time); err != nil {
			return nil, fmt.Errorf("%s scan: %w", s.dialect.name, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s range rows: %w", s.dialect.name, err)
	}
	return out, nil
}

func (s *sqlStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, s.countSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s count: %w", s.dialect.name, err)
	}
	return n, nil
}

// Clear deletes rows in id order, clearChunk at a time, reporting progress
// after each chunk. A cancelled clear leaves the remaining rows intact.
func (s *sqlStore) Clear(ctx context.Context, progress ClearProgress) error {
	total, err := s.Count(ctx)
	if err != nil {
		return err
	}
	var deleted int64
	for deleted < total {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := s.db.ExecContext(ctx, s.clearSQL, clearChunk)
		if err != nil {
			return fmt.Errorf("%s clear: %w", s.dialect.name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%s clear rows affected: %w", s.dialect.name, err)
		}
		if n == 0 {
			break
		}
		deleted += n
		if deleted > total {
			total = deleted
		}
		if progress != nil {
			progress(deleted, total)
		}
	}
	if progress != nil && total == 0 {
		progress(0, 0)
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// numbered returns Postgres style "$n" placeholders.
func numbered(n int) string { return "$" + strconv.Itoa(n) }

// positional returns "?" for every argument.
func positional(int) string { return "?" }
