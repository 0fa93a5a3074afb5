package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"payoffgrid/models"
)

func sampleRecords(n int) []models.GridRecord {
	recs := make([]models.GridRecord, n)
	for i := range recs {
		recs[i] = models.GridRecord{
			ID:      int64(i),
			Balance: int64(i/4) * 1000,
			Rate:    int64(i % 4 * 100),
			Payment: int64(i%4+1) * 100,
			Time:    int64(i+1) * 2500,
		}
	}
	return recs
}

// exerciseStore runs the behaviour every Store must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	recs := sampleRecords(12)
	if err := s.PutBatch(ctx, recs); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if n, err := s.Count(ctx); err != nil || n != 12 {
		t.Fatalf("Count = %d, %v; want 12", n, err)
	}

	got, err := s.Get(ctx, 5)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != recs[5] {
		t.Fatalf("Get(5) = %+v, want %+v", got, recs[5])
	}

	updated := recs[5]
	updated.Time = 99
	if err := s.Put(ctx, updated); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got, _ := s.Get(ctx, 5); got.Time != 99 {
		t.Fatalf("upsert did not replace record: %+v", got)
	}
	if n, _ := s.Count(ctx); n != 12 {
		t.Fatalf("upsert changed count to %d", n)
	}

	block, err := s.Range(ctx, 4, 8)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(block) != 4 {
		t.Fatalf("Range returned %d records, want 4", len(block))
	}
	for i, rec := range block {
		if rec.ID != int64(4+i) {
			t.Fatalf("Range not ascending at %d: %+v", i, block)
		}
	}

	if empty, err := s.Range(ctx, 100, 200); err != nil || len(empty) != 0 {
		t.Fatalf("Range past end = %v, %v", empty, err)
	}

	var lastDeleted, lastTotal int64
	if err := s.Clear(ctx, func(deleted, total int64) {
		lastDeleted, lastTotal = deleted, total
	}); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if lastDeleted != 12 || lastTotal != 12 {
		t.Fatalf("clear progress = %d/%d, want 12/12", lastDeleted, lastTotal)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("Count after Clear = %d", n)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreSparseRange(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.PutBatch(ctx, []models.GridRecord{{ID: 900}, {ID: 3}, {ID: 50}})
	got, err := s.Range(ctx, 0, 1_000_000)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 3 || got[0].ID != 3 || got[1].ID != 50 || got[2].ID != 900 {
		t.Fatalf("unexpected range %+v", got)
	}
}

func TestMemoryStorePutBatchCancelled(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.PutBatch(ctx, sampleRecords(3)); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
	if n, _ := s.Count(context.Background()); n != 0 {
		t.Fatalf("cancelled batch persisted %d records", n)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "grid.db")
	s, err := NewSQLiteStore(context.Background(), path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	if s.Path() != path {
		t.Fatalf("Path = %s", s.Path())
	}
	exerciseStore(t, s)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.db")
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.PutBatch(ctx, sampleRecords(4)); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if n, _ := s.Count(ctx); n != 4 {
		t.Fatalf("records not persisted across reopen: %d", n)
	}
}

func TestSQLiteStoreBatchRollback(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "grid.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.PutBatch(cancelled, sampleRecords(5)); err == nil {
		t.Fatalf("expected error for cancelled batch")
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("failed batch left %d records", n)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PAYOFFGRID_PG_DSN")
	if dsn == "" {
		t.Skip("PAYOFFGRID_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	defer s.Close()
	if err := s.Clear(ctx, nil); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	exerciseStore(t, s)
}

func TestPlaceholders(t *testing.T) {
	if numbered(3) != "$3" || positional(3) != "?" {
		t.Fatalf("unexpected placeholders %q %q", numbered(3), positional(3))
	}
}
