package processor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"payoffgrid/finance"
	"payoffgrid/grid"
	"payoffgrid/models"
	"payoffgrid/store"
)

// coarseGrid is 4 balances x 2 rates x 4 payments.
func coarseGrid(t *testing.T) grid.Config {
	t.Helper()
	balance, err := grid.NewRange(0, 200000, 50000)
	if err != nil {
		t.Fatalf("balance range: %v", err)
	}
	rate, err := grid.NewRateRange(0, 0.1, 0.05)
	if err != nil {
		t.Fatalf("rate range: %v", err)
	}
	payment, err := grid.NewRange(0, 4000, 1000)
	if err != nil {
		t.Fatalf("payment range: %v", err)
	}
	cfg, err := grid.NewConfig(balance, rate, payment)
	if err != nil {
		t.Fatalf("grid config: %v", err)
	}
	return cfg
}

func TestCalculatorSweepPersistsInOrder(t *testing.T) {
	cfg := coarseGrid(t)
	calc, err := NewCalculator(cfg, nil, 3, 2)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	s := store.NewMemoryStore()
	persist := StoreSink(s)

	var shards []int
	lastID := int64(-1)
	sink := func(ctx context.Context, b models.GridBatch) error {
		shards = append(shards, b.Shard)
		for _, rec := range b.Records {
			if rec.ID <= lastID {
				t.Errorf("id %d not above previous %d", rec.ID, lastID)
			}
			lastID = rec.ID
		}
		return persist(ctx, b)
	}

	var progressCalls int
	stats, err := calc.Run(context.Background(), "run-1", sink, func(b models.GridBatch, done, total int64) {
		progressCalls++
		if total != 32 {
			t.Errorf("total = %d, want 32", total)
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i, shard := range shards {
		if shard != i {
			t.Fatalf("shards out of order: %v", shards)
		}
	}
	if stats.RunID != "run-1" || stats.Cells != 32 || stats.Batches != 4 || progressCalls != 4 {
		t.Fatalf("unexpected stats %+v (progress calls %d)", stats, progressCalls)
	}
	// zero payment never pays anything off
	if stats.Skipped != 8 || stats.Persisted != 24 {
		t.Fatalf("expected 24 persisted and 8 skipped, got %+v", stats)
	}
	if n, _ := s.Count(context.Background()); n != 24 {
		t.Fatalf("store holds %d records, want 24", n)
	}
}

func TestCalculatorRecordsMatchSolver(t *testing.T) {
	cfg := coarseGrid(t)
	calc, err := NewCalculator(cfg, nil, 2, 4)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	s := store.NewMemoryStore()
	if _, err := calc.Run(context.Background(), "", StoreSink(s), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	x := calc.Indexer()
	for id := int64(0); id < x.Size(); id++ {
		pt, err := x.Point(id)
		if err != nil {
			t.Fatalf("Point(%d): %v", id, err)
		}
		years, ok := finance.TimeUntilZeroBalance(grid.DecodeRate(pt.Rate), float64(pt.Balance), float64(pt.Payment))
		rec, err := s.Get(context.Background(), id)
		if !ok {
			if !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("cell %d never pays off but was persisted: %+v", id, rec)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Get(%d): %v", id, err)
		}
		want := models.GridRecord{ID: id, Balance: pt.Balance, Rate: pt.Rate, Payment: pt.Payment, Time: grid.EncodeYears(years)}
		if rec != want {
			t.Fatalf("record %d = %+v, want %+v", id, rec, want)
		}
	}
}

func TestCalculatorGeneratesRunID(t *testing.T) {
	calc, err := NewCalculator(coarseGrid(t), finance.ClosedFormYears, 1, 1)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	seen := map[string]bool{}
	var mu sync.Mutex
	stats, err := calc.Run(context.Background(), "", func(ctx context.Context, b models.GridBatch) error {
		mu.Lock()
		seen[b.RunID] = true
		mu.Unlock()
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.RunID == "" || len(seen) != 1 || !seen[stats.RunID] {
		t.Fatalf("run id not propagated: stats=%q batches=%v", stats.RunID, seen)
	}
}

func TestCalculatorSinkErrorAborts(t *testing.T) {
	calc, err := NewCalculator(coarseGrid(t), nil, 2, 1)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	s := store.NewMemoryStore()
	persist := StoreSink(s)
	boom := errors.New("disk full")

	stats, err := calc.Run(context.Background(), "r", func(ctx context.Context, b models.GridBatch) error {
		if b.Shard == 2 {
			return boom
		}
		return persist(ctx, b)
	}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if stats.Batches != 2 {
		t.Fatalf("expected 2 committed batches, got %d", stats.Batches)
	}
	recs, _ := s.Range(context.Background(), 0, calc.Total())
	for _, rec := range recs {
		if rec.Balance >= 100000 {
			t.Fatalf("record from aborted shard persisted: %+v", rec)
		}
	}
}

func TestCalculatorCancelled(t *testing.T) {
	calc, err := NewCalculator(coarseGrid(t), nil, 2, 2)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	_, err = calc.Run(ctx, "r", func(ctx context.Context, b models.GridBatch) error {
		cancel()
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewCalculatorRejectsBadGrid(t *testing.T) {
	cfg := coarseGrid(t)
	cfg.Payment.Step = 0
	if _, err := NewCalculator(cfg, nil, 1, 1); !errors.Is(err, grid.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCalculatorRequiresSink(t *testing.T) {
	calc, err := NewCalculator(coarseGrid(t), nil, 1, 1)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	if _, err := calc.Run(context.Background(), "", nil, nil); !errors.Is(err, grid.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
