package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"payoffgrid/config"
	"payoffgrid/finance"
	"payoffgrid/grid"
	"payoffgrid/models"
	"payoffgrid/processor"
	"payoffgrid/store"
)

func testGrid(t *testing.T) grid.Config {
	t.Helper()
	cfg, err := config.TestGrid().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return cfg
}

// populated returns a service over a fully swept coarse grid.
func populated(t *testing.T) (*GridService, store.Store) {
	t.Helper()
	cfg := testGrid(t)
	s := store.NewMemoryStore()
	calc, err := processor.NewCalculator(cfg, nil, 2, 2)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	if _, err := calc.Run(context.Background(), "", processor.StoreSink(s), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	svc, err := NewGridService(cfg, s)
	if err != nil {
		t.Fatalf("NewGridService: %v", err)
	}
	return svc, s
}

func TestPayoffTime(t *testing.T) {
	svc, _ := populated(t)
	ctx := context.Background()

	got, err := svc.PayoffTime(ctx, 50000, 0.05, 1000)
	if err != nil {
		t.Fatalf("PayoffTime: %v", err)
	}
	want, _ := finance.TimeUntilZeroBalance(0.05, 50000, 1000)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("PayoffTime = %v, want %v", got, want)
	}

	got, err = svc.PayoffTime(ctx, 50000, 0, 1000)
	if err != nil {
		t.Fatalf("PayoffTime: %v", err)
	}
	if math.Round(got*100)/100 != 4.17 {
		t.Fatalf("zero-rate payoff = %v, want 4.17", got)
	}
}

func TestPayoffTimeErrors(t *testing.T) {
	svc, _ := populated(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		balance int64
		rate    float64
		payment int64
		want    error
	}{
		{"never pays off", 50000, 0.05, 0, ErrNotFound},
		{"balance off grid", 25000, 0.05, 1000, ErrOutOfDomain},
		{"balance past max", 200000, 0.05, 1000, ErrOutOfDomain},
		{"rate not on step", 50000, 0.03, 1000, ErrOutOfDomain},
		{"rate not fixed point", 50000, 0.05001, 1000, ErrOutOfDomain},
		{"payment off grid", 50000, 0.05, 1500, ErrOutOfDomain},
		{"rate NaN", 50000, math.NaN(), 1000, ErrOutOfDomain},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := svc.PayoffTime(ctx, c.balance, c.rate, c.payment); !errors.Is(err, c.want) {
				t.Fatalf("expected %v, got %v", c.want, err)
			}
		})
	}
}

func TestPaymentsVsTime(t *testing.T) {
	svc, _ := populated(t)
	got, err := svc.PaymentsVsTime(context.Background(), 100000, 0.05)
	if err != nil {
		t.Fatalf("PaymentsVsTime: %v", err)
	}
	// payment 0 never pays off and is left out
	if len(got) != 3 {
		t.Fatalf("expected 3 payments, got %+v", got)
	}
	for i, pt := range got {
		if pt.Payment != int64(i+1)*1000 {
			t.Fatalf("payments not ascending: %+v", got)
		}
		if i > 0 && pt.Years >= got[i-1].Years {
			t.Fatalf("larger payment should pay off sooner: %+v", got)
		}
	}

	if _, err := svc.PaymentsVsTime(context.Background(), 100000, 0.2); !errors.Is(err, ErrOutOfDomain) {
		t.Fatalf("expected ErrOutOfDomain, got %v", err)
	}
}

func TestPaymentsVsTimeEmptyGrid(t *testing.T) {
	svc, err := NewGridService(testGrid(t), store.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewGridService: %v", err)
	}
	got, err := svc.PaymentsVsTime(context.Background(), 0, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %+v, %v", got, err)
	}
}

func TestEach(t *testing.T) {
	svc, _ := populated(t)
	var ids []int64
	if err := svc.Each(context.Background(), 5, func(rec models.GridRecord) error {
		ids = append(ids, rec.ID)
		return nil
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}
	if len(ids) != 24 {
		t.Fatalf("expected 24 records, got %d", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not ascending: %v", ids)
		}
	}

	stop := errors.New("stop")
	if err := svc.Each(context.Background(), 5, func(models.GridRecord) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestNewGridServiceRejectsBadConfig(t *testing.T) {
	cfg := testGrid(t)
	cfg.Balance.Step = -1
	if _, err := NewGridService(cfg, store.NewMemoryStore()); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := NewGridService(testGrid(t), nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for nil store, got %v", err)
	}
}
