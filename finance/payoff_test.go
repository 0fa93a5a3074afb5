package finance

import (
	"errors"
	"math"
	"testing"
)

func TestTimeUntilZeroBalanceNoInterest(t *testing.T) {
	years, ok := TimeUntilZeroBalance(0, 60000, 1000)
	if !ok {
		t.Fatalf("expected payoff")
	}
	if math.Round(years) != 5 {
		t.Fatalf("expected 5 years, got %v", years)
	}
}

func TestTimeUntilZeroBalanceHundredths(t *testing.T) {
	years, ok := TimeUntilZeroBalance(0, 50000, 1000)
	if !ok {
		t.Fatalf("expected payoff")
	}
	if round(years, 2) != 4.17 {
		t.Fatalf("expected 4.17 years, got %v", years)
	}
}

func TestTimeUntilZeroBalanceIsFirstNonPositiveHundredth(t *testing.T) {
	cases := []struct{ r, b0, p float64 }{
		{0.05, 50000, 1000},
		{0.0675, 100000, 800},
		{0.1, 200000, 4000},
		{0.0001, 1000, 100},
	}
	for _, c := range cases {
		years, ok := TimeUntilZeroBalance(c.r, c.b0, c.p)
		if !ok {
			t.Fatalf("%+v: expected payoff", c)
		}
		i := MonthlyRate(c.r)
		if b := Balance(12*years, i, c.b0, -c.p); b > 1e-9 {
			t.Errorf("%+v: balance at %v is %v, want <= 0", c, years, b)
		}
		if b := Balance(12*(years-0.01), i, c.b0, -c.p); b <= 0 {
			t.Errorf("%+v: balance one hundredth earlier is %v, want > 0", c, b)
		}
	}
}

func TestTimeUntilZeroBalanceNeverPaysOff(t *testing.T) {
	cases := []struct{ r, b0, p float64 }{
		{0.1, 200000, 1000},
		{0.06, 100000, 400},
		{0.05, 1000, 0},
		{0, 0, 0},
	}
	for _, c := range cases {
		if years, ok := TimeUntilZeroBalance(c.r, c.b0, c.p); ok {
			t.Errorf("%+v: expected never, got %v", c, years)
		}
	}
}

func TestTimeUntilZeroBalanceZeroBalance(t *testing.T) {
	years, ok := TimeUntilZeroBalance(0.05, 0, 100)
	if !ok || years != 0 {
		t.Fatalf("expected 0 years, got %v ok=%v", years, ok)
	}
}

func TestNegativeBalanceIsPaidOffImmediately(t *testing.T) {
	for _, b0 := range []float64{-1000, -0.01} {
		if years, ok := TimeUntilZeroBalance(0.05, b0, 100); !ok || years != 0 {
			t.Errorf("search b0=%v: got %v ok=%v, want 0", b0, years, ok)
		}
		if years, ok := ClosedFormYears(0.05, b0, 100); !ok || years != 0 {
			t.Errorf("closed form b0=%v: got %v ok=%v, want 0", b0, years, ok)
		}
	}
}

func TestTimeUntilZeroBalanceZeroPaymentNeverPaysOff(t *testing.T) {
	if _, ok := TimeUntilZeroBalance(0, 0, 0); ok {
		t.Fatalf("zero balance with zero payment should not report a payoff")
	}
}

func TestPaymentsToPayoff(t *testing.T) {
	periods, err := PaymentsToPayoff(50000, 0, 1000)
	if err != nil {
		t.Fatalf("PaymentsToPayoff: %v", err)
	}
	if periods != 50 {
		t.Fatalf("expected 50 periods, got %v", periods)
	}

	i := MonthlyRate(0.05)
	periods, err = PaymentsToPayoff(50000, i, 1000)
	if err != nil {
		t.Fatalf("PaymentsToPayoff: %v", err)
	}
	if b := Balance(periods, i, 50000, -1000); math.Abs(b) > 1e-6 {
		t.Fatalf("balance after %v periods is %v, want 0", periods, b)
	}
}

func TestPaymentsToPayoffDomainError(t *testing.T) {
	cases := []struct{ a, i, p float64 }{
		{1000, 0.01, 0},
		{100000, 0.01, 1000},
		{100000, 0.01, 500},
	}
	for _, c := range cases {
		if _, err := PaymentsToPayoff(c.a, c.i, c.p); !errors.Is(err, ErrDomainMath) {
			t.Errorf("%+v: expected ErrDomainMath, got %v", c, err)
		}
	}
}

func TestSolversAgreeWithinTolerance(t *testing.T) {
	search, err := NewSolver("search")
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}
	closed, err := NewSolver(SolverClosedForm)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}
	for _, p := range []float64{600, 1000, 2500, 4000} {
		a, okA := search(0.05, 100000, p)
		b, okB := closed(0.05, 100000, p)
		if !okA || !okB {
			t.Fatalf("p=%v: expected both solvers to pay off", p)
		}
		if math.Abs(a-b) > 0.011 {
			t.Errorf("p=%v: search %v and closed form %v differ", p, a, b)
		}
	}
	if _, err := NewSolver("bisect"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
