package grid

import (
	"errors"
	"testing"
)

func TestStepsToRejects(t *testing.T) {
	cases := []struct {
		name                  string
		min, max, step, value int64
	}{
		{"max below min", 5, 0, 1, 1},
		{"step too large", 0, 5, 10, 4},
		{"value out of range", 0, 5, 1, 10},
		{"value below min", 10, 20, 1, 9},
		{"value equals max", 0, 5, 1, 5},
		{"value between steps", 0, 10, 2, 3},
		{"zero step", 0, 10, 0, 3},
	}
	for _, c := range cases {
		if pos, err := StepsTo(c.min, c.max, c.step, c.value); !errors.Is(err, ErrOutOfDomain) {
			t.Errorf("%s: expected ErrOutOfDomain, got pos=%d err=%v", c.name, pos, err)
		}
	}
}

func TestStepsTo(t *testing.T) {
	pos, err := StepsTo(1000, 200000, 1000, 50000)
	if err != nil {
		t.Fatalf("StepsTo: %v", err)
	}
	if pos != 49 {
		t.Fatalf("expected 49, got %d", pos)
	}
}

func TestNewRangeValidation(t *testing.T) {
	cases := []struct {
		name           string
		min, max, step int64
	}{
		{"zero step", 0, 10, 0},
		{"negative step", 0, 10, -1},
		{"max below min", 10, 0, 1},
		{"empty", 0, 5, 10},
	}
	for _, c := range cases {
		if _, err := NewRange(c.min, c.max, c.step); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: expected ErrInvalidArgument, got %v", c.name, err)
		}
	}
}

func TestRangeValues(t *testing.T) {
	r, err := NewRange(0, 4000, 100)
	if err != nil {
		t.Fatalf("NewRange: %v", err)
	}
	vals := r.Values()
	if len(vals) != 40 || r.Steps() != 40 {
		t.Fatalf("expected 40 values, got %d", len(vals))
	}
	for i, v := range vals {
		pos, err := r.Position(v)
		if err != nil {
			t.Fatalf("Position(%d): %v", v, err)
		}
		if pos != i {
			t.Fatalf("Position(%d) = %d, want %d", v, pos, i)
		}
	}
}

func TestRateRangeFromDecimals(t *testing.T) {
	r, err := NewRateRange(0, 0.1, 0.0001)
	if err != nil {
		t.Fatalf("NewRateRange: %v", err)
	}
	if r.Steps() != 1000 {
		t.Fatalf("expected 1000 steps, got %d", r.Steps())
	}
	pos, err := r.Position(EncodeRate(0.0675))
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != 675 {
		t.Fatalf("expected position 675, got %d", pos)
	}
}

func TestRateRoundTrip(t *testing.T) {
	for n := int64(0); n <= 1000; n++ {
		x := float64(n) / Scale
		if got := DecodeRate(EncodeRate(x)); got != x {
			t.Fatalf("DecodeRate(EncodeRate(%v)) = %v", x, got)
		}
	}
	if EncodeRate(0.0675) != 675 {
		t.Fatalf("expected 675, got %d", EncodeRate(0.0675))
	}
	if DecodeRate(675) != 0.0675 {
		t.Fatalf("expected 0.0675, got %v", DecodeRate(675))
	}
}

func TestYearsRoundTrip(t *testing.T) {
	if got := DecodeYears(EncodeYears(4.17)); got != 4.17 {
		t.Fatalf("expected 4.17, got %v", got)
	}
	if EncodeYears(346) != 3460000 {
		t.Fatalf("unexpected encoding %d", EncodeYears(346))
	}
}
