// Package grid discretizes the (balance, rate, payment) parameter space and
// maps every point of it to a sequential id, so a plain row store keyed by
// integer id can answer three-key lookups and per-(balance, rate) scans.
package grid

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidArgument reports a malformed range configuration.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOutOfDomain reports a value or id that is not on the grid.
	ErrOutOfDomain = errors.New("out of domain")
)

// Scale is the fixed-point factor for rates and payoff times at the store
// boundary.
const Scale = 10000

// EncodeRate converts a decimal rate to its fixed-point store value.
func EncodeRate(rate float64) int64 { return int64(math.Round(rate * Scale)) }

// DecodeRate converts a fixed-point store rate back to a decimal.
func DecodeRate(v int64) float64 { return float64(v) / Scale }

// EncodeYears converts a payoff time in years to its fixed-point store value.
func EncodeYears(years float64) int64 { return int64(math.Round(years * Scale)) }

// DecodeYears converts a fixed-point payoff time back to years.
func DecodeYears(v int64) float64 { return float64(v) / Scale }

// Range is a discretized dimension in store units: Min, Min+Step, ... for
// Steps() values, all strictly below Max.
type Range struct {
	Min  int64
	Max  int64
	Step int64
}

// NewRange validates and returns a range.
func NewRange(min, max, step int64) (Range, error) {
	if step <= 0 {
		return Range{}, fmt.Errorf("step must be greater than 0, got %d: %w", step, ErrInvalidArgument)
	}
	if max < min {
		return Range{}, fmt.Errorf("max %d is below min %d: %w", max, min, ErrInvalidArgument)
	}
	if (max-min)/step < 1 {
		return Range{}, fmt.Errorf("step %d leaves no values between %d and %d: %w", step, min, max, ErrInvalidArgument)
	}
	return Range{Min: min, Max: max, Step: step}, nil
}

// NewRateRange builds a rate range from decimal fractions, encoding each
// bound with EncodeRate.
func NewRateRange(min, max, step float64) (Range, error) {
	return NewRange(EncodeRate(min), EncodeRate(max), EncodeRate(step))
}

// Steps is the number of values in the range.
func (r Range) Steps() int { return int((r.Max - r.Min) / r.Step) }

// Value returns the value at zero-based position i.
func (r Range) Value(i int) int64 { return r.Min + int64(i)*r.Step }

// Values lists every value in range order.
func (r Range) Values() []int64 {
	n := r.Steps()
	out := make([]int64, n)
	for i := range out {
		out[i] = r.Value(i)
	}
	return out
}

// Position returns the zero-based position of v in the range.
func (r Range) Position(v int64) (int, error) {
	return StepsTo(r.Min, r.Max, r.Step, v)
}

// StepsTo returns how many steps of size step lie between min and value.
// It fails with ErrOutOfDomain when the range is malformed, when value is
// outside [min, max), or when value does not land exactly on a step.
func StepsTo(min, max, step, value int64) (int, error) {
	if max < min {
		return 0, fmt.Errorf("max %d is below min %d: %w", max, min, ErrOutOfDomain)
	}
	if step <= 0 || (max-min)/step < 1 {
		return 0, fmt.Errorf("step %d does not fit between %d and %d: %w", step, min, max, ErrOutOfDomain)
	}
	if value < min || value >= max {
		return 0, fmt.Errorf("value %d outside [%d, %d): %w", value, min, max, ErrOutOfDomain)
	}
	off := value - min
	if off%step != 0 {
		return 0, fmt.Errorf("value %d is not on a step of %d from %d: %w", value, step, min, ErrOutOfDomain)
	}
	pos := int(off / step)
	if pos >= int((max-min)/step) {
		return 0, fmt.Errorf("value %d is past the last step below %d: %w", value, max, ErrOutOfDomain)
	}
	return pos, nil
}
