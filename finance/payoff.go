package finance

import (
	"fmt"
	"math"
	"strings"
)

// Search step sizes in hundredths of a year.
const (
	coarseStep = 100
	tenthStep  = 10
	fineStep   = 1
)

// TimeUntilZeroBalance returns the first hundredth of a year at which a loan
// of b0 at annualRate, paid down by payment each month, is at or below zero.
// ok is false when the payment does not cover the first year's interest and
// the balance therefore never reaches zero. A negative balance is already
// paid off at 0; a zero balance follows the search so that a zero payment
// still counts as never reaching zero.
func TimeUntilZeroBalance(annualRate, b0, payment float64) (years float64, ok bool) {
	if b0 < 0 {
		return 0, true
	}
	i := MonthlyRate(annualRate)
	at := func(hundredths int) float64 {
		return Balance(12*float64(hundredths)/100, i, b0, -payment)
	}

	if at(coarseStep) >= at(0) {
		return 0, false
	}

	t := 0
	for at(t) > 0 {
		t += coarseStep
	}
	for at(t) < 0 {
		t -= tenthStep
	}
	for at(t) > 0 {
		t += fineStep
	}
	return float64(t) / 100, true
}

// PaymentsToPayoff returns the number of periods needed to pay off balance a
// at periodic rate i with periodic payment p. It fails with ErrDomainMath
// when p is zero or cannot overcome the interest on a.
func PaymentsToPayoff(a, i, p float64) (float64, error) {
	if p == 0 {
		return 0, fmt.Errorf("payment is zero: %w", ErrDomainMath)
	}
	if i == 0 {
		if a/p < 0 {
			return 0, fmt.Errorf("payment %v has the wrong sign for balance %v: %w", p, a, ErrDomainMath)
		}
		return a / p, nil
	}
	arg := 1 - i*a/p
	if arg <= 0 {
		return 0, fmt.Errorf("payment %v cannot overcome balance %v at rate %v: %w", p, a, i, ErrDomainMath)
	}
	return -math.Log(arg) / math.Log(1+i), nil
}

// Solver computes the payoff time in years for a grid cell. ok is false for
// cells that never reach zero.
type Solver func(annualRate, b0, payment float64) (years float64, ok bool)

const (
	SolverSearch     = "search"
	SolverClosedForm = "closed_form"
)

// ClosedFormYears is a Solver using PaymentsToPayoff with monthly periods.
func ClosedFormYears(annualRate, b0, payment float64) (float64, bool) {
	if b0 < 0 {
		return 0, true
	}
	periods, err := PaymentsToPayoff(b0, MonthlyRate(annualRate), payment)
	if err != nil {
		return 0, false
	}
	return periods / 12, true
}

// NewSolver returns the solver registered under name.
func NewSolver(name string) (Solver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SolverSearch:
		return TimeUntilZeroBalance, nil
	case SolverClosedForm:
		return ClosedFormYears, nil
	default:
		return nil, fmt.Errorf("unknown solver %q: %w", name, ErrInvalidArgument)
	}
}
