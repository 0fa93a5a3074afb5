// Package finance holds the account balance model and the payoff time search
// built on top of it. Everything here is a pure function of its arguments.
package finance

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidArgument is returned for unsupported compounding modes.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDomainMath is returned when the closed-form payoff formula has no
	// real solution. Callers treat it as "never reaches zero".
	ErrDomainMath = errors.New("domain error")
)

// Compounding selects how an annual rate is applied.
type Compounding string

const (
	Monthly Compounding = "monthly"
	Yearly  Compounding = "yearly"
)

// ParseCompounding normalises a compounding name.
func ParseCompounding(s string) (Compounding, error) {
	switch c := Compounding(strings.ToLower(strings.TrimSpace(s))); c {
	case Monthly, Yearly:
		return c, nil
	default:
		return "", fmt.Errorf("compounding must be monthly or yearly, got %q: %w", s, ErrInvalidArgument)
	}
}

// Balance returns the balance after t periods at periodic rate r, starting
// at b0 with a signed periodic payment p (negative for loan payments).
// t may be fractional.
func Balance(t, r, b0, p float64) float64 {
	growth := math.Pow(1+r, t)
	if r == 0 {
		return b0*growth + p*t
	}
	return b0*growth + p*((1-growth)/(-r))
}

// AccountBalance returns the balance after years at the given annual rate.
// p is the monthly payment; yearly compounding applies twelve of them at once.
func AccountBalance(years, annualRate, b0, p float64, compounding Compounding) (float64, error) {
	switch compounding {
	case Monthly:
		return Balance(12*years, MonthlyRate(annualRate), b0, p), nil
	case Yearly:
		return Balance(years, annualRate, b0, 12*p), nil
	default:
		return 0, fmt.Errorf("compounding must be monthly or yearly, got %q: %w", compounding, ErrInvalidArgument)
	}
}

// MonthlyRate converts an annual rate into the equivalent monthly rate.
func MonthlyRate(annualRate float64) float64 {
	return math.Pow(1+annualRate, 1.0/12) - 1
}
