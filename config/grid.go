package config

import (
	"fmt"

	"payoffgrid/grid"
)

// GridModeActual and GridModeTest name the two built-in discretizations.
const (
	GridModeActual = "actual"
	GridModeTest   = "test"
)

// TestGrid is the coarse discretization used to exercise the full pipeline
// quickly: 4 balances, 2 rates and 4 payments.
func TestGrid() GridConfig {
	return GridConfig{
		Balance: IntRangeConfig{Min: 0, Max: 200000, Step: 50000},
		Rate:    FloatRangeConfig{Min: 0, Max: 0.1, Step: 0.05},
		Payment: IntRangeConfig{Min: 0, Max: 4000, Step: 1000},
		Solver:  "search",
	}
}

// GridForMode returns the discretization for a named mode. Actual mode
// keeps whatever the configuration file set.
func (c *Config) GridForMode(mode string) (GridConfig, error) {
	switch mode {
	case "", GridModeActual:
		return c.Grid, nil
	case GridModeTest:
		g := TestGrid()
		g.Solver = c.Grid.Solver
		return g, nil
	default:
		return GridConfig{}, fmt.Errorf("grid mode must be %s or %s, got '%s'", GridModeActual, GridModeTest, mode)
	}
}

// validate checks the ranges against the payoff search's domain: balances,
// payments and rates are never negative.
func (g GridConfig) validate() error {
	if err := validateIntRange("grid.balance", g.Balance); err != nil {
		return err
	}
	if err := validateFloatRange("grid.rate", g.Rate); err != nil {
		return err
	}
	if err := validateIntRange("grid.payment", g.Payment); err != nil {
		return err
	}
	switch g.Solver {
	case "", "search", "closed_form":
	default:
		return fmt.Errorf("grid.solver must be search or closed_form, got '%s'", g.Solver)
	}
	return nil
}

// Build converts the configured ranges into an immutable grid.Config.
func (g GridConfig) Build() (grid.Config, error) {
	if err := g.validate(); err != nil {
		return grid.Config{}, fmt.Errorf("%w: %w", err, grid.ErrInvalidArgument)
	}
	balance, err := grid.NewRange(g.Balance.Min, g.Balance.Max, g.Balance.Step)
	if err != nil {
		return grid.Config{}, fmt.Errorf("grid.balance: %w", err)
	}
	rate, err := grid.NewRateRange(g.Rate.Min, g.Rate.Max, g.Rate.Step)
	if err != nil {
		return grid.Config{}, fmt.Errorf("grid.rate: %w", err)
	}
	if grid.DecodeRate(rate.Step) != g.Rate.Step || grid.DecodeRate(rate.Min) != g.Rate.Min ||
		grid.DecodeRate(rate.Max) != g.Rate.Max {
		return grid.Config{}, fmt.Errorf("grid.rate: min, max and step must be multiples of 0.0001: %w", grid.ErrInvalidArgument)
	}
	payment, err := grid.NewRange(g.Payment.Min, g.Payment.Max, g.Payment.Step)
	if err != nil {
		return grid.Config{}, fmt.Errorf("grid.payment: %w", err)
	}
	return grid.NewConfig(balance, rate, payment)
}
