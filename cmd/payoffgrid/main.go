// Command payoffgrid answers single lookups against a persisted grid, or
// evaluates the balance model directly, and prints the result as JSON.
//
//	payoffgrid payoff   -balance 50000 -rate 0.05 -payment 1000
//	payoffgrid payments -balance 50000 -rate 0.05
//	payoffgrid balance  -years 2 -rate 0.05 -b0 50000 -payment 1000 -compounding monthly
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"payoffgrid/config"
	"payoffgrid/finance"
	"payoffgrid/internal/app"
	"payoffgrid/logger"
)

func main() {
	log := logger.GetLogger()
	app.LoadEnv(log)

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	if err := run(context.Background(), os.Args[1], os.Args[2:], os.Stdout); err != nil {
		log.WithError(err).Error("payoffgrid command failed")
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: payoffgrid <payoff|payments|balance> [flags]")
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	configPath := fs.String("config", "config/config.yml", "Path to configuration file")
	mode := fs.String("mode", config.GridModeActual, "Grid discretization: actual or test")
	balance := fs.Int64("balance", 0, "Initial balance in whole currency units")
	rate := fs.Float64("rate", 0, "Annual interest rate as a decimal fraction")
	payment := fs.Int64("payment", 0, "Periodic payment in whole currency units")
	years := fs.Float64("years", 0, "Elapsed years (balance command)")
	b0 := fs.Float64("b0", 0, "Initial balance (balance command)")
	compounding := fs.String("compounding", "monthly", "monthly or yearly (balance command)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch cmd {
	case "balance":
		c, err := finance.ParseCompounding(*compounding)
		if err != nil {
			return err
		}
		value, err := finance.AccountBalance(*years, *rate, *b0, float64(*payment), c)
		if err != nil {
			return err
		}
		return enc.Encode(map[string]interface{}{
			"years":       *years,
			"rate":        *rate,
			"b0":          *b0,
			"payment":     *payment,
			"compounding": *compounding,
			"balance":     value,
		})
	case "payoff", "payments":
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", cmd)
	}

	a, err := app.New(ctx, app.Options{ConfigPath: *configPath, Mode: *mode})
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd == "payoff" {
		t, err := a.Lookups.PayoffTime(ctx, *balance, *rate, *payment)
		if err != nil {
			return err
		}
		return enc.Encode(map[string]interface{}{
			"balance": *balance,
			"rate":    *rate,
			"payment": *payment,
			"years":   t,
		})
	}

	points, err := a.Lookups.PaymentsVsTime(ctx, *balance, *rate)
	if err != nil {
		return err
	}
	return enc.Encode(map[string]interface{}{
		"balance":  *balance,
		"rate":     *rate,
		"payments": points,
	})
}
