package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"payoffgrid/config"
	"payoffgrid/grid"
	"payoffgrid/internal/app"
	"payoffgrid/internal/server"
	"payoffgrid/logger"
	"payoffgrid/models"
)

func main() {
	log := logger.GetLogger()
	app.LoadEnv(log)

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	mode := flag.String("mode", config.GridModeActual, "Grid discretization: actual or test")
	recompute := flag.Bool("recompute", false, "Clear and recompute the whole grid before serving")
	export := flag.Bool("export", false, "Export the persisted grid to parquet and exit")
	dump := flag.Bool("dump", false, "Print every persisted grid point and exit")

	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	a, err := app.New(ctx, app.Options{ConfigPath: *configPath, Mode: *mode})
	if err != nil {
		log.WithError(err).Error("Failed to start payoff grid")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": a.Config.Service.Name,
		"version": a.Config.Service.Version,
	}).Info("starting payoffgrid")

	code := run(ctx, a, *recompute, *export, *dump)

	log.Info("starting graceful shutdown")
	if err := a.Close(); err != nil {
		log.WithError(err).Warn("failed to close store")
	}
	log.Info("payoffgrid stopped")
	os.Exit(code)
}

func run(ctx context.Context, a *app.App, recompute, export, dump bool) int {
	log := a.Log

	switch {
	case dump:
		if err := dumpPoints(ctx, a); err != nil {
			log.WithError(err).Error("dump failed")
			return 1
		}
		return 0
	case export:
		res, err := a.Exporter.Export(ctx, uuid.NewString())
		if err != nil {
			log.WithError(err).Error("export failed")
			return 1
		}
		log.WithFields(logger.Fields{"location": res.Location, "records": res.Records}).Info("export written")
		return 0
	}

	srv := server.NewServer(a.Config.Server, a.Lookups, a.Sweeper, log)

	if recompute {
		if srv == nil {
			stats, err := a.Sweeper.RecomputeAll(ctx)
			if err != nil {
				log.WithError(err).Error("recompute failed")
				return 1
			}
			log.WithFields(logger.Fields{
				"run_id":    stats.RunID,
				"persisted": stats.Persisted,
				"skipped":   stats.Skipped,
				"duration":  stats.Duration.String(),
			}).Info("recompute completed")
			return 0
		}
		if _, err := a.Sweeper.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start recompute")
			return 1
		}
	}

	if srv == nil {
		log.WithComponent("main").Warn("server disabled and no one-shot flag given; nothing to do")
		return 0
	}

	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("http server failed")
		return 1
	}
	return 0
}

// dumpPoints prints every persisted point in id order.
func dumpPoints(ctx context.Context, a *app.App) error {
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	fmt.Fprintln(out, "id,balance,rate,payment,years")
	return a.Lookups.Each(ctx, int64(a.Config.Writer.BlockSize), func(rec models.GridRecord) error {
		_, err := fmt.Fprintf(out, "%d,%d,%.4f,%d,%.2f\n",
			rec.ID, rec.Balance, grid.DecodeRate(rec.Rate), rec.Payment, grid.DecodeYears(rec.Time))
		return err
	})
}
