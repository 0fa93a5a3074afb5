// Package app wires configuration, logging, storage and the grid services
// into one value shared by the service and CLI binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"payoffgrid/config"
	"payoffgrid/finance"
	"payoffgrid/grid"
	"payoffgrid/internal/metrics"
	"payoffgrid/logger"
	"payoffgrid/processor"
	"payoffgrid/service"
	"payoffgrid/store"
	"payoffgrid/writer"
)

// App holds the long-lived components of one process.
type App struct {
	Config   *config.Config
	Log      *logger.Log
	Grid     grid.Config
	Store    store.Store
	Lookups  *service.GridService
	Sweeper  *service.Sweeper
	Exporter *writer.Exporter
	Events   *writer.KafkaWriter

	unsubscribe func()
}

// Options selects the configuration file and grid mode.
type Options struct {
	ConfigPath string
	Mode       string
}

// LoadEnv reads .env when present.
func LoadEnv(log *logger.Log) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}
}

// New loads configuration and opens every component. The caller must Close
// the returned App.
func New(ctx context.Context, opts Options) (*App, error) {
	log := logger.GetLogger()

	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return nil, fmt.Errorf("configure logger: %w", err)
	}
	return build(ctx, cfg, opts.Mode, log)
}

func build(ctx context.Context, cfg *config.Config, mode string, log *logger.Log) (*App, error) {
	if cfg.Store.Driver == "memory" && config.IsProductionLike(config.AppEnvironment()) {
		return nil, fmt.Errorf("store.driver memory is not allowed in %s", config.AppEnvironment())
	}

	gridCfg, err := cfg.GridForMode(mode)
	if err != nil {
		return nil, err
	}
	g, err := gridCfg.Build()
	if err != nil {
		return nil, err
	}
	solver, err := finance.NewSolver(gridCfg.Solver)
	if err != nil {
		return nil, err
	}

	metrics.Init()
	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(ctx, cfg.Storage.S3.Region, cfg.Metrics.Namespace, cfg.Metrics.Dashboard)
	}
	if cfg.Logging.Report {
		interval := cfg.Processor.ReportInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		logger.StartReport(ctx, log, interval)
	}

	s, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	lookups, err := service.NewGridService(g, s)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	calc, err := processor.NewCalculator(g, solver, cfg.Processor.MaxWorkers, cfg.Processor.Window)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	exporter, err := writer.NewExporter(ctx, cfg, s, lookups.Indexer())
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	var sweepExporter service.Exporter
	if cfg.Writer.ExportAfterSweep {
		sweepExporter = exporter
	}

	nb, nr, np := lookups.Indexer().Dims()
	log.WithComponent("main").WithFields(logger.Fields{
		"service":  cfg.Service.Name,
		"version":  cfg.Service.Version,
		"mode":     mode,
		"driver":   cfg.Store.Driver,
		"solver":   gridCfg.Solver,
		"balances": nb,
		"rates":    nr,
		"payments": np,
	}).Info("payoff grid ready")

	a := &App{
		Config:   cfg,
		Log:      log,
		Grid:     g,
		Store:    s,
		Lookups:  lookups,
		Sweeper:  service.NewSweeper(s, calc, sweepExporter),
		Exporter: exporter,
	}

	if cfg.Storage.Kafka.Enabled {
		updates, unsubscribe := a.Sweeper.Subscribe()
		events, err := writer.NewKafkaWriter(cfg, updates)
		if err != nil {
			unsubscribe()
			_ = s.Close()
			return nil, fmt.Errorf("create kafka writer: %w", err)
		}
		if err := events.Start(ctx); err != nil {
			unsubscribe()
			_ = s.Close()
			return nil, err
		}
		a.Events, a.unsubscribe = events, unsubscribe
	}
	return a, nil
}

// Close cancels any running recompute, waits for it, flushes sweep events
// and closes the store.
func (a *App) Close() error {
	if a.Sweeper.Running() {
		_ = a.Sweeper.Cancel()
		waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Sweeper.Wait(waitCtx); err != nil {
			a.Log.WithComponent("main").WithError(err).Debug("recompute ended on shutdown")
		}
	}
	if a.Events != nil {
		a.unsubscribe()
		a.Events.Stop()
	}
	return a.Store.Close()
}
