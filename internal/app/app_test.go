package app

import (
	"context"
	"path/filepath"
	"testing"

	"payoffgrid/config"
	"payoffgrid/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Service.Name = "payoffgrid"
	cfg.Service.Version = "test"
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "grid.db")
	cfg.Writer.Parquet.LocalDir = t.TempDir()
	cfg.Writer.ExportAfterSweep = true
	return &cfg
}

func TestBuildAndRecompute(t *testing.T) {
	t.Setenv("APP_ENV", "")
	ctx := context.Background()
	a, err := build(ctx, testConfig(t), config.GridModeTest, logger.GetLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	stats, err := a.Sweeper.RecomputeAll(ctx)
	if err != nil {
		t.Fatalf("RecomputeAll: %v", err)
	}
	if stats.Persisted != 24 {
		t.Fatalf("expected 24 persisted cells, got %+v", stats)
	}
	years, err := a.Lookups.PayoffTime(ctx, 50000, 0, 1000)
	if err != nil || years != 4.17 {
		t.Fatalf("PayoffTime = %v, %v", years, err)
	}
}

func TestBuildRejectsMemoryInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	cfg := testConfig(t)
	cfg.Store.Driver = "memory"
	if _, err := build(context.Background(), cfg, config.GridModeTest, logger.GetLogger()); err == nil {
		t.Fatalf("expected memory store to be refused in production")
	}
}

func TestBuildRejectsUnknownMode(t *testing.T) {
	t.Setenv("APP_ENV", "")
	if _, err := build(context.Background(), testConfig(t), "bogus", logger.GetLogger()); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
