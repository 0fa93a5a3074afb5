// Package service exposes the precomputed grid to the presentation layer
// and runs recomputes in the background.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"payoffgrid/grid"
	"payoffgrid/internal/metrics"
	"payoffgrid/logger"
	"payoffgrid/models"
	"payoffgrid/store"
)

// rateTolerance is how far a requested rate may sit from its fixed-point
// encoding before it counts as off the grid.
const rateTolerance = 1e-9

// GridService answers lookups against a persisted grid. It never snaps a
// key to a neighbouring grid point.
type GridService struct {
	indexer *grid.Indexer
	store   store.Store
	log     *logger.Log
}

func NewGridService(cfg grid.Config, s store.Store) (*GridService, error) {
	indexer, err := grid.NewIndexer(cfg)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("store is required: %w", ErrInvalidArgument)
	}
	return &GridService{indexer: indexer, store: s, log: logger.GetLogger()}, nil
}

// Indexer returns the id encoding the service reads with.
func (g *GridService) Indexer() *grid.Indexer { return g.indexer }

// PayoffTime returns the payoff time in years for one grid point.
// ErrOutOfDomain means the key is not on the grid; ErrNotFound means the
// point has no persisted result, which includes points that never pay off.
func (g *GridService) PayoffTime(ctx context.Context, balance int64, rate float64, payment int64) (float64, error) {
	scaled, err := encodeRate(rate)
	if err != nil {
		g.observe("payoff", err)
		return 0, err
	}
	id, err := g.indexer.ID(grid.Point{Balance: balance, Rate: scaled, Payment: payment})
	if err != nil {
		g.observe("payoff", err)
		return 0, err
	}
	rec, err := g.store.Get(ctx, id)
	if err != nil {
		g.observe("payoff", err)
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("balance %d rate %v payment %d: %w", balance, rate, payment, err)
		}
		return 0, err
	}
	g.observe("payoff", nil)
	return grid.DecodeYears(rec.Time), nil
}

// PaymentsVsTime returns every persisted payment and its payoff time for one
// balance and rate, in ascending payment order, with a single range read.
func (g *GridService) PaymentsVsTime(ctx context.Context, balance int64, rate float64) ([]models.PaymentTime, error) {
	scaled, err := encodeRate(rate)
	if err != nil {
		g.observe("payments", err)
		return nil, err
	}
	start, end, err := g.indexer.Block(balance, scaled)
	if err != nil {
		g.observe("payments", err)
		return nil, err
	}
	recs, err := g.store.Range(ctx, start, end)
	if err != nil {
		g.observe("payments", err)
		return nil, err
	}
	out := make([]models.PaymentTime, 0, len(recs))
	for _, rec := range recs {
		out = append(out, models.PaymentTime{Payment: rec.Payment, Years: grid.DecodeYears(rec.Time)})
	}
	g.observe("payments", nil)
	return out, nil
}

// Each calls fn for every persisted record in id order, reading blockSize
// ids at a time.
func (g *GridService) Each(ctx context.Context, blockSize int64, fn func(models.GridRecord) error) error {
	if blockSize <= 0 {
		blockSize = 10000
	}
	size := g.indexer.Size()
	for start := int64(0); start < size; start += blockSize {
		end := start + blockSize
		if end > size {
			end = size
		}
		recs, err := g.store.Range(ctx, start, end)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodeRate(rate float64) (int64, error) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, fmt.Errorf("rate %v: %w", rate, ErrOutOfDomain)
	}
	scaled := grid.EncodeRate(rate)
	if math.Abs(grid.DecodeRate(scaled)-rate) > rateTolerance {
		return 0, fmt.Errorf("rate %v is not a multiple of 1/%d: %w", rate, grid.Scale, ErrOutOfDomain)
	}
	return scaled, nil
}

func (g *GridService) observe(kind string, err error) {
	outcome := "hit"
	switch {
	case err == nil:
	case errors.Is(err, ErrOutOfDomain):
		outcome = "out_of_domain"
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
		g.log.WithComponent("lookup").WithError(err).WithFields(logger.Fields{"kind": kind}).Error("lookup failed")
	}
	logger.IncrementLookups()
	metrics.EmitMetric(g.log, "lookup", metrics.Lookup, 1, "counter", logger.Fields{"kind": kind, "outcome": outcome})
}
