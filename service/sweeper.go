package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"payoffgrid/internal/metrics"
	"payoffgrid/logger"
	"payoffgrid/models"
	"payoffgrid/processor"
	"payoffgrid/store"
	"payoffgrid/writer"
)

// subscriberBuffer is the per-subscriber progress backlog. Updates beyond it
// are dropped for that subscriber; the next one carries the latest state.
const subscriberBuffer = 16

// Exporter writes a finished grid somewhere durable.
type Exporter interface {
	Export(ctx context.Context, runID string) (writer.ExportResult, error)
}

// Sweeper runs recomputes one at a time in the background: clear the store,
// sweep the grid into it, then optionally export.
type Sweeper struct {
	store    store.Store
	calc     *processor.Calculator
	exporter Exporter
	log      *logger.Log

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	progress models.Progress
	lastErr  error

	subsMu  sync.Mutex
	subs    map[int]chan models.Progress
	nextSub int
}

// NewSweeper returns an idle sweeper. exporter may be nil.
func NewSweeper(s store.Store, calc *processor.Calculator, exporter Exporter) *Sweeper {
	return &Sweeper{
		store:    s,
		calc:     calc,
		exporter: exporter,
		log:      logger.GetLogger(),
		progress: models.Progress{Phase: models.PhaseIdle},
		subs:     make(map[int]chan models.Progress),
	}
}

// Start launches a recompute detached from any request and returns its run
// id. ErrSweepRunning is returned while another recompute is active.
func (s *Sweeper) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return "", ErrSweepRunning
	}
	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.lastErr = nil
	now := time.Now()
	s.progress = models.Progress{RunID: runID, Phase: models.PhaseClearing, StartedAt: now, UpdatedAt: now}
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		_, _ = s.run(runCtx, runID)
	}()
	return runID, nil
}

// Cancel stops the running recompute. Records already committed stay valid.
func (s *Sweeper) Cancel() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return ErrNoSweep
	}
	cancel()
	return nil
}

// Wait blocks until the current recompute (if any) ends and returns its
// error.
func (s *Sweeper) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Running reports whether a recompute is active.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Status returns the latest progress.
func (s *Sweeper) Status() models.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Subscribe returns a channel of progress updates, primed with the current
// state, and a function that ends the subscription.
func (s *Sweeper) Subscribe() (<-chan models.Progress, func()) {
	ch := make(chan models.Progress, subscriberBuffer)
	ch <- s.Status()

	s.subsMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
			close(ch)
		})
	}
}

// RecomputeAll runs a recompute in the caller's goroutine.
func (s *Sweeper) RecomputeAll(ctx context.Context) (models.SweepStats, error) {
	runID, err := s.Start(ctx)
	if err != nil {
		return models.SweepStats{}, err
	}
	if err := s.Wait(context.Background()); err != nil {
		return models.SweepStats{RunID: runID}, err
	}
	p := s.Status()
	return models.SweepStats{
		RunID:     runID,
		Cells:     p.Done,
		Persisted: p.Persisted,
		Skipped:   p.Skipped,
		Duration:  p.UpdatedAt.Sub(p.StartedAt),
	}, nil
}

func (s *Sweeper) run(ctx context.Context, runID string) (models.SweepStats, error) {
	start := time.Now()
	log := s.log.WithComponent("sweeper").WithFields(logger.Fields{"run_id": runID})
	log.Info("recompute started")

	stats, err := s.sweep(ctx, runID, log)
	status := models.PhaseDone
	switch {
	case errors.Is(err, context.Canceled):
		status = models.PhaseCancelled
		log.WithError(err).Warn("recompute cancelled")
	case err != nil:
		status = models.PhaseFailed
		log.WithError(err).Error("recompute failed")
	default:
		log.WithFields(logger.Fields{
			"persisted": stats.Persisted,
			"skipped":   stats.Skipped,
			"duration":  time.Since(start).String(),
		}).Info("recompute finished")
	}

	s.finish(status, err)
	metrics.EmitMetric(s.log, "sweeper", metrics.SweepFinished, time.Since(start), "timer", logger.Fields{"status": string(status), "run_id": runID})
	return stats, err
}

func (s *Sweeper) sweep(ctx context.Context, runID string, log *logger.Entry) (models.SweepStats, error) {
	if err := s.store.Clear(ctx, func(deleted, total int64) {
		s.update(func(p *models.Progress) {
			p.Phase = models.PhaseClearing
			p.Done, p.Total = deleted, total
		})
	}); err != nil {
		return models.SweepStats{}, fmt.Errorf("clear grid: %w", err)
	}
	log.Debug("grid cleared")

	total := s.calc.Total()
	s.update(func(p *models.Progress) {
		p.Phase = models.PhaseComputing
		p.Done, p.Total = 0, total
	})

	stats, err := s.calc.Run(ctx, runID, processor.StoreSink(s.store), func(b models.GridBatch, done, total int64) {
		metrics.EmitMetric(s.log, "sweeper", metrics.CellsComputed, b.Computed, "counter", nil)
		metrics.EmitMetric(s.log, "sweeper", metrics.CellsSkipped, b.Skipped, "counter", nil)
		metrics.EmitMetric(s.log, "sweeper", metrics.BatchesPersisted, 1, "counter", nil)
		s.update(func(p *models.Progress) {
			p.Done, p.Total = done, total
			p.Persisted += int64(len(b.Records))
			p.Skipped += int64(b.Skipped)
		})
	})
	if err != nil {
		return stats, err
	}

	if s.exporter != nil {
		s.update(func(p *models.Progress) { p.Phase = models.PhaseExporting })
		if _, err := s.exporter.Export(ctx, runID); err != nil {
			return stats, fmt.Errorf("export grid: %w", err)
		}
	}
	return stats, nil
}

// update applies fn to the progress and fans the result out to subscribers.
func (s *Sweeper) update(fn func(*models.Progress)) {
	s.mu.Lock()
	fn(&s.progress)
	s.progress.UpdatedAt = time.Now()
	snapshot := s.progress
	s.mu.Unlock()
	s.broadcast(snapshot)
}

// finish records the terminal phase and releases the one-at-a-time slot in
// the same critical section, so a subscriber seeing the terminal phase can
// start the next recompute straight away.
func (s *Sweeper) finish(phase models.SweepPhase, err error) {
	s.mu.Lock()
	s.progress.Phase = phase
	if err != nil {
		s.progress.Error = err.Error()
	}
	s.progress.UpdatedAt = time.Now()
	snapshot := s.progress
	s.lastErr = err
	s.cancel = nil
	s.mu.Unlock()
	s.broadcast(snapshot)
}

func (s *Sweeper) broadcast(snapshot models.Progress) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}
