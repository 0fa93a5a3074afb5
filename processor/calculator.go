package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"payoffgrid/finance"
	"payoffgrid/grid"
	"payoffgrid/logger"
	"payoffgrid/models"
	"payoffgrid/store"
)

// ErrAlreadyRunning is returned by Run while a sweep is in progress on the
// same calculator.
var ErrAlreadyRunning = errors.New("calculator already running")

// Sink receives shards in ascending id order. A shard handed to a sink is
// never re-sent; an error aborts the sweep.
type Sink func(ctx context.Context, batch models.GridBatch) error

// ProgressFunc is called after each shard reaches the sink.
type ProgressFunc func(batch models.GridBatch, done, total int64)

// StoreSink persists each shard with one PutBatch call.
func StoreSink(s store.Store) Sink {
	return func(ctx context.Context, batch models.GridBatch) error {
		if err := s.PutBatch(ctx, batch.Records); err != nil {
			return fmt.Errorf("persist shard %d: %w", batch.Shard, err)
		}
		logger.IncrementRowsWritten(len(batch.Records))
		return nil
	}
}

// Calculator sweeps the full cross product of a grid. Each balance value is
// one shard; shards are computed on a worker pool with at most window of
// them waiting for the sink.
type Calculator struct {
	indexer *grid.Indexer
	solve   finance.Solver
	workers int
	window  int
	log     *logger.Log

	mu      sync.Mutex
	running bool
}

// NewCalculator validates cfg up front so a malformed discretization fails
// before any cell is computed. A nil solve uses finance.TimeUntilZeroBalance.
func NewCalculator(cfg grid.Config, solve finance.Solver, workers, window int) (*Calculator, error) {
	indexer, err := grid.NewIndexer(cfg)
	if err != nil {
		return nil, fmt.Errorf("grid config: %w", err)
	}
	if solve == nil {
		solve = finance.TimeUntilZeroBalance
	}
	if workers < 1 {
		workers = 1
	}
	if window < 1 {
		window = 1
	}
	return &Calculator{
		indexer: indexer,
		solve:   solve,
		workers: workers,
		window:  window,
		log:     logger.GetLogger(),
	}, nil
}

// Indexer returns the id encoding the calculator emits.
func (c *Calculator) Indexer() *grid.Indexer { return c.indexer }

// Total is the number of cells in one sweep.
func (c *Calculator) Total() int64 { return c.indexer.Size() }

type shardJob struct {
	shard  int
	result chan shardResult
}

type shardResult struct {
	batch models.GridBatch
	err   error
}

// Run computes every cell and hands shard batches to sink in balance order.
// runID tags the batches; an empty runID gets a fresh uuid. Cancelling ctx
// stops dispatch. Shards already accepted by sink stay valid.
func (c *Calculator) Run(ctx context.Context, runID string, sink Sink, progress ProgressFunc) (models.SweepStats, error) {
	if sink == nil {
		return models.SweepStats{}, fmt.Errorf("sink is required: %w", grid.ErrInvalidArgument)
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return models.SweepStats{}, ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	if runID == "" {
		runID = uuid.NewString()
	}
	nb, nr, np := c.indexer.Dims()
	stats := models.SweepStats{RunID: runID}
	total := c.indexer.Size()
	start := time.Now()

	log := c.log.WithComponent("calculator").WithFields(logger.Fields{
		"run_id":   runID,
		"balances": nb,
		"rates":    nr,
		"payments": np,
		"workers":  c.workers,
	})
	log.Info("starting sweep")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan shardJob)
	order := make(chan chan shardResult, c.window)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go c.worker(ctx, runID, jobs, &wg)
	}

	go c.dispatch(ctx, nb, jobs, order)

	var runErr error
	var done int64
	for pending := range order {
		res := <-pending
		if runErr != nil {
			continue
		}
		if res.err == nil {
			res.err = ctx.Err()
		}
		if res.err != nil {
			runErr = res.err
			cancel()
			continue
		}
		if err := sink(ctx, res.batch); err != nil {
			runErr = err
			cancel()
			continue
		}
		done += int64(res.batch.Computed + res.batch.Skipped)
		stats.Cells = done
		stats.Persisted += int64(len(res.batch.Records))
		stats.Skipped += int64(res.batch.Skipped)
		stats.Batches++
		logger.IncrementCells(res.batch.Computed + res.batch.Skipped)
		logger.LogDataFlowEntry(log, "calculator", "sink", res.batch.RecordCount, "grid_batch")
		if progress != nil {
			progress(res.batch, done, total)
		}
	}
	wg.Wait()

	stats.Duration = time.Since(start)
	fields := logger.Fields{
		"cells":     stats.Cells,
		"persisted": stats.Persisted,
		"skipped":   stats.Skipped,
		"batches":   stats.Batches,
	}
	if runErr != nil {
		log.WithFields(fields).WithError(runErr).Warn("sweep stopped")
		return stats, runErr
	}
	log.WithFields(fields).Info("sweep finished")
	logger.LogPerformanceEntry(log, "calculator", "sweep", stats.Duration, logger.Fields{"run_id": runID})
	c.log.LogMetric("calculator", "SweepDuration", stats.Duration, "gauge", logger.Fields{"run_id": runID})
	c.log.LogMetric("calculator", "CellsPersisted", stats.Persisted, "counter", nil)
	return stats, nil
}

// dispatch queues one result slot per shard in order, then hands the shard
// to a worker. The order channel's capacity bounds shards in flight.
func (c *Calculator) dispatch(ctx context.Context, nb int, jobs chan<- shardJob, order chan<- chan shardResult) {
	defer close(order)
	defer close(jobs)
	for ib := 0; ib < nb; ib++ {
		slot := make(chan shardResult, 1)
		select {
		case order <- slot:
		case <-ctx.Done():
			return
		}
		select {
		case jobs <- shardJob{shard: ib, result: slot}:
		case <-ctx.Done():
			slot <- shardResult{err: ctx.Err()}
			return
		}
	}
}

func (c *Calculator) worker(ctx context.Context, runID string, jobs <-chan shardJob, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		batch, err := c.computeShard(ctx, runID, job.shard)
		job.result <- shardResult{batch: batch, err: err}
	}
}

// computeShard evaluates every rate and payment for the balance at ib.
// Cells that never reach zero are counted but not emitted.
func (c *Calculator) computeShard(ctx context.Context, runID string, ib int) (models.GridBatch, error) {
	cfg := c.indexer.Config()
	_, nr, np := c.indexer.Dims()
	first, _ := c.indexer.Row(ib)
	balance := cfg.Balance.Value(ib)

	batch := models.GridBatch{
		RunID:   runID,
		Shard:   ib,
		Records: make([]models.GridRecord, 0, nr*np),
	}
	id := first
	for ir := 0; ir < nr; ir++ {
		if err := ctx.Err(); err != nil {
			return models.GridBatch{}, err
		}
		rate := cfg.Rate.Value(ir)
		annual := grid.DecodeRate(rate)
		for ip := 0; ip < np; ip++ {
			payment := cfg.Payment.Value(ip)
			years, ok := c.solve(annual, float64(balance), float64(payment))
			if !ok {
				batch.Skipped++
			} else {
				batch.Records = append(batch.Records, models.GridRecord{
					ID:      id,
					Balance: balance,
					Rate:    rate,
					Payment: payment,
					Time:    grid.EncodeYears(years),
				})
				batch.Computed++
			}
			id++
		}
	}
	batch.RecordCount = len(batch.Records)
	return batch, nil
}
