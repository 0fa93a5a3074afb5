// Registers:
//
//	#payoffgrid_cells_computed_total
//	#payoffgrid_cells_skipped_total
//	#payoffgrid_batches_persisted_total
//	#payoffgrid_lookups_total{kind,outcome}
//	#payoffgrid_sweeps_total{status}
//	#payoffgrid_sweep_duration_seconds
//	#go_* and process_* system metrics
//
// on a dedicated registry served by Handler.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names understood by the Prometheus handler.
const (
	CellsComputed    = "cells_computed"
	CellsSkipped     = "cells_skipped"
	BatchesPersisted = "batches_persisted"
	Lookup           = "lookup"
	SweepFinished    = "sweep_finished"
)

var (
	once     sync.Once
	registry *prometheus.Registry

	cellsComputed prometheus.Counter
	cellsSkipped  prometheus.Counter
	batches       prometheus.Counter
	lookups       *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	sweepDuration prometheus.Histogram
)

// Init registers the collectors and subscribes them to emitted metrics.
// Safe to call more than once.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		cellsComputed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payoffgrid_cells_computed_total",
			Help: "Grid cells with a payoff time",
		})
		cellsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payoffgrid_cells_skipped_total",
			Help: "Grid cells that never reach zero",
		})
		batches = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payoffgrid_batches_persisted_total",
			Help: "Shard batches committed to the store",
		})
		lookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payoffgrid_lookups_total",
				Help: "Presentation lookups by kind and outcome",
			},
			[]string{"kind", "outcome"},
		)
		sweeps = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payoffgrid_sweeps_total",
				Help: "Finished recomputes by status",
			},
			[]string{"status"},
		)
		sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "payoffgrid_sweep_duration_seconds",
			Help:    "Wall time of a full recompute",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		})

		registry.MustRegister(cellsComputed, cellsSkipped, batches, lookups, sweeps, sweepDuration)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		Subscribe(observe)
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Registry exposes the collectors for tests.
func Registry() *prometheus.Registry {
	Init()
	return registry
}

func observe(m Metric) {
	switch m.Name {
	case CellsComputed:
		cellsComputed.Add(toFloat(m.Value))
	case CellsSkipped:
		cellsSkipped.Add(toFloat(m.Value))
	case BatchesPersisted:
		batches.Add(toFloat(m.Value))
	case Lookup:
		lookups.WithLabelValues(label(m.Fields, "kind"), label(m.Fields, "outcome")).Inc()
	case SweepFinished:
		sweeps.WithLabelValues(label(m.Fields, "status")).Inc()
		if d, ok := m.Value.(time.Duration); ok {
			sweepDuration.Observe(d.Seconds())
		}
	}
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func label(fields map[string]interface{}, key string) string {
	if s, ok := fields[key].(string); ok && s != "" {
		return s
	}
	return "unknown"
}
