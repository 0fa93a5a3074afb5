package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"payoffgrid/logger"
)

func resetSubscriptions() {
	subsMu.Lock()
	subs = make(map[Subscription]MetricHandler)
	nextSub = 0
	rebuild()
	subsMu.Unlock()
}

func collect(t *testing.T) (*[]Metric, func()) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []Metric
	)
	id := Subscribe(func(m Metric) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	if id == 0 {
		t.Fatalf("expected non-zero subscription")
	}
	return &got, func() { Unsubscribe(id) }
}

func TestSubscribeIDs(t *testing.T) {
	resetSubscriptions()
	a := Subscribe(func(Metric) {})
	b := Subscribe(func(Metric) {})
	if a == 0 || b == 0 || a == b {
		t.Fatalf("expected distinct non-zero ids, got %d %d", a, b)
	}
	if id := Subscribe(nil); id != 0 {
		t.Fatalf("nil handler got id %d", id)
	}
	Unsubscribe(0)
	Unsubscribe(a)
	Unsubscribe(a)
	if len(snapshot) != 1 {
		t.Fatalf("expected one handler left, got %d", len(snapshot))
	}
}

func TestEmitMetric(t *testing.T) {
	resetSubscriptions()
	got, stop := collect(t)

	fields := logger.Fields{"run_id": "r1"}
	EmitMetric(logger.Logger(), "sweeper", CellsComputed, 3, "", fields)
	fields["run_id"] = "mutated"
	EmitMetric(nil, "sweeper", SweepFinished, 2*time.Second, "", nil)
	EmitMetric(nil, "sweeper", "", 1, "", nil)

	stop()
	EmitMetric(nil, "sweeper", CellsComputed, 1, "", nil)

	if len(*got) != 2 {
		t.Fatalf("received %d metrics, want 2: %+v", len(*got), *got)
	}
	first, second := (*got)[0], (*got)[1]
	if first.Component != "sweeper" || first.Name != CellsComputed || first.Type != "counter" {
		t.Fatalf("unexpected first metric %+v", first)
	}
	if first.Fields["run_id"] != "r1" {
		t.Fatalf("fields not copied: %v", first.Fields)
	}
	if second.Type != "timer" {
		t.Fatalf("duration should default to timer, got %s", second.Type)
	}
}

func TestPrometheusCollectors(t *testing.T) {
	resetSubscriptions()
	once = sync.Once{}
	Init()

	before := testutil.ToFloat64(cellsComputed)
	EmitMetric(nil, "sweeper", CellsComputed, int64(24), "counter", nil)
	EmitMetric(nil, "sweeper", CellsSkipped, 8, "counter", nil)
	EmitMetric(nil, "service", Lookup, 1, "counter", logger.Fields{"kind": "payoff", "outcome": "hit"})
	EmitMetric(nil, "sweeper", SweepFinished, 2*time.Second, "timer", logger.Fields{"status": "done"})

	if got := testutil.ToFloat64(cellsComputed) - before; got != 24 {
		t.Fatalf("cells computed grew by %v, want 24", got)
	}
	if got := testutil.ToFloat64(lookups.WithLabelValues("payoff", "hit")); got != 1 {
		t.Fatalf("lookup counter = %v", got)
	}
	if got := testutil.ToFloat64(sweeps.WithLabelValues("done")); got != 1 {
		t.Fatalf("sweeps counter = %v", got)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "payoffgrid_cells_skipped_total 8") {
		t.Fatalf("exposition missing skipped counter:\n%s", body)
	}
}
