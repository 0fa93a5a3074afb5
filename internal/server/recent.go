package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"payoffgrid/internal/metrics"
)

const recentLimit = 200

// recentMetrics keeps the latest metric events for /api/events/metrics.
type recentMetrics struct {
	mu    sync.RWMutex
	items []metricRecord
	limit int
	id    metrics.Subscription
}

type metricRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component"`
	Name      string                 `json:"name"`
	Value     interface{}            `json:"value"`
	Type      string                 `json:"type"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func newRecentMetrics(limit int) *recentMetrics {
	if limit <= 0 {
		limit = recentLimit
	}
	r := &recentMetrics{limit: limit}
	r.id = metrics.Subscribe(r.handle)
	return r
}

func (r *recentMetrics) handle(m metrics.Metric) {
	rec := metricRecord{
		Timestamp: m.Timestamp,
		Component: m.Component,
		Name:      m.Name,
		Value:     m.Value,
		Type:      m.Type,
	}
	if len(m.Fields) > 0 {
		rec.Fields = make(map[string]interface{}, len(m.Fields))
		for k, v := range m.Fields {
			rec.Fields[k] = v
		}
	}
	if d, ok := m.Value.(time.Duration); ok {
		rec.Value = d.Seconds()
	}

	r.mu.Lock()
	r.items = append(r.items, rec)
	if len(r.items) > r.limit {
		r.items = append([]metricRecord(nil), r.items[len(r.items)-r.limit:]...)
	}
	r.mu.Unlock()
}

func (r *recentMetrics) snapshot() []metricRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]metricRecord, len(r.items))
	copy(out, r.items)
	return out
}

func (r *recentMetrics) close() {
	metrics.Unsubscribe(r.id)
}

// recentLogs is a logrus hook holding the latest warnings and errors for
// /api/events/logs. logrus cannot remove hooks, so close only disables it.
type recentLogs struct {
	mu      sync.RWMutex
	items   []logRecord
	limit   int
	enabled atomic.Bool
}

type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func newRecentLogs(limit int) *recentLogs {
	if limit <= 0 {
		limit = recentLimit
	}
	r := &recentLogs{limit: limit}
	r.enabled.Store(true)
	return r
}

func (r *recentLogs) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (r *recentLogs) Fire(entry *logrus.Entry) error {
	if !r.enabled.Load() {
		return nil
	}

	rec := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	if component, ok := entry.Data["component"].(string); ok {
		rec.Component = component
	}
	for k, v := range entry.Data {
		if k == "component" {
			continue
		}
		if rec.Fields == nil {
			rec.Fields = make(map[string]interface{}, len(entry.Data))
		}
		switch val := v.(type) {
		case error:
			rec.Fields[k] = val.Error()
		case fmt.Stringer:
			rec.Fields[k] = val.String()
		default:
			rec.Fields[k] = val
		}
	}

	r.mu.Lock()
	r.items = append(r.items, rec)
	if len(r.items) > r.limit {
		r.items = append([]logRecord(nil), r.items[len(r.items)-r.limit:]...)
	}
	r.mu.Unlock()
	return nil
}

func (r *recentLogs) snapshot() []logRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]logRecord, len(r.items))
	copy(out, r.items)
	return out
}

func (r *recentLogs) close() {
	r.enabled.Store(false)
}
