package metrics

import (
	"sync"
	"time"

	"payoffgrid/logger"
)

// Metric is one event emitted by the sweep, the lookups or the exporter.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// MetricHandler receives every emitted Metric on the emitting goroutine.
type MetricHandler func(Metric)

// Subscription identifies a handler passed to Subscribe. Zero is never issued.
type Subscription uint64

var (
	subsMu   sync.RWMutex
	subs     = make(map[Subscription]MetricHandler)
	nextSub  Subscription
	snapshot []MetricHandler
)

// Subscribe adds h to the set of handlers and returns its subscription.
// A nil handler is ignored and yields zero.
func Subscribe(h MetricHandler) Subscription {
	if h == nil {
		return 0
	}
	subsMu.Lock()
	defer subsMu.Unlock()
	nextSub++
	subs[nextSub] = h
	rebuild()
	return nextSub
}

// Unsubscribe removes a handler. Unknown or zero subscriptions are ignored.
func Unsubscribe(id Subscription) {
	subsMu.Lock()
	defer subsMu.Unlock()
	if _, ok := subs[id]; !ok {
		return
	}
	delete(subs, id)
	rebuild()
}

// rebuild refreshes the handler slice read by EmitMetric. Callers hold subsMu.
func rebuild() {
	handlers := make([]MetricHandler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	snapshot = handlers
}

// EmitMetric logs name at debug level and hands it to every subscriber.
// Durations default to type "timer", everything else to "counter". Fields
// are copied, so callers may reuse the map. Empty names are dropped.
func EmitMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) {
	if name == "" {
		return
	}
	if metricType == "" {
		metricType = "counter"
		if _, ok := value.(time.Duration); ok {
			metricType = "timer"
		}
	}
	if log == nil {
		log = logger.GetLogger()
	}

	copied := make(logger.Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}

	log.WithComponent(component).WithFields(copied).WithFields(logger.Fields{
		"metric":      name,
		"metric_type": metricType,
		"value":       value,
	}).Debug("metric")

	subsMu.RLock()
	handlers := snapshot
	subsMu.RUnlock()
	if len(handlers) == 0 {
		return
	}

	m := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    copied,
	}
	for _, h := range handlers {
		h(m)
	}
}
