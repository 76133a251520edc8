package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for a Dispatcher. Registration is
// optional: a Dispatcher built with no Metrics runs unmetered.
type Metrics struct {
	QueueSize        prometheus.Gauge
	EventsEnqueued   prometheus.Counter
	EventsDropped    prometheus.Counter
	EventsDispatched prometheus.Counter
	HandlerErrors    *prometheus.CounterVec
}

// NewMetrics creates and registers dispatcher metrics under the given
// namespace/subsystem.
func NewMetrics(namespace, subsystem string) *Metrics {
	if namespace == "" {
		namespace = "indexer"
	}
	if subsystem == "" {
		subsystem = "dispatcher"
	}
	return &Metrics{
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_size",
			Help:      "Current number of events waiting to be dispatched",
		}),
		EventsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_enqueued_total",
			Help:      "Total number of events accepted onto the queue",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_dropped_total",
			Help:      "Total number of events evicted because the queue stayed full past the enqueue timeout",
		}),
		EventsDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_dispatched_total",
			Help:      "Total number of events drained and handed to handlers",
		}),
		HandlerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handler_errors_total",
			Help:      "Total number of handler errors, by handler name",
		}, []string{"handler"}),
	}
}
