package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the worker-pool health gauges from spec.md §4.4.
type Metrics struct {
	QueueDepth    prometheus.Gauge
	BusyWorkers   prometheus.Gauge
	RejectedTotal prometheus.Counter
}

// NewMetrics registers the dispatch gauges on reg. pipeline.Build passes
// prometheus.DefaultRegisterer, the registry served at GET /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatbot",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Number of Turns currently waiting in the dispatch queue.",
		}),
		BusyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatbot",
			Subsystem: "dispatch",
			Name:      "busy_workers",
			Help:      "Number of workers currently processing a Turn.",
		}),
		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatbot",
			Subsystem: "dispatch",
			Name:      "rejected_total",
			Help:      "Number of Turns rejected due to queue backpressure.",
		}),
	}
	reg.MustRegister(m.QueueDepth, m.BusyWorkers, m.RejectedTotal)
	return m
}
