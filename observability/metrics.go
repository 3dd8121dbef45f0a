package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus instruments for Herald.
type Metrics struct {
	EventsPublished   prometheus.Counter
	EventsCompleted   prometheus.Counter
	EventsFailed      prometheus.Counter
	EventsReplayed    prometheus.Counter
	HandlerFailures   prometheus.Counter
	DeliveriesTotal   *prometheus.CounterVec
	DeliveriesSkipped prometheus.Counter
	DeliveryLatency   prometheus.Histogram
}

// NewMetrics creates Herald metric instruments and registers them with the
// given registerer. Pass prometheus.DefaultRegisterer for standalone usage.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herald_events_published_total",
			Help: "Events accepted by publish.",
		}),
		EventsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herald_events_completed_total",
			Help: "Events whose handlers all succeeded.",
		}),
		EventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herald_events_failed_total",
			Help: "Events with at least one failing handler.",
		}),
		EventsReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herald_events_replayed_total",
			Help: "Failed events resubmitted by the replay coordinator.",
		}),
		HandlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herald_handler_failures_total",
			Help: "Individual handler invocations that returned an error or panicked.",
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_deliveries_total",
			Help: "Webhook delivery attempts by outcome.",
		}, []string{"status"}),
		DeliveriesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herald_deliveries_skipped_total",
			Help: "Deliveries skipped because the endpoint exhausted its retry budget.",
		}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "herald_delivery_latency_seconds",
			Help:    "Webhook delivery round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsPublished,
			m.EventsCompleted,
			m.EventsFailed,
			m.EventsReplayed,
			m.HandlerFailures,
			m.DeliveriesTotal,
			m.DeliveriesSkipped,
			m.DeliveryLatency,
		)
	}

	return m
}

// RecordDelivery records a delivery attempt with the given outcome and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabelValues(status).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}
