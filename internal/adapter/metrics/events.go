package metrics

import "github.com/prometheus/client_golang/prometheus"

// EventMetrics holds Prometheus metrics for the event bus and its consumers.
type EventMetrics struct {
	Published       *prometheus.CounterVec
	Handled         *prometheus.CounterVec
	HandleDuration  *prometheus.HistogramVec
	Reclaimed       prometheus.Counter
	DeadLettered    *prometheus.CounterVec
	WebhookDebounce prometheus.Counter
}

// NewEventMetrics creates and registers event bus metrics on the given registry.
func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	m := &EventMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events appended to the stream, by type.",
		}, []string{"type"}),
		Handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handled_total",
			Help:      "Events handled by workers, by type and result.",
		}, []string{"type", "result"}),
		HandleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handle_duration_seconds",
			Help:      "Time spent handling one event.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"type"}),
		Reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "reclaimed_total",
			Help:      "Pending entries claimed from idle consumers.",
		}),
		DeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Entries acknowledged without successful handling, by reason.",
		}, []string{"reason"}),
		WebhookDebounce: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "webhook_debounced_total",
			Help:      "Online notifications skipped because the session was already queued.",
		}),
	}

	reg.MustRegister(m.Published, m.Handled, m.HandleDuration, m.Reclaimed, m.DeadLettered, m.WebhookDebounce)
	return m
}
