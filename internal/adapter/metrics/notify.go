package metrics

import "github.com/prometheus/client_golang/prometheus"

// NotifyMetrics holds Prometheus metrics for notification dispatch.
type NotifyMetrics struct {
	Decisions            *prometheus.CounterVec
	Outcomes             *prometheus.CounterVec
	SubscriptionsRemoved *prometheus.CounterVec
	StaleReaped          *prometheus.CounterVec
	ReconcileActions     *prometheus.CounterVec
	LockWait             prometheus.Histogram
	LockTimeouts         prometheus.Counter
	LockLeaseLost        prometheus.Counter
}

// NewNotifyMetrics creates and registers notification metrics on the given registry.
func NewNotifyMetrics(reg prometheus.Registerer) *NotifyMetrics {
	m := &NotifyMetrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "decisions_total",
			Help:      "Cooldown decisions taken per destination, by action.",
		}, []string{"action"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "outcomes_total",
			Help:      "Persisted notification outcomes, by kind.",
		}, []string{"outcome"}),
		SubscriptionsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "subscriptions_removed_total",
			Help:      "Subscriptions removed after a terminal platform error, by reason.",
		}, []string{"reason"}),
		StaleReaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "stale_reaped_total",
			Help:      "Stale alert messages processed by the reaper, by result.",
		}, []string{"result"}),
		ReconcileActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "actions_total",
			Help:      "Startup catch-up actions, by action.",
		}, []string{"action"}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent acquiring destination locks.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		LockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "timeouts_total",
			Help:      "Lock acquisitions that gave up after the bounded retry budget.",
		}),
		LockLeaseLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "lease_lost_total",
			Help:      "Releases that found the lease already expired or taken by another owner.",
		}),
	}

	reg.MustRegister(m.Decisions, m.Outcomes, m.SubscriptionsRemoved, m.StaleReaped,
		m.ReconcileActions, m.LockWait, m.LockTimeouts, m.LockLeaseLost)
	return m
}
