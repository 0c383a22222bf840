package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pscheid92/livealert/internal/platform/version"
)

const namespace = "livealert"

// NewRegistry creates the service registry with runtime, process and build info collectors.
func NewRegistry() *prometheus.Registry {
	info := version.Get()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information of the running binary, always 1.",
			ConstLabels: prometheus.Labels{
				"version":    info.Version,
				"commit":     info.Commit,
				"go_version": info.GoVersion,
			},
		}, func() float64 { return 1 }),
	)
	return reg
}

// Handler serves reg. A collector failing to gather is logged and the rest is
// still served.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:      reg,
		ErrorHandling: promhttp.ContinueOnError,
		ErrorLog:      slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
	})
}
