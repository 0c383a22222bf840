package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
)

// MetricsTracer records query durations and errors, labelled by a coarse query name.
type MetricsTracer struct {
	metrics *metrics.DBMetrics
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

func NewMetricsTracer(m *metrics.DBMetrics) *MetricsTracer {
	return &MetricsTracer{metrics: m}
}

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	queryName string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: time.Now(),
		queryName: queryName(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}

	t.metrics.QueryDuration.WithLabelValues(qctx.queryName).Observe(time.Since(qctx.startTime).Seconds())
	if data.Err != nil {
		t.metrics.ErrorsTotal.WithLabelValues(qctx.queryName).Inc()
	}
}

// queryName reads the "-- name: X" tag the repositories put on their statements and
// falls back to the leading SQL verb.
func queryName(sql string) string {
	sql = strings.TrimSpace(sql)
	if rest, ok := strings.CutPrefix(sql, "-- name:"); ok {
		if name, _, found := strings.Cut(strings.TrimSpace(rest), "\n"); found {
			return strings.TrimSpace(name)
		}
	}

	verb, _, _ := strings.Cut(sql, " ")
	if verb == "" {
		return "unknown"
	}
	if len(verb) > 20 {
		verb = verb[:20]
	}
	return strings.ToUpper(verb)
}
