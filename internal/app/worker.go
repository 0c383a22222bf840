package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/pscheid92/livealert/internal/domain"
	"github.com/pscheid92/livealert/internal/platform/correlation"
	"github.com/pscheid92/livealert/internal/platform/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type onlineHandler interface {
	OnStreamOnline(ctx context.Context, session domain.StreamSession) error
}

type offlineHandler interface {
	MarkOffline(ctx context.Context, service domain.ServiceType, accountID string) error
}

type catchupHandler interface {
	Reconcile(ctx context.Context, service domain.ServiceType, accounts []string) error
}

// Worker consumes bus events with a fixed number of concurrent consumers.
type Worker struct {
	source      domain.EventConsumer
	online      onlineHandler
	offline     offlineHandler
	catchup     catchupHandler
	concurrency int
	instance    string
	metrics     *metrics.EventMetrics
}

func NewWorker(source domain.EventConsumer, online onlineHandler, offline offlineHandler, catchup catchupHandler, concurrency int, m *metrics.EventMetrics) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		source:      source,
		online:      online,
		offline:     offline,
		catchup:     catchup,
		concurrency: concurrency,
		instance:    uuid.NewString()[:8],
		metrics:     m,
	}
}

// Run blocks until ctx is cancelled and every consumer has returned.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range w.concurrency {
		consumer := fmt.Sprintf("%s-%d", w.instance, i)
		wg.Go(func() {
			slog.Info("Event consumer started", "consumer", consumer)
			if err := w.source.Consume(ctx, consumer, w.Handle); err != nil && ctx.Err() == nil {
				slog.Error("Event consumer stopped", "consumer", consumer, "error", err)
			}
		})
	}
	wg.Wait()
	slog.Info("Event worker stopped")
}

// Handle routes one event to its use case.
func (w *Worker) Handle(ctx context.Context, ev domain.Event) (err error) {
	ctx = correlation.Continue(ctx, ev.CorrelationID)
	ctx, span := telemetry.StartSpan(ctx, "worker.handle", attribute.String("event_type", string(ev.Type)))
	start := time.Now()

	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		w.metrics.Handled.WithLabelValues(string(ev.Type), result).Inc()
		w.metrics.HandleDuration.WithLabelValues(string(ev.Type)).Observe(time.Since(start).Seconds())
		telemetry.End(span, err)
	}()

	switch ev.Type {
	case domain.EventStreamOnline:
		if ev.Session == nil {
			return fmt.Errorf("%w: online event without session", domain.ErrMalformedEvent)
		}
		return w.online.OnStreamOnline(ctx, *ev.Session)
	case domain.EventStreamOffline:
		if ev.Session == nil {
			return fmt.Errorf("%w: offline event without session", domain.ErrMalformedEvent)
		}
		return w.offline.MarkOffline(ctx, ev.Session.ServiceType, ev.Session.AccountID)
	case domain.EventStartupCatchup:
		service := ev.Service
		if service == "" {
			service = domain.ServiceTwitch
		}
		return w.catchup.Reconcile(ctx, service, ev.Accounts)
	default:
		return fmt.Errorf("%w: unknown event type %q", domain.ErrMalformedEvent, ev.Type)
	}
}
