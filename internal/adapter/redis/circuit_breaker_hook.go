package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const breakerComponent = "redis"

// CircuitBreakerHook fails Redis commands fast while Redis is unhealthy. Locks, the
// event bus and the debouncer all go through it; there is no cached fallback because
// none of those operations can be answered without Redis.
type CircuitBreakerHook struct {
	cb circuitbreaker.CircuitBreaker[any]
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

// NewCircuitBreakerHook opens at a 60% failure rate over at least 5 requests in 10s,
// half-opens after 30s and closes on the first success.
func NewCircuitBreakerHook(m *metrics.BreakerMetrics) *CircuitBreakerHook {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", breakerComponent,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			m.StateChanges.WithLabelValues(breakerComponent, e.NewState.String()).Inc()
			m.State.WithLabelValues(breakerComponent).Set(stateToFloat(e.NewState))
		}).
		Build()

	return &CircuitBreakerHook{cb: cb}
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

func (h *CircuitBreakerHook) IsOpen() bool { return h.cb.IsOpen() }

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (conn net.Conn, err error) {
		err = h.guard(func() error {
			conn, err = next(ctx, network, addr)
			return err
		}, recordAny)
		return conn, err
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		return h.guard(func() error { return next(ctx, cmd) }, isInfraError)
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		return h.guard(func() error { return next(ctx, cmds) }, isInfraError)
	}
}

// guard runs call under a permit and feeds the outcome back to the breaker.
// Only errors for which counts returns true are recorded as failures.
func (h *CircuitBreakerHook) guard(call func() error, counts func(error) bool) error {
	if !h.cb.TryAcquirePermit() {
		return fmt.Errorf("redis circuit breaker open: %w", circuitbreaker.ErrOpen)
	}
	err := call()
	if counts(err) {
		h.cb.RecordError(err)
	} else {
		h.cb.RecordSuccess()
	}
	return err
}

func recordAny(err error) bool { return err != nil }

// isInfraError separates connectivity failures from command-level replies such as
// redis.Nil or BUSYGROUP, which say nothing about Redis health.
func isInfraError(err error) bool {
	if err == nil || errors.Is(err, goredis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var redisErr goredis.Error
	return !errors.As(err, &redisErr)
}
