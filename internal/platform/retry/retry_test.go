package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livealert/internal/platform/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("503 service unavailable")
	errRejected  = errors.New("401 unauthorized")
	errThrottled = errors.New("429 too many requests")
)

func classify(err error) retry.Action {
	switch {
	case errors.Is(err, errRejected):
		return retry.Stop
	case errors.Is(err, errThrottled):
		return retry.After
	default:
		return retry.Retry
	}
}

// failing returns an operation that fails with errs in order, then succeeds.
func failing(calls *int, errs ...error) retry.VoidOperation {
	return func() error {
		*calls++
		if *calls <= len(errs) {
			return errs[*calls-1]
		}
		return nil
	}
}

// runOnFakeClock runs op under p and fires every backoff timer as soon as it is
// armed. It returns the backoffs the policy asked for.
func runOnFakeClock(t *testing.T, p retry.Policy, op retry.VoidOperation) ([]time.Duration, error) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	p.Clock = clock

	var waits []time.Duration
	p.OnRetry = func(_ int, _ error, backoff time.Duration) { waits = append(waits, backoff) }

	done := make(chan error, 1)
	go func() { done <- retry.DoVoid(context.Background(), p, classify, op) }()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			return waits, err
		case <-deadline:
			t.Fatal("retry did not finish")
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		if clock.BlockUntilContext(ctx, 1) == nil {
			clock.Advance(time.Hour)
		}
		cancel()
	}
}

func TestDo_ReturnsValueAfterTransientFailures(t *testing.T) {
	calls := 0
	v, err := retry.Do(context.Background(), retry.Policy{MaxAttempts: 3, InitialBackoff: time.Microsecond}, classify,
		func() (string, error) {
			calls++
			if calls == 1 {
				return "", errTransient
			}
			return "msg-1", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "msg-1", v)
	assert.Equal(t, 2, calls)
}

func TestDo_BackoffDoublesUpToCap(t *testing.T) {
	calls := 0
	p := retry.Policy{MaxAttempts: 6, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 500 * time.Millisecond}

	waits, err := runOnFakeClock(t, p, failing(&calls, errTransient, errTransient, errTransient, errTransient, errTransient))

	require.NoError(t, err)
	assert.Equal(t, 6, calls)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}, waits)
}

func TestDo_RateLimitUsesLongBackoff(t *testing.T) {
	calls := 0
	p := retry.Policy{MaxAttempts: 4, InitialBackoff: time.Second, RateLimitBackoff: 30 * time.Second}

	waits, err := runOnFakeClock(t, p, failing(&calls, errTransient, errThrottled, errTransient))

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 30 * time.Second, 4 * time.Second}, waits)
}

func TestDo_StopIsPermanent(t *testing.T) {
	calls := 0
	_, err := runOnFakeClock(t, retry.Policy{MaxAttempts: 5, InitialBackoff: time.Second}, failing(&calls, errRejected))

	var permanent *retry.PermanentError
	require.ErrorAs(t, err, &permanent)
	assert.ErrorIs(t, err, errRejected)
	assert.NotErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustedWrapsLastError(t *testing.T) {
	calls := 0
	_, err := runOnFakeClock(t, retry.Policy{MaxAttempts: 3, InitialBackoff: time.Second},
		failing(&calls, errTransient, errTransient, errThrottled))

	require.ErrorIs(t, err, retry.ErrExhausted)
	assert.ErrorIs(t, err, errThrottled)
	assert.Equal(t, 3, calls)
}

func TestDo_CancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxAttempts: 3, InitialBackoff: time.Hour, Clock: clockwork.NewFakeClock()}
	p.OnRetry = func(int, error, time.Duration) { cancel() }

	err := retry.DoVoid(ctx, p, classify, func() error { return errTransient })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_RejectsZeroAttempts(t *testing.T) {
	err := retry.DoVoid(context.Background(), retry.Policy{}, classify, func() error { return nil })
	assert.Error(t, err)
}
