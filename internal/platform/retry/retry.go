package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, use normal backoff
	After               // rate-limited, use longer backoff
)

// ErrExhausted wraps the last error once MaxAttempts is reached.
var ErrExhausted = errors.New("retries exhausted")

type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration // zero means uncapped
	RateLimitBackoff time.Duration
	OnRetry          func(attempt int, err error, backoff time.Duration)
	Clock            clockwork.Clock // defaults to the real clock
}

type Classify func(err error) Action
type Operation[T any] func() (T, error)
type VoidOperation func() error

// Do runs op until it succeeds, classify says Stop, MaxAttempts is reached or ctx ends.
// Stop errors come back as *PermanentError; exhaustion wraps ErrExhausted.
func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, errors.New("retry: MaxAttempts must be >= 1")
	}

	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	backoff := p.InitialBackoff
	for attempt := 1; ; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}

		action := classify(err)
		switch {
		case action == Stop:
			return zero, &PermanentError{Err: err}
		case attempt == p.MaxAttempts:
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, err)
		}

		wait := backoff
		if action == After {
			wait = p.RateLimitBackoff
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		if err := sleep(ctx, clock, wait); err != nil {
			return zero, err
		}
		backoff = p.grow(backoff)
	}
}

// grow doubles backoff, capped at MaxBackoff when set.
func (p Policy) grow(backoff time.Duration) time.Duration {
	backoff *= 2
	if p.MaxBackoff > 0 {
		backoff = min(backoff, p.MaxBackoff)
	}
	return backoff
}

func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
	}
}

func DoVoid(ctx context.Context, p Policy, classify Classify, op VoidOperation) error {
	_, err := Do(ctx, p, classify, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
