package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/pscheid92/livealert/internal/domain"
	"github.com/pscheid92/livealert/internal/platform/retry"
)

const releaseTimeout = 5 * time.Second

var errLockHeld = errors.New("lock held by another owner")

type LockConfig struct {
	TTL            time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	// PerChannel widens the key from (service, account, guild) to include the channel.
	PerChannel bool
}

// Locker runs critical sections under a DistributedMutex lease.
type Locker struct {
	mutex   domain.DistributedMutex
	cfg     LockConfig
	clock   clockwork.Clock
	metrics *metrics.NotifyMetrics
}

func NewLocker(mutex domain.DistributedMutex, cfg LockConfig, clock clockwork.Clock, m *metrics.NotifyMetrics) *Locker {
	return &Locker{mutex: mutex, cfg: cfg, clock: clock, metrics: m}
}

// KeyFor returns the lock key guarding a destination.
func (l *Locker) KeyFor(dest domain.Destination) string {
	key := fmt.Sprintf("lock:%s:%s:%s", dest.ServiceType, dest.AccountID, dest.GuildID)
	if l.cfg.PerChannel {
		key += ":" + dest.ChannelID
	}
	return key
}

// WithLock acquires key with a fresh owner token, runs body, and releases the lease on
// every exit path including panics. body receives a context bounded by the lease TTL.
// Acquisition is retried with backoff and fails with domain.ErrLockTimeout once the
// attempt budget is spent.
func (l *Locker) WithLock(ctx context.Context, key string, body func(ctx context.Context) error) error {
	owner := uuid.NewString()

	start := l.clock.Now()
	err := retry.DoVoid(ctx, l.policy(), classifyAcquire, func() error {
		ok, err := l.mutex.TryAcquire(ctx, key, owner, l.cfg.TTL)
		if err != nil {
			return err
		}
		if !ok {
			return errLockHeld
		}
		return nil
	})
	l.metrics.LockWait.Observe(l.clock.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			l.metrics.LockTimeouts.Inc()
			return fmt.Errorf("%w: %s: %w", domain.ErrLockTimeout, key, err)
		}
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	leaseCtx, cancel := context.WithTimeout(ctx, l.cfg.TTL)
	defer cancel()
	defer l.release(ctx, key, owner)

	return body(leaseCtx)
}

func (l *Locker) release(ctx context.Context, key, owner string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	released, err := l.mutex.Release(ctx, key, owner)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to release lock", "key", key, "error", err)
		return
	}
	if !released {
		l.metrics.LockLeaseLost.Inc()
		slog.WarnContext(ctx, "Lock lease expired before release", "key", key)
	}
}

func (l *Locker) policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    l.cfg.MaxAttempts,
		InitialBackoff: l.cfg.InitialBackoff,
		MaxBackoff:     l.cfg.TTL,
		Clock:          l.clock,
	}
}

// classifyAcquire retries only contention. Mutex backend failures stop at once so an
// outage is not reported as a lock timeout; the event is redelivered.
func classifyAcquire(err error) retry.Action {
	if errors.Is(err, errLockHeld) {
		return retry.Retry
	}
	return retry.Stop
}
