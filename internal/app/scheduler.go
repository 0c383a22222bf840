package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/livealert/internal/domain"
	"github.com/pscheid92/livealert/internal/platform/correlation"
	"github.com/robfig/cron/v3"
)

// CatchupLeaseTTL is the leader lease lifetime. A sweep never runs longer than the
// lease, so two instances cannot sweep at once.
const CatchupLeaseTTL = 10 * time.Minute

const catchupRunTimeout = CatchupLeaseTTL

// LeaderLease elects one instance among all workers.
type LeaderLease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// CatchupScheduler runs the reconciler on a cron schedule on the elected leader only.
type CatchupScheduler struct {
	cron    *cron.Cron
	leader  LeaderLease
	catchup catchupHandler
	service domain.ServiceType
}

func NewCatchupScheduler(spec string, leader LeaderLease, catchup catchupHandler, service domain.ServiceType) (*CatchupScheduler, error) {
	s := &CatchupScheduler{
		cron:    cron.New(),
		leader:  leader,
		catchup: catchup,
		service: service,
	}
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid catch-up schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *CatchupScheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *CatchupScheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce performs one sweep if this instance wins the leader lease.
func (s *CatchupScheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), catchupRunTimeout)
	defer cancel()
	ctx = correlation.WithID(ctx, correlation.NewID())

	leader, err := s.leader.TryAcquire(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to acquire catch-up leadership", "error", err)
		return
	}
	if !leader {
		slog.DebugContext(ctx, "Another instance runs the catch-up sweep")
		return
	}
	defer func() {
		if err := s.leader.Release(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "Failed to release catch-up leadership", "error", err)
		}
	}()

	if err := s.catchup.Reconcile(ctx, s.service, nil); err != nil {
		slog.WarnContext(ctx, "Scheduled catch-up finished with failures", "error", err)
	}
}
