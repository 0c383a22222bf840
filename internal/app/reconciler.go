package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/pscheid92/livealert/internal/domain"
	"github.com/pscheid92/livealert/internal/platform/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type ReconcilerConfig struct {
	Lookback     time.Duration // how far back records are inspected
	OfflineAfter time.Duration // age after which a live alert is assumed ended
}

// StartupReconciler replays missed offline transitions from notification history.
// Offline events are not durable, so this sweep runs on boot and on schedule.
type StartupReconciler struct {
	subs          domain.SubscriptionRepository
	notifications domain.NotificationRepository
	chat          domain.ChatPlatform
	locker        *Locker
	offline       *OfflineMarker
	remover       subscriptionRemover
	cfg           ReconcilerConfig
	clock         clockwork.Clock
	metrics       *metrics.NotifyMetrics
}

func NewStartupReconciler(
	subs domain.SubscriptionRepository,
	notifications domain.NotificationRepository,
	chat domain.ChatPlatform,
	locker *Locker,
	offline *OfflineMarker,
	cfg ReconcilerConfig,
	clock clockwork.Clock,
	m *metrics.NotifyMetrics,
) *StartupReconciler {
	return &StartupReconciler{
		subs:          subs,
		notifications: notifications,
		chat:          chat,
		locker:        locker,
		offline:       offline,
		remover:       subscriptionRemover{subs: subs, metrics: m},
		cfg:           cfg,
		clock:         clock,
		metrics:       m,
	}
}

// Reconcile sweeps accounts; an empty list means every account with a subscription.
// Failures are logged per subscription and the sweep continues.
func (r *StartupReconciler) Reconcile(ctx context.Context, service domain.ServiceType, accounts []string) error {
	ctx, span := telemetry.StartSpan(ctx, "reconciler.reconcile", attribute.Int("accounts", len(accounts)))

	if len(accounts) == 0 {
		all, err := r.subs.ListAccounts(ctx, service)
		if err != nil {
			err = fmt.Errorf("failed to list monitored accounts: %w", err)
			telemetry.End(span, err)
			return err
		}
		accounts = all
	}

	slog.InfoContext(ctx, "Startup catch-up started", "service", service, "accounts", len(accounts))

	var errs []error
	for _, account := range accounts {
		subs, err := r.subs.FindByAccount(ctx, service, account)
		if err != nil {
			slog.WarnContext(ctx, "Failed to load subscriptions during catch-up", "account_id", account, "error", err)
			errs = append(errs, err)
			continue
		}

		for _, sub := range subs {
			if !r.offline.eligible(sub.GuildID) {
				r.metrics.ReconcileActions.WithLabelValues("ineligible").Inc()
				continue
			}
			err := r.locker.WithLock(ctx, r.locker.KeyFor(sub.Destination()), func(ctx context.Context) error {
				return r.reconcileSubscription(ctx, sub)
			})
			if err != nil {
				slog.WarnContext(ctx, "Catch-up failed for subscription",
					"subscription_id", sub.ID,
					"account_id", sub.AccountID,
					"guild_id", sub.GuildID,
					"error", err)
				errs = append(errs, err)
			}
		}
	}

	err := errors.Join(errs...)
	slog.InfoContext(ctx, "Startup catch-up finished", "service", service, "failures", len(errs))
	telemetry.End(span, err)
	return err
}

func (r *StartupReconciler) reconcileSubscription(ctx context.Context, sub domain.Subscription) error {
	since := r.clock.Now().Add(-r.cfg.Lookback)
	records, err := r.notifications.ListWithMessageSince(ctx, sub.Destination(), since)
	if err != nil {
		return fmt.Errorf("failed to load recent alerts: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	if _, err := r.chat.ResolveGuild(ctx, sub.GuildID); err != nil {
		return r.skipUnreachable(ctx, sub, "guild", err)
	}
	if _, err := r.chat.ResolveChannel(ctx, sub.ChannelID); err != nil {
		return r.skipUnreachable(ctx, sub, "channel", err)
	}

	for _, rec := range records {
		err := r.reconcileRecord(ctx, sub, rec)
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrPermissionDenied) {
			_, rmErr := r.remover.removeIfTerminal(ctx, sub, err)
			return rmErr
		}
		slog.WarnContext(ctx, "Skipping alert during catch-up",
			"notification_id", rec.ID,
			"message_id", rec.MessageID,
			"error", err)
		r.metrics.ReconcileActions.WithLabelValues("error").Inc()
	}
	return nil
}

func (r *StartupReconciler) reconcileRecord(ctx context.Context, sub domain.Subscription, rec domain.NotificationRecord) error {
	msg, err := r.chat.FetchMessage(ctx, sub.ChannelID, rec.MessageID)
	switch {
	case errors.Is(err, domain.ErrMessageNotFound):
		return r.markInaccessible(ctx, rec)
	case err != nil:
		return err
	}

	if msg.AuthorID != r.chat.BotUserID() {
		return r.markInaccessible(ctx, rec)
	}
	if IsOffline(msg) {
		r.metrics.ReconcileActions.WithLabelValues("already_offline").Inc()
		return nil
	}
	if r.clock.Since(rec.StreamStartTime) < r.cfg.OfflineAfter {
		r.metrics.ReconcileActions.WithLabelValues("still_live").Inc()
		return nil
	}

	if err := r.offline.applyOffline(ctx, sub, rec, msg, "marked offline during startup catch-up"); err != nil {
		return err
	}
	r.metrics.ReconcileActions.WithLabelValues("marked_offline").Inc()
	slog.InfoContext(ctx, "Marked alert offline during catch-up",
		"notification_id", rec.ID,
		"message_id", rec.MessageID,
		"stream_start", rec.StreamStartTime)
	return nil
}

func (r *StartupReconciler) markInaccessible(ctx context.Context, rec domain.NotificationRecord) error {
	rec.Outcome = domain.Failed("message inaccessible during startup catch-up")
	rec.UpdatedAt = r.clock.Now()
	if err := r.notifications.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist inaccessible alert %s: %w", rec.ID, err)
	}
	r.metrics.ReconcileActions.WithLabelValues("inaccessible").Inc()
	r.metrics.Outcomes.WithLabelValues(rec.Outcome.Kind.String()).Inc()
	return nil
}

// skipUnreachable removes the subscription on missing permissions and otherwise skips
// its records for this sweep.
func (r *StartupReconciler) skipUnreachable(ctx context.Context, sub domain.Subscription, what string, err error) error {
	if errors.Is(err, domain.ErrPermissionDenied) {
		_, rmErr := r.remover.removeIfTerminal(ctx, sub, err)
		return rmErr
	}
	r.metrics.ReconcileActions.WithLabelValues("unreachable").Inc()
	slog.InfoContext(ctx, "Destination unreachable during catch-up, skipping",
		"subscription_id", sub.ID,
		"target", what,
		"guild_id", sub.GuildID,
		"channel_id", sub.ChannelID,
		"error", err)
	return nil
}
