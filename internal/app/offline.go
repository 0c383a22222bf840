package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/pscheid92/livealert/internal/domain"
	"github.com/pscheid92/livealert/internal/platform/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// OfflineMarker flips the active alert of every eligible destination to offline.
type OfflineMarker struct {
	subs          domain.SubscriptionRepository
	notifications domain.NotificationRepository
	chat          domain.ChatPlatform
	locker        *Locker
	remover       subscriptionRemover
	eligible      func(guildID string) bool
	clock         clockwork.Clock
	metrics       *metrics.NotifyMetrics
}

// NewOfflineMarker creates an OfflineMarker. eligible gates guilds on top of the
// edit-in-place flag; nil admits every guild.
func NewOfflineMarker(
	subs domain.SubscriptionRepository,
	notifications domain.NotificationRepository,
	chat domain.ChatPlatform,
	locker *Locker,
	eligible func(guildID string) bool,
	clock clockwork.Clock,
	m *metrics.NotifyMetrics,
) *OfflineMarker {
	if eligible == nil {
		eligible = func(string) bool { return true }
	}
	return &OfflineMarker{
		subs:          subs,
		notifications: notifications,
		chat:          chat,
		locker:        locker,
		remover:       subscriptionRemover{subs: subs, metrics: m},
		eligible:      eligible,
		clock:         clock,
		metrics:       m,
	}
}

// MarkOffline handles one stream-offline event for accountID.
func (m *OfflineMarker) MarkOffline(ctx context.Context, service domain.ServiceType, accountID string) error {
	ctx, span := telemetry.StartSpan(ctx, "offline.mark", attribute.String("account_id", accountID))

	subs, err := m.subs.FindByAccount(ctx, service, accountID)
	if err != nil {
		err = fmt.Errorf("failed to load subscriptions for %s: %w", accountID, err)
		telemetry.End(span, err)
		return err
	}

	var errs []error
	for _, sub := range subs {
		if !sub.EditInPlace || !m.eligible(sub.GuildID) {
			continue
		}
		err := m.locker.WithLock(ctx, m.locker.KeyFor(sub.Destination()), func(ctx context.Context) error {
			return m.markSubscription(ctx, sub)
		})
		if err != nil {
			slog.ErrorContext(ctx, "Failed to mark alert offline",
				"subscription_id", sub.ID,
				"guild_id", sub.GuildID,
				"channel_id", sub.ChannelID,
				"error", err)
			errs = append(errs, err)
		}
	}

	err = errors.Join(errs...)
	telemetry.End(span, err)
	return err
}

func (m *OfflineMarker) markSubscription(ctx context.Context, sub domain.Subscription) error {
	rec, err := m.notifications.LatestWithMessage(ctx, sub.Destination())
	if errors.Is(err, domain.ErrNotificationNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load latest alert: %w", err)
	}

	msg, err := m.chat.FetchMessage(ctx, sub.ChannelID, rec.MessageID)
	switch {
	case errors.Is(err, domain.ErrMessageNotFound):
		slog.InfoContext(ctx, "Active alert no longer exists, nothing to mark offline",
			"notification_id", rec.ID, "message_id", rec.MessageID)
		return nil
	case err != nil:
		if removed, rmErr := m.remover.removeIfTerminal(ctx, sub, err); removed {
			return rmErr
		}
		return fmt.Errorf("failed to fetch alert %s: %w", rec.MessageID, err)
	}

	if msg.AuthorID != m.chat.BotUserID() || IsOffline(msg) {
		return nil
	}

	err = m.applyOffline(ctx, sub, *rec, msg, "marked offline")
	if removed, rmErr := m.remover.removeIfTerminal(ctx, sub, err); removed {
		return rmErr
	}
	return err
}

// applyOffline edits msg to show the offline status and records the outcome. Terminal
// platform errors stay matchable with errors.Is.
func (m *OfflineMarker) applyOffline(ctx context.Context, sub domain.Subscription, rec domain.NotificationRecord, msg *domain.ChatMessage, reason string) error {
	now := m.clock.Now()

	err := m.chat.EditMessage(ctx, sub.ChannelID, rec.MessageID, RenderOffline(msg, now))
	if errors.Is(err, domain.ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to edit alert %s: %w", rec.MessageID, err)
	}

	rec.Outcome = domain.MarkedOffline(reason)
	rec.UpdatedAt = now
	persistCtx, cancel := detachedForPersist(ctx)
	defer cancel()
	if err := m.notifications.Update(persistCtx, rec); err != nil {
		return fmt.Errorf("failed to persist offline alert %s: %w", rec.ID, err)
	}
	m.metrics.Outcomes.WithLabelValues(rec.Outcome.Kind.String()).Inc()
	return nil
}
