package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/pscheid92/livealert/internal/domain"
)

// StaleNotificationReaper deletes alerts left over from earlier sessions at
// edit-in-place destinations before a new alert is posted.
type StaleNotificationReaper struct {
	notifications domain.NotificationRepository
	chat          domain.ChatPlatform
	clock         clockwork.Clock
	metrics       *metrics.NotifyMetrics
}

func NewStaleNotificationReaper(notifications domain.NotificationRepository, chat domain.ChatPlatform, clock clockwork.Clock, m *metrics.NotifyMetrics) *StaleNotificationReaper {
	return &StaleNotificationReaper{notifications: notifications, chat: chat, clock: clock, metrics: m}
}

// Reap retires every stale record whose message could be deleted. Failures are logged
// and never abort the caller; a record that could not be cleaned stays as it is.
func (r *StaleNotificationReaper) Reap(ctx context.Context, sub domain.Subscription, stale []domain.NotificationRecord) {
	for _, rec := range stale {
		if !rec.HasMessage() {
			continue
		}

		err := r.chat.DeleteMessage(ctx, sub.ChannelID, rec.MessageID)
		switch {
		case err == nil:
			r.retire(ctx, rec, "deleted stale alert")
		case errors.Is(err, domain.ErrMessageNotFound):
			r.retire(ctx, rec, "stale alert already gone")
		case errors.Is(err, domain.ErrPermissionDenied):
			r.metrics.StaleReaped.WithLabelValues("permission_denied").Inc()
			slog.WarnContext(ctx, "Missing permission to delete stale alert",
				"notification_id", rec.ID,
				"channel_id", sub.ChannelID,
				"message_id", rec.MessageID)
		default:
			r.metrics.StaleReaped.WithLabelValues("error").Inc()
			slog.WarnContext(ctx, "Failed to delete stale alert",
				"notification_id", rec.ID,
				"channel_id", sub.ChannelID,
				"message_id", rec.MessageID,
				"error", err)
		}
	}
}

func (r *StaleNotificationReaper) retire(ctx context.Context, rec domain.NotificationRecord, reason string) {
	rec.MessageID = ""
	rec.Outcome = domain.Retired(reason)
	rec.UpdatedAt = r.clock.Now()

	persistCtx, cancel := detachedForPersist(ctx)
	defer cancel()
	if err := r.notifications.Update(persistCtx, rec); err != nil {
		r.metrics.StaleReaped.WithLabelValues("error").Inc()
		slog.ErrorContext(ctx, "Failed to persist retired alert", "notification_id", rec.ID, "error", err)
		return
	}
	r.metrics.StaleReaped.WithLabelValues("retired").Inc()
	r.metrics.Outcomes.WithLabelValues(rec.Outcome.Kind.String()).Inc()
}
