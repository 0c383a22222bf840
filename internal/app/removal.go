package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/pscheid92/livealert/internal/domain"
)

// subscriptionRemover drops subscriptions whose destination became unusable.
type subscriptionRemover struct {
	subs    domain.SubscriptionRepository
	metrics *metrics.NotifyMetrics
}

// terminalReason classifies err as terminal for a subscription. Missing permissions
// and vanished channels or guilds are terminal; a missing message is not.
func terminalReason(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return "permission_denied", true
	case errors.Is(err, domain.ErrChannelNotFound):
		return "channel_not_found", true
	case errors.Is(err, domain.ErrGuildNotFound):
		return "guild_not_found", true
	default:
		return "", false
	}
}

// removeIfTerminal removes sub when cause is terminal and reports whether it did.
func (r subscriptionRemover) removeIfTerminal(ctx context.Context, sub domain.Subscription, cause error) (bool, error) {
	reason, terminal := terminalReason(cause)
	if !terminal {
		return false, nil
	}

	slog.WarnContext(ctx, "Removing subscription after terminal platform error",
		"subscription_id", sub.ID,
		"account_id", sub.AccountID,
		"guild_id", sub.GuildID,
		"channel_id", sub.ChannelID,
		"reason", reason,
		"error", cause)

	if err := r.subs.Remove(ctx, sub.ID, fmt.Sprintf("%s: %v", reason, cause)); err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return true, nil
		}
		return true, fmt.Errorf("failed to remove subscription %s: %w", sub.ID, err)
	}
	r.metrics.SubscriptionsRemoved.WithLabelValues(reason).Inc()
	return true, nil
}
