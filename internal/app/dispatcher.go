package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/pscheid92/livealert/internal/domain"
	"github.com/pscheid92/livealert/internal/platform/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const persistTimeout = 5 * time.Second

// Dispatcher fans one stream-online event out to every subscription of the account.
type Dispatcher struct {
	subs          domain.SubscriptionRepository
	notifications domain.NotificationRepository
	chat          domain.ChatPlatform
	locker        *Locker
	resolver      CooldownResolver
	reaper        *StaleNotificationReaper
	remover       subscriptionRemover
	clock         clockwork.Clock
	metrics       *metrics.NotifyMetrics
}

func NewDispatcher(
	subs domain.SubscriptionRepository,
	notifications domain.NotificationRepository,
	chat domain.ChatPlatform,
	locker *Locker,
	resolver CooldownResolver,
	reaper *StaleNotificationReaper,
	clock clockwork.Clock,
	m *metrics.NotifyMetrics,
) *Dispatcher {
	return &Dispatcher{
		subs:          subs,
		notifications: notifications,
		chat:          chat,
		locker:        locker,
		resolver:      resolver,
		reaper:        reaper,
		remover:       subscriptionRemover{subs: subs, metrics: m},
		clock:         clock,
		metrics:       m,
	}
}

// OnStreamOnline handles one online event. Subscriptions are processed independently;
// the returned error joins the failures of all subscriptions that did not complete.
func (d *Dispatcher) OnStreamOnline(ctx context.Context, session domain.StreamSession) error {
	ctx, span := telemetry.StartSpan(ctx, "dispatcher.on_stream_online",
		attribute.String("account_id", session.AccountID),
		attribute.String("stream_id", session.StreamID))

	subs, err := d.subs.FindByAccount(ctx, session.ServiceType, session.AccountID)
	if err != nil {
		err = fmt.Errorf("failed to load subscriptions for %s: %w", session.AccountID, err)
		telemetry.End(span, err)
		return err
	}

	var errs []error
	for _, sub := range subs {
		if err := d.dispatchOne(ctx, sub, session); err != nil {
			slog.ErrorContext(ctx, "Dispatch failed for subscription",
				"subscription_id", sub.ID,
				"account_id", sub.AccountID,
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

func (d *Dispatcher) dispatchOne(ctx context.Context, sub domain.Subscription, session domain.StreamSession) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic dispatching to subscription %s: %v", sub.ID, r)
		}
	}()

	return d.locker.WithLock(ctx, d.locker.KeyFor(sub.Destination()), func(ctx context.Context) error {
		return d.dispatchLocked(ctx, sub, session)
	})
}

func (d *Dispatcher) dispatchLocked(ctx context.Context, sub domain.Subscription, session domain.StreamSession) error {
	history, err := d.notifications.History(ctx, sub.Destination())
	if err != nil {
		return fmt.Errorf("failed to load notification history: %w", err)
	}

	roleNames, err := d.roleNames(ctx, sub)
	if err != nil {
		if removed, rmErr := d.remover.removeIfTerminal(ctx, sub, err); removed {
			return rmErr
		}
		return fmt.Errorf("failed to resolve mention roles: %w", err)
	}

	next := Render(sub, session)
	action := d.resolver.Resolve(history, session, sub.EditInPlace)

	if action.Kind == ActionInspect {
		msg, err := d.chat.FetchMessage(ctx, sub.ChannelID, action.Recent.MessageID)
		switch {
		case errors.Is(err, domain.ErrMessageNotFound):
			action = d.resolver.ResolveInspected(action, nil, d.chat.BotUserID(), next, roleNames)
		case err != nil:
			if removed, rmErr := d.remover.removeIfTerminal(ctx, sub, err); removed {
				return rmErr
			}
			slog.WarnContext(ctx, "Failed to fetch active alert, keeping it as is",
				"notification_id", action.Recent.ID,
				"message_id", action.Recent.MessageID,
				"error", err)
			action = Action{Kind: ActionSuppress, Recent: action.Recent, Reason: "active alert could not be read"}
		default:
			action = d.resolver.ResolveInspected(action, msg, d.chat.BotUserID(), next, roleNames)
		}
	}

	d.metrics.Decisions.WithLabelValues(action.Kind.String()).Inc()
	slog.DebugContext(ctx, "Cooldown decision",
		"action", action.Kind.String(),
		"account_id", sub.AccountID,
		"guild_id", sub.GuildID,
		"channel_id", sub.ChannelID,
		"stream_id", session.StreamID)

	switch action.Kind {
	case ActionSuppress:
		return d.suppress(ctx, action, session)
	case ActionEditInPlace:
		return d.editInPlace(ctx, sub, action, session, next, roleNames)
	case ActionReapThenSend:
		d.reaper.Reap(ctx, sub, action.Stale)
		return d.sendNew(ctx, sub, session, next, roleNames)
	case ActionSendNew:
		return d.sendNew(ctx, sub, session, next, roleNames)
	default:
		return fmt.Errorf("unhandled cooldown action %s", action.Kind)
	}
}

func (d *Dispatcher) suppress(ctx context.Context, action Action, session domain.StreamSession) error {
	rec := *action.Recent
	rec.ApplySession(session)
	if action.ClearMessageID {
		rec.MessageID = ""
	}
	rec.Outcome = domain.Suppressed(action.Reason)
	return d.persist(ctx, rec)
}

func (d *Dispatcher) editInPlace(ctx context.Context, sub domain.Subscription, action Action, session domain.StreamSession, next domain.RenderedMessage, roleNames []string) error {
	rec := *action.Recent

	err := d.chat.EditMessage(ctx, sub.ChannelID, rec.MessageID, next)
	switch {
	case err == nil:
		rec.ApplySession(session)
		rec.RenderedMessage = next.Content
		rec.RoleNames = roleNames
		rec.Outcome = domain.Edited("edited " + strings.Join(action.Changes, ", "))
		return d.persist(ctx, rec)
	case errors.Is(err, domain.ErrMessageNotFound):
		rec.ApplySession(session)
		rec.MessageID = ""
		rec.Outcome = domain.Suppressed("alert message vanished before edit")
		return d.persist(ctx, rec)
	default:
		if removed, rmErr := d.remover.removeIfTerminal(ctx, sub, err); removed {
			return rmErr
		}
		return fmt.Errorf("failed to edit alert %s: %w", rec.MessageID, err)
	}
}

func (d *Dispatcher) sendNew(ctx context.Context, sub domain.Subscription, session domain.StreamSession, next domain.RenderedMessage, roleNames []string) error {
	now := d.clock.Now()
	candidate := domain.NotificationRecord{
		ID:              uuid.New(),
		ServiceType:     sub.ServiceType,
		AccountID:       sub.AccountID,
		GuildID:         sub.GuildID,
		ChannelID:       sub.ChannelID,
		Outcome:         domain.Outcome{Kind: domain.OutcomePending, Reason: "pending"},
		RenderedMessage: next.Content,
		RoleNames:       roleNames,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	candidate.ApplySession(session)

	rec, err := d.notifications.AddOrGet(ctx, candidate)
	if err != nil {
		return fmt.Errorf("failed to create notification record: %w", err)
	}
	if rec.Outcome.Success() && rec.HasMessage() {
		slog.InfoContext(ctx, "Session already delivered to destination",
			"notification_id", rec.ID,
			"message_id", rec.MessageID)
		return nil
	}

	messageID, err := d.chat.SendMessage(ctx, sub.ChannelID, next)
	if err != nil {
		rec.Outcome = domain.Failed(fmt.Sprintf("send failed: %v", err))
		if perr := d.persist(ctx, *rec); perr != nil {
			slog.ErrorContext(ctx, "Failed to persist send failure", "notification_id", rec.ID, "error", perr)
		}
		if removed, rmErr := d.remover.removeIfTerminal(ctx, sub, err); removed {
			return rmErr
		}
		return fmt.Errorf("failed to send alert: %w", err)
	}

	rec.MessageID = messageID
	rec.RenderedMessage = next.Content
	rec.RoleNames = roleNames
	rec.Outcome = domain.Sent()
	return d.persist(ctx, *rec)
}

// persist writes rec even if the lease context ran out, so a message that was already
// posted is never left unrecorded.
// detachedForPersist outlives the lock lease so a completed chat call is always
// recorded, bounded by persistTimeout.
func detachedForPersist(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (d *Dispatcher) persist(ctx context.Context, rec domain.NotificationRecord) error {
	ctx, cancel := detachedForPersist(ctx)
	defer cancel()

	rec.UpdatedAt = d.clock.Now()
	if err := d.notifications.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist notification %s: %w", rec.ID, err)
	}
	d.metrics.Outcomes.WithLabelValues(rec.Outcome.Kind.String()).Inc()
	return nil
}

func (d *Dispatcher) roleNames(ctx context.Context, sub domain.Subscription) ([]string, error) {
	if len(sub.RoleIDs) == 0 {
		return nil, nil
	}

	guild, err := d.chat.ResolveGuild(ctx, sub.GuildID)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(sub.RoleIDs))
	for _, id := range sub.RoleIDs {
		if name, ok := guild.Roles[id]; ok {
			names = append(names, name)
		}
	}
	return names, nil
}
