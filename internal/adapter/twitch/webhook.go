package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/livealert/internal/domain"
	"github.com/pscheid92/livealert/internal/platform/correlation"
)

const (
	webhookProcessingTimeout = 5 * time.Second
	maxWebhookBodyBytes      = 1 << 20

	headerMessageID   = "Twitch-Eventsub-Message-Id"
	headerMessageType = "Twitch-Eventsub-Message-Type"
	headerSignature   = "Twitch-Eventsub-Message-Signature"

	messageTypeVerification = "webhook_callback_verification"
	messageTypeNotification = "notification"
	messageTypeRevocation   = "revocation"
)

type webhookEnvelope struct {
	Subscription helix.EventSubSubscription `json:"subscription"`
	Challenge    string                     `json:"challenge"`
	Event        json.RawMessage            `json:"event"`
}

// WebhookHandler turns EventSub stream notifications into bus events.
type WebhookHandler struct {
	secret    string
	resolver  domain.StreamResolver
	debouncer domain.QueuedDebouncer
	publisher domain.EventPublisher
	now       func() time.Time
}

func NewWebhookHandler(secret string, resolver domain.StreamResolver, debouncer domain.QueuedDebouncer, publisher domain.EventPublisher) *WebhookHandler {
	return &WebhookHandler{
		secret:    secret,
		resolver:  resolver,
		debouncer: debouncer,
		publisher: publisher,
		now:       time.Now,
	}
}

func (wh *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !strings.HasPrefix(r.Header.Get(headerSignature), "sha256=") ||
		!helix.VerifyEventSubNotification(wh.secret, r.Header, string(body)) {
		slog.Warn("EventSub signature verification failed", "message_id", r.Header.Get(headerMessageID))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	switch r.Header.Get(headerMessageType) {
	case messageTypeVerification:
		slog.Info("EventSub webhook verification", "subscription_type", env.Subscription.Type)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, env.Challenge)
	case messageTypeRevocation:
		slog.Warn("EventSub subscription revoked",
			"subscription_type", env.Subscription.Type,
			"status", env.Subscription.Status,
			"account_id", env.Subscription.Condition.BroadcasterUserID)
		w.WriteHeader(http.StatusNoContent)
	case messageTypeNotification:
		ctx, cancel := context.WithTimeout(r.Context(), webhookProcessingTimeout)
		defer cancel()

		if err := wh.handleNotification(ctx, r.Header.Get(headerMessageID), env); err != nil {
			slog.Error("EventSub notification failed", "subscription_type", env.Subscription.Type, "error", err)
			http.Error(w, "failed to queue event", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (wh *WebhookHandler) handleNotification(ctx context.Context, messageID string, env webhookEnvelope) error {
	switch env.Subscription.Type {
	case helix.EventSubTypeStreamOnline:
		var ev helix.EventSubStreamOnlineEvent
		if err := json.Unmarshal(env.Event, &ev); err != nil {
			slog.Warn("Dropping malformed stream.online event", "error", err)
			return nil
		}
		if ev.Type != "" && ev.Type != "live" {
			return nil
		}
		session := wh.onlineSession(ctx, ev)
		key := debounceKey(session.AccountID, session.StreamID)
		return wh.queue(ctx, key, domain.Event{Type: domain.EventStreamOnline, Session: session, Service: domain.ServiceTwitch})

	case helix.EventSubTypeStreamOffline:
		var ev helix.EventSubStreamOfflineEvent
		if err := json.Unmarshal(env.Event, &ev); err != nil {
			slog.Warn("Dropping malformed stream.offline event", "error", err)
			return nil
		}
		session := &domain.StreamSession{
			ServiceType: domain.ServiceTwitch,
			AccountID:   ev.BroadcasterUserID,
			AccountName: ev.BroadcasterUserName,
		}
		// Offline events carry no stream id; Twitch's message id dedups its own retries.
		key := debounceKey(session.AccountID, "offline:"+messageID)
		return wh.queue(ctx, key, domain.Event{Type: domain.EventStreamOffline, Session: session, Service: domain.ServiceTwitch})

	default:
		slog.Debug("Ignoring EventSub notification", "subscription_type", env.Subscription.Type)
		return nil
	}
}

// onlineSession builds the session from the event and enriches it from Helix. The
// event's stream id and start time stay authoritative.
func (wh *WebhookHandler) onlineSession(ctx context.Context, ev helix.EventSubStreamOnlineEvent) *domain.StreamSession {
	session := &domain.StreamSession{
		ServiceType: domain.ServiceTwitch,
		AccountID:   ev.BroadcasterUserID,
		AccountName: ev.BroadcasterUserName,
		StreamID:    ev.ID,
		StartTime:   ev.StartedAt.UTC(),
		StreamURL:   streamBaseURL + strings.ToLower(ev.BroadcasterUserLogin),
	}
	if session.StartTime.IsZero() {
		session.StartTime = wh.now().UTC()
	}

	if wh.resolver == nil {
		return session
	}
	live, err := wh.resolver.ResolveSession(ctx, ev.BroadcasterUserID)
	if err != nil {
		slog.Warn("Stream enrichment failed, sending minimal alert", "account_id", ev.BroadcasterUserID, "error", err)
		return session
	}

	session.Title = live.Title
	session.ThumbnailURL = live.ThumbnailURL
	session.AvatarURL = live.AvatarURL
	session.Game = live.Game
	if live.AccountName != "" {
		session.AccountName = live.AccountName
	}
	if live.StreamURL != "" {
		session.StreamURL = live.StreamURL
	}
	return session
}

func (wh *WebhookHandler) queue(ctx context.Context, key string, event domain.Event) error {
	debounced, err := wh.debouncer.IsDebounced(ctx, key)
	if err != nil {
		// The dispatcher dedups, so queue anyway.
		slog.Warn("Debounce check failed, queueing anyway", "key", key, "error", err)
	}
	if debounced {
		slog.Debug("Event already queued", "key", key)
		return nil
	}

	event.PublishedAt = wh.now().UTC()
	event.CorrelationID, _ = correlation.ID(ctx)
	if err := wh.publisher.Publish(ctx, event); err != nil {
		if forgetErr := wh.debouncer.Forget(context.WithoutCancel(ctx), key); forgetErr != nil {
			slog.Warn("Failed to clear debounce after publish error", "key", key, "error", forgetErr)
		}
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	slog.Info("Event queued", "type", event.Type, "account_id", event.Session.AccountID, "stream_id", event.Session.StreamID)
	return nil
}

func debounceKey(accountID, streamID string) string {
	return string(domain.ServiceTwitch) + ":" + accountID + ":" + streamID
}
