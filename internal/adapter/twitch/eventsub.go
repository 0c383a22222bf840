package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/livealert/internal/domain"
	"github.com/pscheid92/livealert/internal/platform/retry"
)

const (
	retryInitialBackoff   = 1 * time.Second
	retryRateLimitBackoff = 30 * time.Second
)

var streamEventTypes = []string{helix.EventSubTypeStreamOnline, helix.EventSubTypeStreamOffline}

// AccountLister lists the accounts that need stream notifications.
type AccountLister interface {
	ListAccounts(ctx context.Context, service domain.ServiceType) ([]string, error)
}

// EventSubSync makes sure every monitored account has enabled stream.online and
// stream.offline webhook subscriptions pointing at this deployment.
type EventSubSync struct {
	client      helixAPI
	accounts    AccountLister
	callbackURL string
	secret      string
	policy      retry.Policy
}

func NewEventSubSync(client helixAPI, accounts AccountLister, callbackURL, secret string) *EventSubSync {
	return &EventSubSync{
		client:      client,
		accounts:    accounts,
		callbackURL: callbackURL,
		secret:      secret,
		policy: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   retryInitialBackoff,
			RateLimitBackoff: retryRateLimitBackoff,
		},
	}
}

type subscriptionKey struct {
	eventType     string
	broadcasterID string
}

// Sync creates the missing subscriptions. Failures for one account are logged and do
// not stop the others.
func (s *EventSubSync) Sync(ctx context.Context) error {
	accounts, err := s.accounts.ListAccounts(ctx, domain.ServiceTwitch)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	existing, err := s.existing(ctx)
	if err != nil {
		return err
	}

	var errs []error
	created := 0
	for _, accountID := range accounts {
		for _, eventType := range streamEventTypes {
			if existing[subscriptionKey{eventType, accountID}] {
				continue
			}
			if err := s.subscribe(ctx, eventType, accountID); err != nil {
				errs = append(errs, err)
				continue
			}
			created++
		}
	}

	slog.Info("EventSub subscriptions synced", "accounts", len(accounts), "created", created, "failed", len(errs))
	return errors.Join(errs...)
}

func (s *EventSubSync) existing(ctx context.Context) (map[subscriptionKey]bool, error) {
	found := make(map[subscriptionKey]bool)
	params := &helix.EventSubSubscriptionsParams{Status: "enabled"}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := s.client.GetEventSubSubscriptions(params)
		if err == nil {
			err = checkResponse(resp.ResponseCommon, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list EventSub subscriptions: %w", err)
		}

		for _, sub := range resp.Data.EventSubSubscriptions {
			if sub.Transport.Callback != s.callbackURL {
				continue
			}
			found[subscriptionKey{sub.Type, sub.Condition.BroadcasterUserID}] = true
		}

		if resp.Data.Pagination.Cursor == "" {
			return found, nil
		}
		params.After = resp.Data.Pagination.Cursor
	}
}

func (s *EventSubSync) subscribe(ctx context.Context, eventType, accountID string) error {
	p := s.policy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("EventSub subscribe failed, retrying", "account_id", accountID, "type", eventType, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
	}

	err := retry.DoVoid(ctx, p, classifyEventSubError, func() error {
		resp, err := s.client.CreateEventSubSubscription(&helix.EventSubSubscription{
			Type:      eventType,
			Version:   "1",
			Condition: helix.EventSubCondition{BroadcasterUserID: accountID},
			Transport: helix.EventSubTransport{Method: "webhook", Callback: s.callbackURL, Secret: s.secret},
		})
		if err != nil {
			return err
		}
		return checkResponse(resp.ResponseCommon, nil)
	})
	if apiErr, ok := errors.AsType[*APIError](err); ok && apiErr.StatusCode == http.StatusConflict {
		slog.Info("EventSub subscription already exists", "account_id", accountID, "type", eventType)
		return nil
	}
	if err != nil {
		label := "after retries"
		if _, ok := errors.AsType[*retry.PermanentError](err); ok {
			label = "permanent"
		}
		slog.Error("EventSub subscribe failed", "account_id", accountID, "type", eventType, "cause", label, "error", err)
		return fmt.Errorf("EventSub subscribe %s for %s failed (%s): %w", eventType, accountID, label, err)
	}

	slog.Info("Subscribed to stream events", "account_id", accountID, "type", eventType)
	return nil
}

func classifyEventSubError(err error) retry.Action {
	apiErr, ok := errors.AsType[*APIError](err)
	if !ok {
		return retry.Retry
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case apiErr.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}
