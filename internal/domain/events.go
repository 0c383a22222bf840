package domain

import (
	"context"
	"time"
)

type EventType string

const (
	EventStreamOnline   EventType = "stream.online"
	EventStreamOffline  EventType = "stream.offline"
	EventStartupCatchup EventType = "startup.catchup"
)

// Event is the envelope carried by the message bus. Session is set for online and
// offline events; Accounts is set for catch-up (empty means every monitored account).
type Event struct {
	Type        EventType      `json:"type"`
	Session     *StreamSession `json:"session,omitempty"`
	Service     ServiceType    `json:"service,omitempty"`
	Accounts    []string       `json:"accounts,omitempty"`
	PublishedAt time.Time      `json:"published_at"`
	// CorrelationID ties the handling back to the delivery that published the event.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// EventPublisher appends events to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// QueuedDebouncer remembers recently queued keys for a bounded window.
// IsDebounced returns true if key was already queued within the window and
// records it otherwise.
type QueuedDebouncer interface {
	IsDebounced(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// StreamResolver looks up the live stream of an account on the streaming service.
type StreamResolver interface {
	ResolveSession(ctx context.Context, accountID string) (*StreamSession, error)
}

// EventHandler processes one event. A nil return acknowledges it; an error wrapping
// ErrMalformedEvent drops it; any other error leaves it for redelivery.
type EventHandler func(ctx context.Context, event Event) error

// EventConsumer delivers bus events to a handler until ctx is cancelled.
type EventConsumer interface {
	Consume(ctx context.Context, consumer string, handle EventHandler) error
}
