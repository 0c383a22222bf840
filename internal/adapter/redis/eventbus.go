package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/pscheid92/livealert/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	payloadField  = "payload"
	errorBackoff  = time.Second
	defaultBlock  = 2 * time.Second
	defaultBatch  = 10
	defaultMaxLen = 100_000
)

type EventBusConfig struct {
	Stream            string
	Group             string
	MaxDeliveries     int64
	VisibilityTimeout time.Duration
	Block             time.Duration
	BatchSize         int64
}

// EventBus is an at-least-once event transport on a Redis stream with one consumer
// group. Entries stay pending until acknowledged; entries idle longer than the
// visibility timeout are claimed by another consumer and delivered again.
type EventBus struct {
	rdb     *goredis.Client
	cfg     EventBusConfig
	metrics *metrics.EventMetrics
}

var (
	_ domain.EventPublisher = (*EventBus)(nil)
	_ domain.EventConsumer  = (*EventBus)(nil)
)

func NewEventBus(rdb *goredis.Client, cfg EventBusConfig, m *metrics.EventMetrics) *EventBus {
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatch
	}
	return &EventBus{rdb: rdb, cfg: cfg, metrics: m}
}

// EnsureGroup creates the stream and consumer group if missing.
func (b *EventBus) EnsureGroup(ctx context.Context) error {
	err := b.rdb.XGroupCreateMkStream(ctx, b.cfg.Stream, b.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", b.cfg.Group, err)
	}
	return nil
}

func (b *EventBus) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	err = b.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: b.cfg.Stream,
		MaxLen: defaultMaxLen,
		Approx: true,
		Values: map[string]any{"type": string(event.Type), payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	b.metrics.Published.WithLabelValues(string(event.Type)).Inc()
	return nil
}

// Consume reads new entries as consumer and hands them to handle until ctx is done.
func (b *EventBus) Consume(ctx context.Context, consumer string, handle domain.EventHandler) error {
	var lastReclaim time.Time

	for ctx.Err() == nil {
		if time.Since(lastReclaim) >= b.cfg.VisibilityTimeout/2 {
			if err := b.reclaim(ctx, consumer, handle); err != nil && ctx.Err() == nil {
				slog.Warn("Failed to reclaim pending events", "consumer", consumer, "error", err)
			}
			lastReclaim = time.Now()
		}

		streams, err := b.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: consumer,
			Streams:  []string{b.cfg.Stream, ">"},
			Count:    b.cfg.BatchSize,
			Block:    b.cfg.Block,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("Failed to read events", "consumer", consumer, "error", err)
			select {
			case <-time.After(errorBackoff):
			case <-ctx.Done():
			}
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				b.deliver(ctx, msg, handle)
			}
		}
	}
	return nil
}

func (b *EventBus) reclaim(ctx context.Context, consumer string, handle domain.EventHandler) error {
	pending, err := b.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: b.cfg.Stream,
		Group:  b.cfg.Group,
		Idle:   b.cfg.VisibilityTimeout,
		Start:  "-",
		End:    "+",
		Count:  b.cfg.BatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to list pending events: %w", err)
	}

	for _, p := range pending {
		if b.cfg.MaxDeliveries > 0 && p.RetryCount >= b.cfg.MaxDeliveries {
			slog.Error("Dropping event after max deliveries", "entry_id", p.ID, "deliveries", p.RetryCount)
			b.metrics.DeadLettered.WithLabelValues("max_deliveries").Inc()
			b.ack(ctx, p.ID)
			continue
		}

		msgs, err := b.rdb.XClaim(ctx, &goredis.XClaimArgs{
			Stream:   b.cfg.Stream,
			Group:    b.cfg.Group,
			Consumer: consumer,
			MinIdle:  b.cfg.VisibilityTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to claim event %s: %w", p.ID, err)
		}
		for _, msg := range msgs {
			b.metrics.Reclaimed.Inc()
			b.deliver(ctx, msg, handle)
		}
	}
	return nil
}

func (b *EventBus) deliver(ctx context.Context, msg goredis.XMessage, handle domain.EventHandler) {
	event, err := decodeEvent(msg)
	if err != nil {
		slog.Error("Dropping malformed event", "entry_id", msg.ID, "error", err)
		b.metrics.DeadLettered.WithLabelValues("malformed").Inc()
		b.ack(ctx, msg.ID)
		return
	}

	err = handle(ctx, event)
	switch {
	case err == nil:
		b.ack(ctx, msg.ID)
	case errors.Is(err, domain.ErrMalformedEvent):
		slog.Error("Dropping unprocessable event", "entry_id", msg.ID, "type", event.Type, "error", err)
		b.metrics.DeadLettered.WithLabelValues("malformed").Inc()
		b.ack(ctx, msg.ID)
	default:
		slog.Warn("Event handling failed, leaving it for redelivery", "entry_id", msg.ID, "type", event.Type, "error", err)
	}
}

func (b *EventBus) ack(ctx context.Context, id string) {
	if err := b.rdb.XAck(context.WithoutCancel(ctx), b.cfg.Stream, b.cfg.Group, id).Err(); err != nil {
		slog.Error("Failed to acknowledge event", "entry_id", id, "error", err)
	}
}

func decodeEvent(msg goredis.XMessage) (domain.Event, error) {
	var event domain.Event
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return event, fmt.Errorf("entry %s has no %s field", msg.ID, payloadField)
	}
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return event, fmt.Errorf("failed to decode entry %s: %w", msg.ID, err)
	}
	if event.Type == "" {
		return event, fmt.Errorf("entry %s has no event type", msg.ID)
	}
	return event, nil
}
