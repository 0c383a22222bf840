package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pscheid92/livealert/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// Debouncer is a time-windowed set of recently queued keys. Entries evict by TTL.
type Debouncer struct {
	rdb    *goredis.Client
	window time.Duration
}

var _ domain.QueuedDebouncer = (*Debouncer)(nil)

func NewDebouncer(rdb *goredis.Client, window time.Duration) *Debouncer {
	return &Debouncer{rdb: rdb, window: window}
}

// IsDebounced returns true if key was queued within the window, false if it was not
// (and records it).
func (d *Debouncer) IsDebounced(ctx context.Context, key string) (bool, error) {
	args := goredis.SetArgs{TTL: d.window, Mode: "NX"}
	_, err := d.rdb.SetArgs(ctx, debounceKey(key), "1", args).Result()
	if errors.Is(err, goredis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to set debounce: %w", err)
	}
	return false, nil
}

func debounceKey(key string) string {
	return "queued:" + key
}

// Forget drops key so the next delivery is not debounced. Used when queueing failed
// after IsDebounced recorded the key.
func (d *Debouncer) Forget(ctx context.Context, key string) error {
	if err := d.rdb.Del(ctx, debounceKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to clear debounce: %w", err)
	}
	return nil
}
