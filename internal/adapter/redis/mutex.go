package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pscheid92/livealert/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds the caller's owner token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Mutex is a lease lock: SET NX PX to acquire, compare-and-delete to release.
type Mutex struct {
	rdb *goredis.Client
}

var _ domain.DistributedMutex = (*Mutex)(nil)

func NewMutex(rdb *goredis.Client) *Mutex {
	return &Mutex{rdb: rdb}
}

func (m *Mutex) TryAcquire(ctx context.Context, key, ownerToken string, ttl time.Duration) (bool, error) {
	_, err := m.rdb.SetArgs(ctx, key, ownerToken, goredis.SetArgs{Mode: "NX", TTL: ttl}).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return true, nil
}

func (m *Mutex) Release(ctx context.Context, key, ownerToken string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, m.rdb, []string{key}, ownerToken).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return deleted == 1, nil
}
