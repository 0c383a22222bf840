package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// LeaderElection holds a named lease for one instance at a time.
type LeaderElection struct {
	rdb        *goredis.Client
	key        string
	instanceID string
	ttl        time.Duration
}

func NewLeaderElection(rdb *goredis.Client, key, instanceID string, ttl time.Duration) *LeaderElection {
	return &LeaderElection{rdb: rdb, key: key, instanceID: instanceID, ttl: ttl}
}

// TryAcquire returns true if this instance holds the lease afterwards. Re-acquiring a
// lease already held by this instance extends it.
func (l *LeaderElection) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire leader lease: %w", err)
	}
	if ok {
		return true, nil
	}
	return l.renew(ctx)
}

var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func (l *LeaderElection) renew(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.instanceID, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew leader lease: %w", err)
	}
	return n == 1, nil
}

// Release gives up the lease if this instance still holds it.
func (l *LeaderElection) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to release leader lease: %w", err)
	}
	return nil
}
