package domain

import (
	"context"
	"time"
)

// DistributedMutex is a lease-based lock shared by all worker processes.
// A lease is identified by its owner token; release only succeeds for the owner.
type DistributedMutex interface {
	TryAcquire(ctx context.Context, key, ownerToken string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, ownerToken string) (bool, error)
}
