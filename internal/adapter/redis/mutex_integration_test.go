package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex_AcquireRelease(t *testing.T) {
	client := setupTestClient(t)
	mutex := NewMutex(client)
	ctx := context.Background()

	ok, err := mutex.TryAcquire(ctx, "lock:twitch:nova:G", "owner-a", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mutex.TryAcquire(ctx, "lock:twitch:nova:G", "owner-b", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a held lock")

	released, err := mutex.Release(ctx, "lock:twitch:nova:G", "owner-a")
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = mutex.TryAcquire(ctx, "lock:twitch:nova:G", "owner-b", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMutex_ReleaseRequiresOwner(t *testing.T) {
	client := setupTestClient(t)
	mutex := NewMutex(client)
	ctx := context.Background()

	_, err := mutex.TryAcquire(ctx, "k", "owner-a", 30*time.Second)
	require.NoError(t, err)

	released, err := mutex.Release(ctx, "k", "owner-b")
	require.NoError(t, err)
	assert.False(t, released)

	val, err := client.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "owner-a", val)
}

func TestMutex_LeaseExpires(t *testing.T) {
	client := setupTestClient(t)
	mutex := NewMutex(client)
	ctx := context.Background()

	_, err := mutex.TryAcquire(ctx, "k", "owner-a", 100*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ok, err := mutex.TryAcquire(ctx, "k", "owner-b", 30*time.Second)
		return err == nil && ok
	}, 2*time.Second, 20*time.Millisecond)

	released, err := mutex.Release(ctx, "k", "owner-a")
	require.NoError(t, err)
	assert.False(t, released, "expired owner must not release the new lease")
}

func TestMutex_ConcurrentAcquireHasOneWinner(t *testing.T) {
	client := setupTestClient(t)
	mutex := NewMutex(client)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			ok, err := mutex.TryAcquire(context.Background(), "k", string(rune('a'+i)), 30*time.Second)
			if err == nil && ok {
				winners.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}
