package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_CheckAndMark(t *testing.T) {
	cache := NewMemoryCache(time.Minute, 10)
	defer cache.Close()
	ctx := context.Background()

	dup, err := cache.CheckAndMark(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = cache.CheckAndMark(ctx, "wamid.1")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestMemoryCache_Expiry(t *testing.T) {
	cache := NewMemoryCache(time.Minute, 10)
	defer cache.Close()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	dup, _ := cache.CheckAndMark(ctx, "wamid.1")
	assert.False(t, dup)

	now = now.Add(2 * time.Minute)
	dup, _ = cache.CheckAndMark(ctx, "wamid.1")
	assert.False(t, dup, "expired id should be claimable again")

	now = now.Add(2 * time.Minute)
	cache.removeExpired()
	assert.Equal(t, 0, cache.Len())
}

func TestMemoryCache_EvictsOldest(t *testing.T) {
	cache := NewMemoryCache(time.Hour, 3)
	defer cache.Close()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = cache.CheckAndMark(ctx, fmt.Sprintf("wamid.%d", i))
	}
	assert.Equal(t, 3, cache.Len())

	dup, _ := cache.CheckAndMark(ctx, "wamid.0")
	assert.False(t, dup, "oldest id should have been evicted")
	dup, _ = cache.CheckAndMark(ctx, "wamid.3")
	assert.True(t, dup)
}

func TestMemoryCache_ConcurrentClaimsOnce(t *testing.T) {
	cache := NewMemoryCache(time.Minute, 100)
	defer cache.Close()

	var claims int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if dup, _ := cache.CheckAndMark(context.Background(), "wamid.same"); !dup {
				atomic.AddInt32(&claims, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), claims)
}

func TestMemoryCache_CloseTwice(t *testing.T) {
	cache := NewMemoryCache(0, 0)
	cache.Close()
	cache.Close()
}

func TestRedisDeduper(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	d := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	dup, err := d.CheckAndMark(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = d.CheckAndMark(ctx, "wamid.1")
	require.NoError(t, err)
	assert.True(t, dup)

	assert.True(t, mr.Exists("wallet:dedup:wamid.1"))
	mr.FastForward(2 * time.Minute)

	dup, err = d.CheckAndMark(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestRedisDeduper_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	_, err := NewRedisDeduper(client, time.Minute).CheckAndMark(context.Background(), "wamid.1")
	assert.Error(t, err)
}
