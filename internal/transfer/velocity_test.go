package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVelocity(t *testing.T, limit int64) (*VelocityChecker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVelocityChecker(client, limit, time.Minute, nil), mr
}

func TestVelocityChecker_Limit(t *testing.T) {
	v, mr := newVelocity(t, 2)
	ctx := context.Background()

	assert.True(t, v.Allow(ctx, alice))
	assert.True(t, v.Allow(ctx, alice))
	assert.False(t, v.Allow(ctx, alice))
	assert.True(t, v.Allow(ctx, bob))

	ttl := mr.TTL(velocityKey(alice))
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(2 * time.Minute)
	assert.True(t, v.Allow(ctx, alice))
}

func TestVelocityChecker_Reset(t *testing.T) {
	v, _ := newVelocity(t, 1)
	ctx := context.Background()

	assert.True(t, v.Allow(ctx, alice))
	assert.False(t, v.Allow(ctx, alice))
	require.NoError(t, v.Reset(ctx, alice))
	assert.True(t, v.Allow(ctx, alice))
}

func TestVelocityChecker_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	v := NewVelocityChecker(client, 1, time.Minute, nil)
	assert.True(t, v.Allow(context.Background(), alice))
	assert.True(t, v.Allow(context.Background(), alice))
}

func TestVelocityChecker_Unlimited(t *testing.T) {
	v, _ := newVelocity(t, 0)
	for i := 0; i < 5; i++ {
		assert.True(t, v.Allow(context.Background(), alice))
	}
}
