package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisDedupPrefix = "wallet:dedup:"

// RedisDeduper shares claimed ids between instances with SET NX EX.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Deduper = (*RedisDeduper)(nil)

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("events: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	claimed, err := d.client.SetNX(ctx, redisDedupPrefix+eventID, time.Now().UTC().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("events: redis setnx: %w", err)
	}
	return !claimed, nil
}
