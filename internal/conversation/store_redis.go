package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// RedisStore persists sessions as JSON blobs and implements CompareAndSwap
// with WATCH/MULTI, so several instances can share dialogue state.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore builds a store whose keys expire ttl after the last write
// (0 disables expiry).
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	return &RedisStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("wallet.internal.conversation.store"),
		now:    time.Now,
	}
}

func sessionKey(phone string) string {
	return fmt.Sprintf("wallet:session:%s", phone)
}

func (s *RedisStore) GetOrCreate(ctx context.Context, phone string) (Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.session.get")
	defer span.End()

	sess, err := s.load(ctx, s.redis, phone)
	if err != nil {
		span.RecordError(err)
		return Session{}, err
	}
	return sess, nil
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c redisGetter, phone string) (Session, error) {
	data, err := c.Get(ctx, sessionKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewSession(phone), nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("conversation: failed to load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("conversation: failed to decode session: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, phone string, expected, next Session) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.session.cas")
	defer span.End()

	stamped, err := prepareNext(phone, expected, next, s.now())
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(stamped)
	if err != nil {
		return false, fmt.Errorf("conversation: failed to encode session: %w", err)
	}

	key := sessionKey(phone)
	swapped := false
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, phone)
		if err != nil {
			return err
		}
		if current.Version != expected.Version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("conversation: failed to persist session: %w", err)
	}
	return swapped, nil
}
