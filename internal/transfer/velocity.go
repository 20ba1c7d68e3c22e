package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

// VelocityChecker caps how many transfers a sender may start per window.
// Redis errors fail open.
type VelocityChecker struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
	logger *logging.Logger
}

func NewVelocityChecker(client *redis.Client, limit int64, window time.Duration, logger *logging.Logger) *VelocityChecker {
	if client == nil {
		panic("transfer: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if window <= 0 {
		window = time.Hour
	}
	return &VelocityChecker{redis: client, limit: limit, window: window, logger: logger}
}

func velocityKey(phone string) string {
	return fmt.Sprintf("wallet:velocity:transfer:%s", phone)
}

// Allow counts one attempt for phone and reports whether it is within limit.
func (v *VelocityChecker) Allow(ctx context.Context, phone string) bool {
	ctx, span := tracer.Start(ctx, "transfer.velocity")
	defer span.End()

	if v.limit <= 0 {
		return true
	}
	count, err := v.incrementAndGet(ctx, velocityKey(phone))
	if err != nil {
		v.logger.Error("transfer: velocity check failed", "error", err, "phone", logging.MaskPhone(phone))
		return true
	}
	if count > v.limit {
		v.logger.Warn("transfer: velocity exceeded", "phone", logging.MaskPhone(phone), "count", count, "max", v.limit)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
		return false
	}
	return true
}

func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string) (int64, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := v.redis.Expire(ctx, key, v.window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// Reset clears the counter for phone.
func (v *VelocityChecker) Reset(ctx context.Context, phone string) error {
	return v.redis.Del(ctx, velocityKey(phone)).Err()
}
