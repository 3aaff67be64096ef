package middlewares

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter is a fixed-window counter in Redis shared by all instances.
type RateLimiter struct {
	redis  redis.Cmdable
	prefix string
	limit  int
	window time.Duration
	log    *zap.Logger
}

func NewRateLimiter(r redis.Cmdable, prefix string, limit int, window time.Duration, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{redis: r, prefix: prefix, limit: limit, window: window, log: logger}
}

// MiddlewareByKey counts requests per key. If Redis is unreachable the request
// is let through and the failure logged.
func (r *RateLimiter) MiddlewareByKey(keyFunc func(c *fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		redisKey := fmt.Sprintf("%s:%s", r.prefix, keyFunc(c))

		count, err := r.redis.Incr(ctx, redisKey).Result()
		if err != nil {
			r.log.Warn("rate limiter unavailable", zap.String("key", redisKey), zap.Error(err))
			return c.Next()
		}
		if count == 1 {
			r.redis.Expire(ctx, redisKey, r.window)
		}
		if count > int64(r.limit) {
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%.0f", r.window.Seconds()))
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}

// ClientIP keys by the caller's address.
func ClientIP(c *fiber.Ctx) string {
	return getIP(c)
}
