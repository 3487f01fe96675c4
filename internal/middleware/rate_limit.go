package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimit allows perMinute requests per caller to the routes it guards, counted
// in fixed one-minute Redis windows. The caller is the authenticated user, or the
// client IP before authentication. Without Redis, or on Redis errors, it fails open.
func RateLimit(cache *redis.Client, scope string, perMinute int, logger *slog.Logger) fiber.Handler {
	if perMinute <= 0 {
		perMinute = 20
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		caller, _ := c.Locals(UserLocal).(string)
		if caller == "" {
			caller = c.IP()
		}
		window := time.Now().UTC().Unix() / 60
		key := fmt.Sprintf("rl:%s:%s:%d", scope, caller, window)

		pipe := cache.TxPipeline()
		incr := pipe.Incr(c.UserContext(), key)
		pipe.Expire(c.UserContext(), key, time.Minute)
		if _, err := pipe.Exec(c.UserContext()); err != nil {
			logger.Warn("rate limit unavailable", slog.String("scope", scope), slog.Any("error", err))
			return c.Next()
		}
		if incr.Val() > int64(perMinute) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
