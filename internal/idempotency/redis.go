package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix        = "idempotency:v1:"
	inProgressMarker = "__in_progress__"

	defaultResultTTL = 24 * time.Hour
	defaultLockTTL   = 2 * time.Minute
)

// releaseScript deletes the key only while it still holds the in-flight marker, so a
// late Release can never drop a stored result.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// completeScript replaces the in-flight marker with the result.
var completeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

// RedisController reserves keys with SETNX. An in-flight reservation expires after
// lockTTL so a crashed worker cannot wedge a key forever; completed results live
// for resultTTL.
type RedisController struct {
	client    *redis.Client
	resultTTL time.Duration
	lockTTL   time.Duration
}

// NewRedisController builds a Redis backed controller. Zero durations fall back to
// 24h for results and 2m for in-flight locks.
func NewRedisController(client *redis.Client, resultTTL, lockTTL time.Duration) *RedisController {
	if resultTTL <= 0 {
		resultTTL = defaultResultTTL
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &RedisController{client: client, resultTTL: resultTTL, lockTTL: lockTTL}
}

func (c *RedisController) Reserve(ctx context.Context, key string) (Reservation, error) {
	if key == "" {
		return Reservation{}, ErrEmptyKey
	}
	cacheKey := keyPrefix + key

	// A key can expire between SETNX and GET; one extra round settles it.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := c.client.SetNX(ctx, cacheKey, inProgressMarker, c.lockTTL).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency reservation: %w", err)
		}
		if ok {
			return Reservation{State: Acquired}, nil
		}

		cached, err := c.client.Get(ctx, cacheKey).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency lookup: %w", err)
		}
		if string(cached) == inProgressMarker {
			return Reservation{}, ErrInProgress
		}
		return Reservation{State: Completed, Result: cached}, nil
	}
	return Reservation{}, ErrInProgress
}

func (c *RedisController) Complete(ctx context.Context, key string, result []byte) error {
	n, err := completeScript.Run(ctx, c.client, []string{keyPrefix + key},
		inProgressMarker, result, c.resultTTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("persist idempotent result: %w", err)
	}
	if n == 0 {
		return ErrNotReserved
	}
	return nil
}

func (c *RedisController) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, c.client, []string{keyPrefix + key}, inProgressMarker).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
