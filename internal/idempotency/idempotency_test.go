package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisController(t *testing.T) (*RedisController, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisController(client, time.Hour, time.Minute), mr
}

func controllers(t *testing.T) map[string]Controller {
	rc, _ := newRedisController(t)
	return map[string]Controller{
		"redis":  rc,
		"memory": NewMemoryController(time.Hour, time.Minute),
	}
}

func TestReserveCompleteReplay(t *testing.T) {
	for name, c := range controllers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key("transfer", "user-1", "key-1")

			res, err := c.Reserve(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, Acquired, res.State)

			_, err = c.Reserve(ctx, key)
			assert.ErrorIs(t, err, ErrInProgress)

			require.NoError(t, CompleteJSON(ctx, c, key, map[string]string{"status": "completed"}))

			replay, err := c.Reserve(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, Completed, replay.State)

			var decoded map[string]string
			require.NoError(t, replay.Decode(&decoded))
			assert.Equal(t, "completed", decoded["status"])
		})
	}
}

func TestReleaseAllowsRetry(t *testing.T) {
	for name, c := range controllers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key("withdraw", "user-1", "key-2")

			_, err := c.Reserve(ctx, key)
			require.NoError(t, err)
			require.NoError(t, c.Release(ctx, key))

			res, err := c.Reserve(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, Acquired, res.State)
		})
	}
}

func TestReleaseNeverDropsCompletedResult(t *testing.T) {
	for name, c := range controllers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key("webhook", "evt_1")

			_, err := c.Reserve(ctx, key)
			require.NoError(t, err)
			require.NoError(t, c.Complete(ctx, key, []byte(`"done"`)))
			require.NoError(t, c.Release(ctx, key))

			res, err := c.Reserve(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, Completed, res.State)
			assert.Equal(t, `"done"`, string(res.Result))
		})
	}
}

func TestCompleteRequiresReservation(t *testing.T) {
	for name, c := range controllers(t) {
		t.Run(name, func(t *testing.T) {
			err := c.Complete(context.Background(), "never-reserved", []byte("x"))
			assert.ErrorIs(t, err, ErrNotReserved)
		})
	}
}

func TestConcurrentReserveGrantsOnce(t *testing.T) {
	for name, c := range controllers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const workers = 25

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				acquired int
				busy     int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := c.Reserve(ctx, "transfer:user-9:same")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil && res.State == Acquired:
						acquired++
					case errors.Is(err, ErrInProgress):
						busy++
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, acquired)
			assert.Equal(t, workers-1, busy)
		})
	}
}

func TestRedisInFlightLockExpires(t *testing.T) {
	c, mr := newRedisController(t)
	ctx := context.Background()

	_, err := c.Reserve(ctx, "transfer:user-1:crashed")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	res, err := c.Reserve(ctx, "transfer:user-1:crashed")
	require.NoError(t, err)
	assert.Equal(t, Acquired, res.State)
}

func TestRedisResultOutlivesLock(t *testing.T) {
	c, mr := newRedisController(t)
	ctx := context.Background()

	_, err := c.Reserve(ctx, "transfer:user-1:k")
	require.NoError(t, err)
	require.NoError(t, c.Complete(ctx, "transfer:user-1:k", []byte("{}")))

	mr.FastForward(30 * time.Minute)

	res, err := c.Reserve(ctx, "transfer:user-1:k")
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.True(t, mr.Exists(keyPrefix+"transfer:user-1:k"))
}

func TestEmptyKeyRejected(t *testing.T) {
	for name, c := range controllers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := c.Reserve(context.Background(), "")
			assert.ErrorIs(t, err, ErrEmptyKey)
		})
	}
}
