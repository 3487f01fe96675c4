package infra

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_engine/internal/idempotency"
	"github.com/congo-pay/wallet_engine/internal/logging"
	"github.com/congo-pay/wallet_engine/internal/notification"
)

func TestBackendsFallBackToMemory(t *testing.T) {
	b := NewBackends(nil, nil, time.Hour, time.Minute, logging.Discard())
	assert.IsType(t, &idempotency.MemoryController{}, b.Idempotency)
	assert.IsType(t, &notification.LoggerNotifier{}, b.Notifier)
	require.NotNil(t, b.Ledger)
	require.NotNil(t, b.Pins)
	require.NotNil(t, b.Users)
}

func TestBackendsUseRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	b := NewBackends(nil, client, time.Hour, time.Minute, logging.Discard())
	assert.IsType(t, &idempotency.RedisController{}, b.Idempotency)
	assert.IsType(t, &notification.RedisNotifier{}, b.Notifier)
}

func TestConnectRequiresURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "")
	assert.Error(t, err)
	_, err = NewPostgresPool(context.Background(), "")
	assert.Error(t, err)
}
