package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestDefaultsInDevelopment(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 100, cfg.MaxPageSize)
	assert.Equal(t, "NGN", cfg.DefaultCurrency)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.NotEmpty(t, cfg.JWTSecret)
}

func TestDurationForms(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"SHUTDOWN_TIMEOUT_SECONDS": "5",
		"PAYOUT_POLL_INTERVAL":     "1m30s",
		"IDEMPOTENCY_TTL":          "2h",
	}))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, 90*time.Second, cfg.PayoutPollInterval)
	assert.Equal(t, 2*time.Hour, cfg.IdempotencyTTL)

	_, err = FromEnv(env(map[string]string{"PROVIDER_TIMEOUT": "soon"}))
	assert.ErrorContains(t, err, "PROVIDER_TIMEOUT")
	_, err = FromEnv(env(map[string]string{"MAX_PAGE_SIZE": "-1"}))
	assert.ErrorContains(t, err, "MAX_PAGE_SIZE")
}

func TestProductionRequiresSecretsAndStores(t *testing.T) {
	_, err := FromEnv(env(map[string]string{"APP_ENV": "production"}))
	require.Error(t, err)
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "JWT_SECRET", "PAYSTACK_SECRET_KEY"} {
		assert.ErrorContains(t, err, key)
	}

	cfg, err := FromEnv(env(map[string]string{
		"APP_ENV":             "production",
		"DATABASE_URL":        "postgres://localhost/wallet",
		"REDIS_URL":           "redis://localhost:6379/0",
		"JWT_SECRET":          "s3cret",
		"PAYSTACK_SECRET_KEY": "sk_live_x",
		"PORT":                ":9000",
	}))
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, ":9000", cfg.Address())
}
