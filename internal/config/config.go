package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName           = "WalletEngine"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultIdempotencyLock   = 2 * time.Minute
	defaultAccessTokenTTL    = 30 * time.Minute
	defaultProviderTimeout   = 15 * time.Second
	defaultPayoutPoll        = 30 * time.Second
	defaultPayoutAbandon     = 30 * time.Minute
	defaultPaystackBaseURL   = "https://api.paystack.co"
	defaultCurrency          = "NGN"
	defaultMaxPageSize       = 100
	defaultRateLimit         = 20
	defaultOptimisticRetries = 3
	devJWTSecret             = "development-only-secret"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration

	JWTSecret      string
	AccessTokenTTL time.Duration

	PaystackSecretKey   string
	PaystackBaseURL     string
	PaystackCallbackURL string
	ProviderTimeout     time.Duration

	IdempotencyTTL     time.Duration
	IdempotencyLockTTL time.Duration
	OptimisticRetries  int

	PayoutPollInterval time.Duration
	PayoutAbandonAfter time.Duration

	MaxPageSize        int
	DefaultCurrency    string
	RateLimitPerMinute int
}

// Load reads a .env file when present, then the environment. Outside development
// the database, Redis and both secrets are required.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := Config{
		AppName:             get("APP_NAME", defaultAppName),
		AppEnv:              strings.ToLower(get("APP_ENV", defaultAppEnv)),
		Port:                get("PORT", defaultPort),
		LogLevel:            strings.ToLower(get("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:         getenv("DATABASE_URL"),
		RedisURL:            getenv("REDIS_URL"),
		JWTSecret:           getenv("JWT_SECRET"),
		PaystackSecretKey:   getenv("PAYSTACK_SECRET_KEY"),
		PaystackBaseURL:     get("PAYSTACK_BASE_URL", defaultPaystackBaseURL),
		PaystackCallbackURL: getenv("PAYSTACK_CALLBACK_URL"),
		DefaultCurrency:     strings.ToUpper(get("DEFAULT_CURRENCY", defaultCurrency)),
	}

	var errs []error
	duration := func(dst *time.Duration, key string, fallback time.Duration) {
		d, err := parseDuration(getenv, key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = d
	}
	integer := func(dst *int, key string, fallback int) {
		*dst = fallback
		v := getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s: %q", key, v))
			return
		}
		*dst = n
	}

	duration(&cfg.ShutdownPeriod, "SHUTDOWN_TIMEOUT", defaultShutdownDelay)
	duration(&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL", defaultIdempotencyTTL)
	duration(&cfg.IdempotencyLockTTL, "IDEMPOTENCY_LOCK_TTL", defaultIdempotencyLock)
	duration(&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL", defaultAccessTokenTTL)
	duration(&cfg.ProviderTimeout, "PROVIDER_TIMEOUT", defaultProviderTimeout)
	duration(&cfg.PayoutPollInterval, "PAYOUT_POLL_INTERVAL", defaultPayoutPoll)
	duration(&cfg.PayoutAbandonAfter, "PAYOUT_ABANDON_AFTER", defaultPayoutAbandon)
	integer(&cfg.MaxPageSize, "MAX_PAGE_SIZE", defaultMaxPageSize)
	integer(&cfg.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE", defaultRateLimit)
	integer(&cfg.OptimisticRetries, "OPTIMISTIC_RETRIES", defaultOptimisticRetries)

	if cfg.IsDevelopment() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devJWTSecret
		}
	} else {
		for key, v := range map[string]string{
			"DATABASE_URL":        cfg.DatabaseURL,
			"REDIS_URL":           cfg.RedisURL,
			"JWT_SECRET":          cfg.JWTSecret,
			"PAYSTACK_SECRET_KEY": cfg.PaystackSecretKey,
		} {
			if v == "" {
				errs = append(errs, fmt.Errorf("%s must be set when APP_ENV=%s", key, cfg.AppEnv))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsDevelopment reports whether in-memory fallbacks are allowed.
func (c Config) IsDevelopment() bool {
	switch c.AppEnv {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// parseDuration accepts KEY_SECONDS as an integer or KEY as a Go duration.
func parseDuration(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	if v := getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			return fallback, fmt.Errorf("invalid %s_SECONDS: %q", key, v)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fallback, fmt.Errorf("invalid %s: %q", key, v)
		}
		return d, nil
	}
	return fallback, nil
}
