package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_engine/internal/apierr"
	"github.com/congo-pay/wallet_engine/internal/auth"
	"github.com/congo-pay/wallet_engine/internal/logging"
)

func newApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: apierr.Handler(logging.Discard())})
}

func TestRequireIdempotencyKey(t *testing.T) {
	app := newApp()
	app.Post("/resource", RequireIdempotencyKey(), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(IdempotencyKeyLocal).(string))
	})

	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodPost, "/resource", nil)
	req.Header.Set(idempotencyKeyHeader, strings.Repeat("k", maxIdempotencyKeyLen+1))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodPost, "/resource", nil)
	req.Header.Set(idempotencyKeyHeader, " abc123 ")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJWTAuth(t *testing.T) {
	issuer := auth.NewIssuer("secret", time.Minute, "test")
	known := UserCheckerFunc(func(_ context.Context, id string) bool { return id == "u1" })

	app := newApp()
	app.Get("/me", JWTAuth(issuer, known), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(UserLocal).(string))
	})

	call := func(header string) int {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set(fiber.HeaderAuthorization, header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	good, err := issuer.Issue("u1", "")
	require.NoError(t, err)
	gone, err := issuer.Issue("u2", "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, call("Bearer "+good.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer nonsense"))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+gone.AccessToken))
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { cache.Close() })

	app := newApp()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(UserLocal, c.Get("X-User"))
		return c.Next()
	})
	app.Post("/pin", RateLimit(cache, "pin", 2, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusCreated)
	})

	call := func(user string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/pin", nil)
		req.Header.Set("X-User", user)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusCreated, call("alice"))
	assert.Equal(t, http.StatusCreated, call("alice"))
	assert.Equal(t, http.StatusTooManyRequests, call("alice"))
	assert.Equal(t, http.StatusCreated, call("bob"))

	// a Redis outage fails open
	mr.Close()
	assert.Equal(t, http.StatusCreated, call("alice"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	app := newApp()
	app.Use(RequestID(), Audit(logging.Discard()))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	req := httptest.NewRequest(fiber.MethodGet, "/ping", nil)
	req.Header.Set(requestIDHeader, "req-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.Header.Get(requestIDHeader))

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/ping", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	req = httptest.NewRequest(fiber.MethodGet, "/ping", nil)
	req.Header.Set(requestIDHeader, "bad id with spaces")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.NotEqual(t, "bad id with spaces", resp.Header.Get(requestIDHeader))
}
