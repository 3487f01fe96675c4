package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_engine/internal/apierr"
	"github.com/congo-pay/wallet_engine/internal/config"
	"github.com/congo-pay/wallet_engine/internal/logging"
	"github.com/congo-pay/wallet_engine/internal/provider"
	"github.com/congo-pay/wallet_engine/internal/stepup"
)

const webhookSecret = "sk_test_routes"

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	env := map[string]string{
		"APP_ENV":             "test",
		"PAYSTACK_SECRET_KEY": webhookSecret,
	}
	cfg, err := config.FromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)

	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: apierr.Handler(logger)})
	_, err = Setup(app, Deps{
		Cfg:       cfg,
		Logger:    logger,
		Provider:  provider.NewStatic(),
		PinParams: &stepup.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
	})
	require.NoError(t, err)
	return app
}

type client struct {
	t     *testing.T
	app   *fiber.App
	token string
}

func (c client) do(method, path string, body any, headers map[string]string) (int, map[string]any) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if c.token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.app.Test(req, -1)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(c.t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func register(t *testing.T, app *fiber.App, email string) (client, string) {
	t.Helper()
	status, body := client{t: t, app: app}.do(fiber.MethodPost, "/api/v1/auth/register", map[string]string{"email": email}, nil)
	require.Equal(t, http.StatusCreated, status, body)
	user := body["user"].(map[string]any)
	return client{t: t, app: app, token: body["access_token"].(string)}, user["wallet_number"].(string)
}

func balance(c client) float64 {
	status, body := c.do(fiber.MethodGet, "/api/v1/wallet/balance", nil, nil)
	require.Equal(c.t, http.StatusOK, status, body)
	return body["balance"].(float64)
}

func TestWalletLifecycle(t *testing.T) {
	app := newTestApp(t)
	alice, _ := register(t, app, "alice@example.com")
	bob, bobNumber := register(t, app, "bob@example.com")

	status, _ := alice.do(fiber.MethodPost, "/api/v1/wallet/pin", map[string]string{"pin": "1234"}, nil)
	require.Equal(t, http.StatusCreated, status)

	// deposit through a signed provider webhook
	status, body := alice.do(fiber.MethodPost, "/api/v1/wallet/deposit", map[string]int64{"amount": 1000}, nil)
	require.Equal(t, http.StatusCreated, status, body)
	reference := body["reference"].(string)

	event := []byte(fmt.Sprintf(`{"event":"charge.success","data":{"id":77,"reference":%q,"amount":1000,"currency":"NGN","status":"success"}}`, reference))
	anon := client{t: t, app: app}
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/wallet/paystack/webhook", bytes.NewReader(event))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set(provider.SignatureHeader, provider.SignHex(webhookSecret, event))
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, float64(1000), balance(alice))

	status, _ = anon.do(fiber.MethodPost, "/api/v1/wallet/paystack/webhook", map[string]string{"event": "charge.success"},
		map[string]string{provider.SignatureHeader: "00"})
	assert.Equal(t, http.StatusUnauthorized, status)

	// transfer replays return the original transaction
	transfer := map[string]any{"wallet_number": bobNumber, "amount": 400, "pin": "1234"}
	key := map[string]string{"Idempotency-Key": "t-1"}
	status, first := alice.do(fiber.MethodPost, "/api/v1/wallet/transfer", transfer, key)
	require.Equal(t, http.StatusCreated, status, first)
	status, second := alice.do(fiber.MethodPost, "/api/v1/wallet/transfer", transfer, key)
	require.Equal(t, http.StatusCreated, status, second)
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, float64(600), balance(alice))
	assert.Equal(t, float64(400), balance(bob))

	status, _ = alice.do(fiber.MethodPost, "/api/v1/wallet/transfer", transfer, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// withdrawal debits now and settles later
	withdraw := map[string]any{"bank_code": "058", "account_number": "0123456789", "amount": 100, "pin": "1234"}
	status, body = alice.do(fiber.MethodPost, "/api/v1/wallet/withdraw", withdraw, map[string]string{"Idempotency-Key": "w-1"})
	require.Equal(t, http.StatusAccepted, status, body)
	assert.Equal(t, float64(500), balance(alice))

	status, body = alice.do(fiber.MethodGet, "/api/v1/wallet/transactions?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["items"], 3)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := newTestApp(t)
	anon := client{t: t, app: app}
	for _, path := range []string{"/api/v1/me", "/api/v1/wallet/balance", "/api/v1/banks"} {
		status, _ := anon.do(fiber.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, status, path)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	alice, _ := register(t, app, "carol@example.com")
	status, _ := alice.do(fiber.MethodGet, "/api/v1/banks", nil, nil)
	assert.Equal(t, http.StatusOK, status)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(raw), "go_goroutines") || strings.Contains(string(raw), "wallet_engine_"))
}
