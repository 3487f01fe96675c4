package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_engine/internal/idempotency"
	"github.com/congo-pay/wallet_engine/internal/ledger"
	"github.com/congo-pay/wallet_engine/internal/logging"
	"github.com/congo-pay/wallet_engine/internal/provider"
	"github.com/congo-pay/wallet_engine/internal/stepup"
	"github.com/congo-pay/wallet_engine/internal/validation"
)

func TestFromMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{validation.Errorf("amount", "must be positive"), 400, "validation_error"},
		{stepup.ErrPinNotSet, 400, "pin_not_set"},
		{stepup.ErrIncorrectPin, 401, "incorrect_pin"},
		{stepup.ErrPinAlreadySet, 409, "pin_already_set"},
		{fmt.Errorf("transfer: %w", ledger.ErrInsufficientFunds), 422, "insufficient_funds"},
		{ledger.ErrConcurrencyConflict, 409, "concurrency_conflict"},
		{idempotency.ErrInProgress, 409, "request_in_progress"},
		{provider.ErrSignatureInvalid, 401, "signature_invalid"},
		{fmt.Errorf("%w: timeout", provider.ErrExternalService), 502, "external_service_error"},
		{fmt.Errorf("%w: no such account", provider.ErrAccountUnresolved), 422, "account_resolution_error"},
		{ledger.ErrWalletNotFound, 404, "wallet_not_found"},
		{fiber.NewError(http.StatusTooManyRequests, "slow down"), 429, "too_many_requests"},
		{errors.New("pq: connection refused"), 500, "internal_error"},
	}
	for _, tc := range cases {
		got := From(tc.err)
		assert.Equal(t, tc.status, got.Status, tc.err.Error())
		assert.Equal(t, tc.code, got.Code, tc.err.Error())
	}
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	got := From(errors.New("dial tcp 10.0.0.3:5432: secret host"))
	assert.NotContains(t, got.Message, "10.0.0.3")
}

func TestHandlerWritesJSONBody(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: Handler(logging.Discard())})
	app.Get("/", func(c *fiber.Ctx) error { return ledger.ErrConcurrencyConflict })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "concurrency_conflict", body["error"])
	assert.Equal(t, true, body["retryable"])
}
