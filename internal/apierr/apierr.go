package apierr

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/idempotency"
	"github.com/congo-pay/wallet_engine/internal/ledger"
	"github.com/congo-pay/wallet_engine/internal/provider"
	"github.com/congo-pay/wallet_engine/internal/stepup"
	"github.com/congo-pay/wallet_engine/internal/validation"
)

// Error is the JSON error body every endpoint returns.
type Error struct {
	Status    int    `json:"-"`
	Code      string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

type rule struct {
	target    error
	status    int
	code      string
	retryable bool
}

// order matters: the first match wins
var rules = []rule{
	{stepup.ErrPinNotSet, http.StatusBadRequest, "pin_not_set", false},
	{stepup.ErrIncorrectPin, http.StatusUnauthorized, "incorrect_pin", false},
	{stepup.ErrPinAlreadySet, http.StatusConflict, "pin_already_set", false},
	{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds", false},
	{ledger.ErrConcurrencyConflict, http.StatusConflict, "concurrency_conflict", true},
	{ledger.ErrVersionConflict, http.StatusConflict, "concurrency_conflict", true},
	{idempotency.ErrInProgress, http.StatusConflict, "request_in_progress", true},
	{idempotency.ErrEmptyKey, http.StatusBadRequest, "validation_error", false},
	{provider.ErrSignatureInvalid, http.StatusUnauthorized, "signature_invalid", false},
	{provider.ErrAccountUnresolved, http.StatusUnprocessableEntity, "account_resolution_error", false},
	{provider.ErrExternalService, http.StatusBadGateway, "external_service_error", true},
	{provider.ErrRejected, http.StatusBadGateway, "external_service_error", false},
	{ledger.ErrWalletNotFound, http.StatusNotFound, "wallet_not_found", false},
	{ledger.ErrTransactionNotFound, http.StatusNotFound, "transaction_not_found", false},
	{provider.ErrNotFound, http.StatusNotFound, "not_found", false},
	{ledger.ErrDuplicateTransaction, http.StatusConflict, "duplicate_request", false},
	{ledger.ErrStatusConflict, http.StatusConflict, "concurrency_conflict", true},
}

// From maps an error from any layer to its HTTP representation. Unknown errors
// become an opaque 500.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var v *validation.Error
	if errors.As(err, &v) {
		return &Error{Status: http.StatusBadRequest, Code: "validation_error", Message: v.Error()}
	}
	for _, r := range rules {
		if errors.Is(err, r.target) {
			return &Error{Status: r.status, Code: r.code, Message: r.target.Error(), Retryable: r.retryable}
		}
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return &Error{Status: fe.Code, Code: codeForStatus(fe.Code), Message: fe.Message}
	}
	return &Error{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal server error"}
}

// Code returns the stable error code for err, or "" for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	return From(err).Code
}

// Handler is a fiber ErrorHandler that writes From(err) as JSON.
func Handler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		apiErr := From(err)
		if apiErr.Status >= http.StatusInternalServerError {
			logger.Error("request failed", slog.String("path", c.Path()), slog.String("code", apiErr.Code), slog.Any("error", err))
		}
		return c.Status(apiErr.Status).JSON(apiErr)
	}
}

func codeForStatus(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}

// WriteWithTransaction renders err like Handler but attaches the transaction the
// failure was recorded on, so the caller sees its terminal status.
func WriteWithTransaction(c *fiber.Ctx, err error, tx any) error {
	apiErr := From(err)
	return c.Status(apiErr.Status).JSON(fiber.Map{
		"error":       apiErr.Code,
		"message":     apiErr.Message,
		"retryable":   apiErr.Retryable,
		"transaction": tx,
	})
}
