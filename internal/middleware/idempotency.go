package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/idempotency"
	"github.com/congo-pay/wallet_engine/internal/validation"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	// IdempotencyKeyLocal is where handlers find the validated key.
	IdempotencyKeyLocal  = "idempotency_key"
	maxIdempotencyKeyLen = 128
)

// RequireIdempotencyKey rejects money-moving requests without an Idempotency-Key
// header. The reservation itself is made by the orchestrator, scoped to the caller.
func RequireIdempotencyKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return idempotency.ErrEmptyKey
		}
		if len(key) > maxIdempotencyKeyLen {
			return validation.Errorf(idempotencyKeyHeader, "must be at most %d characters", maxIdempotencyKeyLen)
		}
		c.Locals(IdempotencyKeyLocal, key)
		return c.Next()
	}
}
