package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/auth"
)

// UserLocal is where handlers find the authenticated user id.
const UserLocal = "user_id"

// UserChecker confirms the token subject still exists.
type UserChecker interface {
	Exists(ctx context.Context, userID string) bool
}

// UserCheckerFunc adapts a function to UserChecker.
type UserCheckerFunc func(ctx context.Context, userID string) bool

func (f UserCheckerFunc) Exists(ctx context.Context, userID string) bool { return f(ctx, userID) }

// JWTAuth validates bearer access tokens and stores the subject in Locals.
func JWTAuth(issuer *auth.Issuer, users UserChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := issuer.Parse(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if users != nil && !users.Exists(c.UserContext(), claims.Subject) {
			return fiber.NewError(http.StatusUnauthorized, "token invalidated")
		}
		c.Locals(UserLocal, claims.Subject)
		return c.Next()
	}
}
