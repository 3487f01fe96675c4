package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/identity"
)

// RegisterIdentityRoutes wires sign-up. Registration also provisions the wallet.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/auth/register", h.Register)
}
