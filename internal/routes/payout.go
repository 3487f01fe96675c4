package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/middleware"
	"github.com/congo-pay/wallet_engine/internal/payout"
)

// RegisterPayoutRoutes wires withdrawals and the bank directory.
func RegisterPayoutRoutes(r fiber.Router, h *payout.Handler, limit fiber.Handler) {
	r.Post("/wallet/withdraw", limit, middleware.RequireIdempotencyKey(), h.Withdraw)
	r.Get("/banks", h.Banks)
	r.Get("/banks/resolve", h.Resolve)
}
