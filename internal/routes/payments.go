package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/middleware"
	"github.com/congo-pay/wallet_engine/internal/payments"
)

// RegisterPaymentRoutes wires wallet-to-wallet transfers.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, limit fiber.Handler) {
	r.Post("/wallet/transfer", limit, middleware.RequireIdempotencyKey(), h.Transfer)
}
