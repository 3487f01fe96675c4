package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/funding"
)

// RegisterFundingRoutes wires deposit endpoints for authenticated users.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	group := r.Group("/wallet/deposit")
	group.Post("", h.Deposit)
	group.Get("/:reference/status", h.Status)
}

// RegisterWebhookRoutes wires the provider callback. It is authenticated by its
// signature, not a bearer token.
func RegisterWebhookRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/wallet/paystack/webhook", h.Webhook)
}
