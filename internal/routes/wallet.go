package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/wallet"
)

// RegisterWalletRoutes wires balance, history and PIN endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, pinLimit fiber.Handler) {
	group := r.Group("/wallet")
	group.Get("/balance", h.Balance)
	group.Get("/transactions", h.Transactions)
	group.Post("/pin", pinLimit, h.SetPin)
}
