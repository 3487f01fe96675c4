package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/identity"
	"github.com/congo-pay/wallet_engine/internal/wallet"
)

// RegisterWalletMeRoute exposes a GET endpoint to view the current user's wallet and profile.
func RegisterWalletMeRoute(r fiber.Router, wallets *wallet.Service, ids *identity.Service) {
	r.Get("/wallet", func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		if uid == "" {
			return fiber.NewError(http.StatusUnauthorized, "unauthorized")
		}
		user, err := ids.Get(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusNotFound, "user not found")
		}
		w, err := wallets.ForOwner(c.UserContext(), uid)
		if err != nil {
			return err
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"user": fiber.Map{
				"id":         user.ID,
				"email":      user.Email,
				"full_name":  user.FullName,
				"created_at": user.CreatedAt,
			},
			"wallet": fiber.Map{
				"id":         w.ID,
				"number":     w.Number,
				"currency":   w.Currency,
				"balance":    w.Balance,
				"created_at": w.CreatedAt,
			},
		})
	})
}
