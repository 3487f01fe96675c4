package funding

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/provider"
	"github.com/congo-pay/wallet_engine/internal/validation"
)

// Handler exposes HTTP endpoints for provider-backed deposits.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Deposit starts a checkout for the caller's wallet.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return validation.Errorf("body", "invalid JSON")
	}
	uid, _ := c.Locals("user_id").(string)

	checkout, err := h.service.InitializeDeposit(c.UserContext(), uid, req.Amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(DepositResponse{
		Reference:        checkout.Reference,
		AuthorizationURL: checkout.AuthorizationURL,
	})
}

// Webhook receives provider events. The signature is checked over the raw body.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	outcome, err := h.service.HandleWebhook(c.UserContext(), body, c.Get(provider.SignatureHeader))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(WebhookResponse{Status: outcome})
}

// Status reports a deposit by reference.
func (h *Handler) Status(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	resp, err := h.service.Status(c.UserContext(), uid, c.Params("reference"))
	if err != nil {
		return err
	}
	return c.JSON(resp)
}
