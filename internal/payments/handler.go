package payments

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/apierr"
	"github.com/congo-pay/wallet_engine/internal/validation"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	WalletNumber string `json:"wallet_number"`
	Amount       int64  `json:"amount"`
	PIN          string `json:"pin"`
	Description  string `json:"description"`
}

// Transfer processes a wallet-to-wallet transfer. A completed transfer is 201; a
// recorded failure carries the failed transaction alongside the error.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return validation.Errorf("body", "invalid JSON")
	}
	uid, _ := c.Locals("user_id").(string)
	key, _ := c.Locals("idempotency_key").(string)

	tx, err := h.service.Transfer(c.UserContext(), TransferInput{
		UserID:            uid,
		DestinationNumber: req.WalletNumber,
		Amount:            req.Amount,
		IdempotencyKey:    key,
		PIN:               req.PIN,
		Description:       req.Description,
	})
	if err != nil {
		if tx.ID != "" {
			return apierr.WriteWithTransaction(c, err, tx)
		}
		return err
	}
	return c.Status(http.StatusCreated).JSON(tx)
}
