package payout

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/apierr"
	"github.com/congo-pay/wallet_engine/internal/ledger"
	"github.com/congo-pay/wallet_engine/internal/provider"
	"github.com/congo-pay/wallet_engine/internal/validation"
)

// Handler exposes withdrawal and bank directory endpoints.
type Handler struct {
	service  *Service
	currency string
}

// NewHandler constructs a payout handler. currency selects the bank list.
func NewHandler(service *Service, currency string) *Handler {
	return &Handler{service: service, currency: currency}
}

type withdrawRequest struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	Amount        int64  `json:"amount"`
	PIN           string `json:"pin"`
}

// Withdraw starts a payout. Accepted and ambiguous payouts answer 202 since the
// final outcome arrives later.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req withdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return validation.Errorf("body", "invalid JSON")
	}
	uid, _ := c.Locals("user_id").(string)
	key, _ := c.Locals("idempotency_key").(string)

	tx, err := h.service.Withdraw(c.UserContext(), WithdrawInput{
		UserID:         uid,
		BankCode:       req.BankCode,
		AccountNumber:  req.AccountNumber,
		Amount:         req.Amount,
		IdempotencyKey: key,
		PIN:            req.PIN,
	})
	if err != nil {
		if tx.ID == "" {
			return err
		}
		if errors.Is(err, provider.ErrRejected) {
			err = &apierr.Error{Status: http.StatusUnprocessableEntity, Code: "payout_rejected", Message: err.Error()}
		}
		return apierr.WriteWithTransaction(c, err, tx)
	}

	status := http.StatusAccepted
	if tx.Status == ledger.StatusCompleted {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(tx)
}

// Banks lists payout banks.
func (h *Handler) Banks(c *fiber.Ctx) error {
	banks, err := h.service.Banks(c.UserContext(), h.currency)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"banks": banks})
}

// Resolve looks up the holder of a bank account.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	account, err := h.service.Resolve(c.UserContext(), c.Query("account_number"), c.Query("bank_code"))
	if err != nil {
		return err
	}
	return c.JSON(account)
}
