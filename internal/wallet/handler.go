package wallet

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/validation"
)

// PinSetter stores a user's first transaction PIN.
type PinSetter interface {
	SetPin(ctx context.Context, userID, pin string) error
}

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service     *Service
	pins        PinSetter
	maxPageSize int
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, pins PinSetter, maxPageSize int) *Handler {
	if maxPageSize <= 0 {
		maxPageSize = 100
	}
	return &Handler{service: service, pins: pins, maxPageSize: maxPageSize}
}

type setPinRequest struct {
	PIN string `json:"pin"`
}

func currentUser(c *fiber.Ctx) (string, error) {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "missing authenticated user")
	}
	return uid, nil
}

// Balance returns the caller's wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	balance, err := h.service.Balance(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(balance)
}

// Transactions returns a page of the caller's history.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	limit, offset, err := validation.Page(c.Query("limit"), c.Query("offset"), h.maxPageSize)
	if err != nil {
		return err
	}
	page, err := h.service.Transactions(c.UserContext(), uid, limit, offset)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(page)
}

// SetPin stores the caller's transaction PIN once.
func (h *Handler) SetPin(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req setPinRequest
	if err := c.BodyParser(&req); err != nil {
		return validation.Errorf("body", "invalid JSON")
	}
	if err := h.pins.SetPin(c.UserContext(), uid, req.PIN); err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"message": "transaction pin set"})
}
