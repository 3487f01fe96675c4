package identity

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_engine/internal/validation"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

type userResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FullName     string `json:"full_name,omitempty"`
	WalletNumber string `json:"wallet_number,omitempty"`
}

type registerResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        userResponse `json:"user"`
}

// Register signs a user in, creating the user and wallet on first use.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return validation.Errorf("body", "invalid JSON")
	}
	reg, err := h.service.Register(c.UserContext(), req.Email, req.FullName)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(registerResponse{
		AccessToken: reg.Token.AccessToken,
		TokenType:   reg.Token.TokenType,
		ExpiresIn:   reg.Token.ExpiresIn,
		User: userResponse{
			ID:           reg.User.ID,
			Email:        reg.User.Email,
			FullName:     reg.User.FullName,
			WalletNumber: reg.Wallet.Number,
		},
	})
}

// Me returns the authenticated user.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	user, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "user not found")
	}
	return c.JSON(userResponse{ID: user.ID, Email: user.Email, FullName: user.FullName})
}
