package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/wallet_engine/internal/auth"
	"github.com/congo-pay/wallet_engine/internal/ledger"
	"github.com/congo-pay/wallet_engine/internal/validation"
	"github.com/congo-pay/wallet_engine/internal/wallet"
)

// Service manages the user lifecycle. Every user owns exactly one wallet.
type Service struct {
	repo    Repository
	wallets *wallet.Service
	issuer  *auth.Issuer
	logger  *slog.Logger
}

// NewService creates a new identity service.
func NewService(repo Repository, wallets *wallet.Service, issuer *auth.Issuer, logger *slog.Logger) *Service {
	return &Service{repo: repo, wallets: wallets, issuer: issuer, logger: logger}
}

// Registration is the result of signing a user in.
type Registration struct {
	User   User
	Wallet ledger.Wallet
	Token  auth.Token
}

// Register finds the user by email or creates one, makes sure the wallet exists
// and issues an access token. Calling it again for the same email is a sign-in.
func (s *Service) Register(ctx context.Context, email, fullName string) (Registration, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return Registration{}, validation.Errorf("email", "must be a valid address")
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		user = User{
			ID:        uuid.NewString(),
			Email:     email,
			FullName:  strings.TrimSpace(fullName),
			CreatedAt: time.Now().UTC(),
		}
		err = s.repo.Create(ctx, user)
		if errors.Is(err, ErrUserExists) {
			user, err = s.repo.FindByEmail(ctx, email)
		} else if err == nil {
			s.logger.Info("user registered", slog.String("user_id", user.ID))
		}
	}
	if err != nil {
		return Registration{}, err
	}

	w, err := s.wallets.Provision(ctx, user.ID)
	if err != nil {
		return Registration{}, err
	}
	token, err := s.issuer.Issue(user.ID, user.Email)
	if err != nil {
		return Registration{}, err
	}
	return Registration{User: user, Wallet: w, Token: token}, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// Email returns the contact address of a user.
func (s *Service) Email(ctx context.Context, userID string) (string, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}
