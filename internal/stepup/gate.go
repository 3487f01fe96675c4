package stepup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/wallet_engine/internal/validation"
)

var (
	ErrPinNotSet     = errors.New("transaction pin not set")
	ErrIncorrectPin  = errors.New("incorrect transaction pin")
	ErrPinAlreadySet = errors.New("transaction pin already set")
)

// Verifier is what debiting operations depend on.
type Verifier interface {
	Verify(ctx context.Context, userID, pin string) error
}

// Gate checks the step-up PIN before any debit. It never logs or returns the raw PIN.
type Gate struct {
	repo   Repository
	params Params
	logger *slog.Logger
	now    func() time.Time
}

func NewGate(repo Repository, params Params, logger *slog.Logger) *Gate {
	if params.KeyLength == 0 {
		params = DefaultParams
	}
	return &Gate{repo: repo, params: params, logger: logger, now: time.Now}
}

// SetPin stores the user's first PIN. Changing an existing PIN is a separate operation.
func (g *Gate) SetPin(ctx context.Context, userID, pin string) error {
	if err := validation.PIN(pin); err != nil {
		return err
	}
	if _, err := g.repo.Find(ctx, userID); err == nil {
		return ErrPinAlreadySet
	} else if !errors.Is(err, ErrPinNotSet) {
		return fmt.Errorf("lookup pin credential: %w", err)
	}

	encoded, err := hashPIN(pin, g.params)
	if err != nil {
		return err
	}
	if err := g.repo.Create(ctx, Credential{UserID: userID, Hash: encoded, CreatedAt: g.now().UTC()}); err != nil {
		if errors.Is(err, ErrPinAlreadySet) {
			return err
		}
		return fmt.Errorf("store pin credential: %w", err)
	}
	g.logger.Info("transaction pin set", slog.String("user_id", userID))
	return nil
}

// Verify returns nil, ErrPinNotSet or ErrIncorrectPin. A malformed supplied PIN is
// reported as incorrect so the format gives nothing away.
func (g *Gate) Verify(ctx context.Context, userID, pin string) error {
	cred, err := g.repo.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrPinNotSet) {
			return ErrPinNotSet
		}
		return fmt.Errorf("lookup pin credential: %w", err)
	}
	if validation.PIN(pin) != nil {
		return ErrIncorrectPin
	}
	ok, err := comparePIN(pin, cred.Hash)
	if err != nil {
		g.logger.Error("stored pin hash unreadable", slog.String("user_id", userID), slog.Any("error", err))
		return fmt.Errorf("verify pin: %w", err)
	}
	if !ok {
		g.logger.Warn("incorrect transaction pin", slog.String("user_id", userID))
		return ErrIncorrectPin
	}
	return nil
}
