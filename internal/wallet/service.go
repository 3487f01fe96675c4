package wallet

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/wallet_engine/internal/ledger"
)

const (
	provisionAttempts = 5
	defaultCurrency   = "NGN"
)

// Service exposes read-side wallet operations and provisioning. Balance mutation
// only happens through the orchestrators.
type Service struct {
	store    ledger.Store
	currency string
	logger   *slog.Logger
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, currency string, logger *slog.Logger) *Service {
	if currency == "" {
		currency = defaultCurrency
	}
	return &Service{store: store, currency: currency, logger: logger}
}

// Provision creates the owner's wallet, or returns the existing one. Wallet numbers
// are random 10-digit strings; a collision is retried.
func (s *Service) Provision(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	if existing, err := s.store.GetWalletByOwner(ctx, ownerID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ledger.ErrWalletNotFound) {
		return ledger.Wallet{}, err
	}

	for attempt := 0; attempt < provisionAttempts; attempt++ {
		number, err := newWalletNumber()
		if err != nil {
			return ledger.Wallet{}, err
		}
		w := ledger.Wallet{
			ID:        uuid.NewString(),
			Number:    number,
			OwnerID:   ownerID,
			Currency:  s.currency,
			CreatedAt: time.Now().UTC(),
		}
		err = s.store.CreateWallet(ctx, w)
		if err == nil {
			s.logger.Info("wallet provisioned", slog.String("owner_id", ownerID), slog.String("wallet_id", w.ID))
			return s.store.GetWallet(ctx, w.ID)
		}
		if !errors.Is(err, ledger.ErrWalletExists) {
			return ledger.Wallet{}, err
		}
		// either the number collided or a concurrent call provisioned this owner
		if existing, lookupErr := s.store.GetWalletByOwner(ctx, ownerID); lookupErr == nil {
			return existing, nil
		}
	}
	return ledger.Wallet{}, fmt.Errorf("could not allocate a unique wallet number after %d attempts", provisionAttempts)
}

// ForOwner returns the wallet owned by the user.
func (s *Service) ForOwner(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	return s.store.GetWalletByOwner(ctx, ownerID)
}

// Balance returns the owner's current balance.
func (s *Service) Balance(ctx context.Context, ownerID string) (Balance, error) {
	w, err := s.store.GetWalletByOwner(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletNumber: w.Number, Balance: w.Balance, Currency: w.Currency, AsOf: time.Now().UTC()}, nil
}

// Transactions lists the owner's history newest first. limit and offset are
// expected to be validated already.
func (s *Service) Transactions(ctx context.Context, ownerID string, limit, offset int) (Page, error) {
	w, err := s.store.GetWalletByOwner(ctx, ownerID)
	if err != nil {
		return Page{}, err
	}
	txs, err := s.store.ListTransactions(ctx, w.ID, limit, offset)
	if err != nil {
		return Page{}, err
	}
	items := make([]TransactionView, 0, len(txs))
	for _, tx := range txs {
		items = append(items, view(w.ID, tx))
	}
	return Page{Items: items, Limit: limit, Offset: offset}, nil
}

func view(walletID string, tx ledger.Transaction) TransactionView {
	direction := "credit"
	if tx.SourceWalletID == walletID {
		direction = "debit"
	}
	return TransactionView{
		ID:        tx.ID,
		Kind:      string(tx.Kind),
		Direction: direction,
		Amount:    tx.Amount,
		Currency:  tx.Currency,
		Status:    string(tx.Status),
		Reference: tx.ExternalRef,
		Metadata:  tx.Metadata,
		CreatedAt: tx.CreatedAt,
		UpdatedAt: tx.UpdatedAt,
	}
}

func newWalletNumber() (string, error) {
	max := big.NewInt(9_000_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate wallet number: %w", err)
	}
	// first digit is never zero
	return n.Add(n, big.NewInt(1_000_000_000)).String(), nil
}
