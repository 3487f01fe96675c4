package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/congo-pay/wallet_engine/internal/idempotency"
	"github.com/congo-pay/wallet_engine/internal/ledger"
	"github.com/congo-pay/wallet_engine/internal/metrics"
	"github.com/congo-pay/wallet_engine/internal/notification"
	"github.com/congo-pay/wallet_engine/internal/provider"
	"github.com/congo-pay/wallet_engine/internal/stepup"
	"github.com/congo-pay/wallet_engine/internal/validation"
)

const (
	operation       = "withdraw"
	referencePrefix = "wth-"

	reasonInsufficient = "insufficient_funds"
	reasonConflict     = "concurrency_conflict"
	reasonRejected     = "provider_rejected"
)

var failures = map[string]error{
	reasonInsufficient: ledger.ErrInsufficientFunds,
	reasonConflict:     ledger.ErrConcurrencyConflict,
	reasonRejected:     provider.ErrRejected,
}

// outcome is what a completed withdraw key replays.
type outcome struct {
	Transaction ledger.Transaction `json:"transaction"`
	Failure     string             `json:"failure,omitempty"`
}

func (o outcome) result() (ledger.Transaction, error) {
	if o.Failure == "" {
		return o.Transaction, nil
	}
	if err, ok := failures[o.Failure]; ok {
		return o.Transaction, err
	}
	return o.Transaction, fmt.Errorf("withdrawal failed: %s", o.Failure)
}

// Service runs withdrawals to external bank accounts as a saga: the wallet is
// debited before the provider is asked to pay out, and credited back if the payout
// definitively fails.
type Service struct {
	store    ledger.Store
	provider provider.Provider
	idem     idempotency.Controller
	pins     stepup.Verifier
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	attempts int
}

// NewService constructs the withdrawal orchestrator.
func NewService(store ledger.Store, prov provider.Provider, idem idempotency.Controller, pins stepup.Verifier, notifier notification.Notifier, m *metrics.Metrics, logger *slog.Logger, attempts int) *Service {
	if attempts <= 0 {
		attempts = ledger.DefaultAttempts
	}
	return &Service{
		store:    store,
		provider: prov,
		idem:     idem,
		pins:     pins,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		attempts: attempts,
	}
}

// WithdrawInput describes a payout request.
type WithdrawInput struct {
	UserID         string
	BankCode       string
	AccountNumber  string
	Amount         int64
	IdempotencyKey string
	PIN            string
}

// Withdraw debits the caller's wallet and asks the provider to pay the amount out.
// The returned transaction is processing when the provider accepted the payout,
// pending when the provider's answer was ambiguous, and failed when nothing was
// paid out. A repeated key replays the first result.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (ledger.Transaction, error) {
	if in.IdempotencyKey == "" {
		return ledger.Transaction{}, idempotency.ErrEmptyKey
	}
	key := idempotency.Key(operation, in.UserID, in.IdempotencyKey)

	res, err := s.idem.Reserve(ctx, key)
	if err != nil {
		s.metrics.Idempotency(operation, "in_progress")
		return ledger.Transaction{}, err
	}
	if res.State == idempotency.Completed {
		s.metrics.Idempotency(operation, "replayed")
		var out outcome
		if err := res.Decode(&out); err != nil {
			return ledger.Transaction{}, err
		}
		return out.result()
	}
	s.metrics.Idempotency(operation, "acquired")

	tx, err := s.execute(ctx, key, in)
	if tx.ID == "" {
		if relErr := s.idem.Release(context.WithoutCancel(ctx), key); relErr != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", relErr))
		}
		return tx, err
	}
	// once a withdrawal is recorded, the key must never start a second one
	if cErr := idempotency.CompleteJSON(context.WithoutCancel(ctx), s.idem, key, outcome{Transaction: tx, Failure: failureCode(err)}); cErr != nil {
		s.logger.Error("persist withdrawal outcome", slog.String("key", key), slog.Any("error", cErr))
	}
	return tx, err
}

func (s *Service) execute(ctx context.Context, key string, in WithdrawInput) (ledger.Transaction, error) {
	if err := s.pins.Verify(ctx, in.UserID, in.PIN); err != nil {
		return ledger.Transaction{}, err
	}
	if err := validation.Amount(in.Amount); err != nil {
		return ledger.Transaction{}, err
	}
	if err := validation.Required("bank_code", in.BankCode); err != nil {
		return ledger.Transaction{}, err
	}
	if err := validation.Digits("account_number", in.AccountNumber, 10, 10); err != nil {
		return ledger.Transaction{}, err
	}

	source, err := s.store.GetWalletByOwner(ctx, in.UserID)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("source wallet: %w", err)
	}

	// the reservation may have expired after an earlier attempt was recorded
	if existing, err := s.store.GetTransactionByKey(ctx, key); err == nil {
		return existing, recordedFailure(existing)
	} else if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return ledger.Transaction{}, err
	}

	account, err := s.Resolve(ctx, in.AccountNumber, in.BankCode)
	if err != nil {
		return ledger.Transaction{}, err
	}
	recipient, err := s.provider.CreateTransferRecipient(ctx, account, source.Currency)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("register recipient: %w", err)
	}

	tx := ledger.Transaction{
		ID:             uuid.NewString(),
		Kind:           ledger.KindWithdrawal,
		Amount:         in.Amount,
		Currency:       source.Currency,
		Status:         ledger.StatusPending,
		IdempotencyKey: key,
		SourceWalletID: source.ID,
		ExternalRef:    referencePrefix + uuid.NewString(),
		Metadata: map[string]any{
			"bank_code":      account.BankCode,
			"account_number": account.AccountNumber,
			"account_name":   account.AccountName,
			"recipient_code": recipient,
		},
	}

	if err := s.reserveFunds(ctx, tx); err != nil {
		if !errors.Is(err, ledger.ErrInsufficientFunds) && !errors.Is(err, ledger.ErrConcurrencyConflict) {
			return ledger.Transaction{}, err
		}
		// nothing was debited; keep a failed record for the audit trail
		tx.Status = ledger.StatusFailed
		tx.Metadata["reason"] = failureCode(err)
		if cErr := s.store.CreateTransaction(ctx, tx); cErr != nil {
			return ledger.Transaction{}, fmt.Errorf("record failed withdrawal: %w", cErr)
		}
		s.metrics.Transaction(string(ledger.KindWithdrawal), string(ledger.StatusFailed))
		return tx, err
	}
	s.logger.Info("withdrawal funds reserved", slog.String("transaction_id", tx.ID), slog.String("reference", tx.ExternalRef), slog.Int64("amount", tx.Amount))

	transfer, err := s.provider.InitiateTransfer(ctx, provider.TransferRequest{
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		RecipientCode: recipient,
		Reference:     tx.ExternalRef,
		Reason:        "Wallet withdrawal",
	})
	switch {
	case err == nil:
		return s.apply(ctx, tx, transfer)
	case errors.Is(err, provider.ErrRejected):
		failed, cErr := s.compensate(ctx, tx, reasonRejected)
		if cErr != nil {
			return tx, cErr
		}
		return failed, provider.ErrRejected
	default:
		// outcome unknown: funds stay reserved until the reconciler learns the answer
		s.logger.Warn("payout outcome unknown", slog.String("reference", tx.ExternalRef), slog.Any("error", err))
		return tx, nil
	}
}

// Resolve checks that a bank account exists. It moves no money.
func (s *Service) Resolve(ctx context.Context, accountNumber, bankCode string) (provider.Account, error) {
	if err := validation.Required("bank_code", bankCode); err != nil {
		return provider.Account{}, err
	}
	if err := validation.Digits("account_number", accountNumber, 10, 10); err != nil {
		return provider.Account{}, err
	}
	account, err := s.provider.ResolveAccount(ctx, accountNumber, bankCode)
	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, provider.ErrExternalService), errors.Is(err, provider.ErrAccountUnresolved):
		return provider.Account{}, err
	default:
		return provider.Account{}, fmt.Errorf("%w: %v", provider.ErrAccountUnresolved, err)
	}
}

// Banks lists the banks payouts can be sent to.
func (s *Service) Banks(ctx context.Context, currency string) ([]provider.Bank, error) {
	return s.provider.ListBanks(ctx, currency)
}

// reserveFunds debits the source wallet and records the pending withdrawal in one unit.
func (s *Service) reserveFunds(ctx context.Context, tx ledger.Transaction) error {
	return ledger.Retry(ctx, s.attempts, func(int) { s.metrics.OptimisticRetry(operation) }, func(ctx context.Context) error {
		w, err := s.store.GetWallet(ctx, tx.SourceWalletID)
		if err != nil {
			return err
		}
		if w.Balance < tx.Amount {
			return ledger.ErrInsufficientFunds
		}
		return s.store.Atomically(ctx, func(u ledger.Unit) error {
			if err := u.CreateTransaction(ctx, tx); err != nil {
				return err
			}
			_, err := u.Debit(ctx, w.ID, tx.ID, tx.Amount, w.Version)
			return err
		})
	})
}

// apply moves a withdrawal forward according to the provider's view of the payout.
func (s *Service) apply(ctx context.Context, tx ledger.Transaction, transfer provider.Transfer) (ledger.Transaction, error) {
	switch transfer.Status {
	case provider.TransferFailed, provider.TransferReversed:
		return s.compensate(ctx, tx, "provider_"+string(transfer.Status))
	case provider.TransferSuccess:
		if tx.Status == ledger.StatusPending {
			var err error
			if tx, err = s.transition(ctx, tx, ledger.StatusProcessing, transfer); err != nil {
				return tx, err
			}
		}
		done, err := s.transition(ctx, tx, ledger.StatusCompleted, transfer)
		if err == nil && done.Status == ledger.StatusCompleted {
			s.notify(ctx, done, notification.KindWithdrawalSettled, fmt.Sprintf("Your withdrawal of %d %s was paid out", done.Amount, done.Currency))
		}
		return done, err
	default:
		if tx.Status == ledger.StatusPending {
			return s.transition(ctx, tx, ledger.StatusProcessing, transfer)
		}
		return tx, nil
	}
}

func (s *Service) transition(ctx context.Context, tx ledger.Transaction, to ledger.Status, transfer provider.Transfer) (ledger.Transaction, error) {
	meta := map[string]any{"provider_status": string(transfer.Status)}
	if transfer.TransferCode != "" {
		meta["transfer_code"] = transfer.TransferCode
	}
	var next ledger.Transaction
	err := s.store.Atomically(ctx, func(u ledger.Unit) error {
		var err error
		next, err = u.Transition(ctx, tx.ID, tx.Status, to, meta)
		return err
	})
	if errors.Is(err, ledger.ErrStatusConflict) {
		return s.store.GetTransaction(ctx, tx.ID)
	}
	if err != nil {
		return tx, err
	}
	s.metrics.Transaction(string(ledger.KindWithdrawal), string(to))
	s.logger.Info("withdrawal advanced", slog.String("reference", tx.ExternalRef), slog.String("status", string(to)))
	return next, nil
}

// compensate credits the reserved amount back and finalizes the withdrawal: a
// pending one becomes failed, a processing one reversed. The status transition and
// the credit commit together, so a withdrawal is refunded at most once.
func (s *Service) compensate(ctx context.Context, tx ledger.Transaction, reason string) (ledger.Transaction, error) {
	to := ledger.StatusFailed
	if tx.Status == ledger.StatusProcessing {
		to = ledger.StatusReversed
	}

	var refunded ledger.Transaction
	err := ledger.Retry(ctx, s.attempts, func(int) { s.metrics.OptimisticRetry("compensate") }, func(ctx context.Context) error {
		w, err := s.store.GetWallet(ctx, tx.SourceWalletID)
		if err != nil {
			return err
		}
		return s.store.Atomically(ctx, func(u ledger.Unit) error {
			var err error
			refunded, err = u.Transition(ctx, tx.ID, tx.Status, to, map[string]any{"reason": reason, "compensated": true})
			if err != nil {
				return err
			}
			_, err = u.Credit(ctx, w.ID, tx.ID, tx.Amount, w.Version)
			return err
		})
	})
	if errors.Is(err, ledger.ErrStatusConflict) {
		return s.store.GetTransaction(ctx, tx.ID)
	}
	if err != nil {
		s.logger.Error("withdrawal compensation failed", slog.String("reference", tx.ExternalRef), slog.Any("error", err))
		return tx, err
	}

	s.metrics.Transaction(string(ledger.KindWithdrawal), string(to))
	s.logger.Info("withdrawal compensated", slog.String("reference", tx.ExternalRef), slog.String("status", string(to)), slog.String("reason", reason))
	s.notify(ctx, refunded, notification.KindWithdrawalRefund, fmt.Sprintf("Your withdrawal of %d %s failed and was refunded", refunded.Amount, refunded.Currency))
	return refunded, nil
}

func (s *Service) notify(ctx context.Context, tx ledger.Transaction, kind, body string) {
	w, err := s.store.GetWallet(ctx, tx.SourceWalletID)
	if err != nil {
		return
	}
	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:          kind,
		Destination:   w.OwnerID,
		Body:          body,
		TransactionID: tx.ID,
		Amount:        tx.Amount,
	})
}

func failureCode(err error) string {
	for code, target := range failures {
		if errors.Is(err, target) {
			return code
		}
	}
	return ""
}

func recordedFailure(tx ledger.Transaction) error {
	if tx.Status != ledger.StatusFailed {
		return nil
	}
	reason, _ := tx.Metadata["reason"].(string)
	return failures[reason]
}
