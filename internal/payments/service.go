package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/congo-pay/wallet_engine/internal/idempotency"
	"github.com/congo-pay/wallet_engine/internal/ledger"
	"github.com/congo-pay/wallet_engine/internal/metrics"
	"github.com/congo-pay/wallet_engine/internal/notification"
	"github.com/congo-pay/wallet_engine/internal/stepup"
	"github.com/congo-pay/wallet_engine/internal/validation"
)

const operation = "transfer"

// failure codes stored with a replayable outcome
var failures = map[string]error{
	"insufficient_funds":   ledger.ErrInsufficientFunds,
	"concurrency_conflict": ledger.ErrConcurrencyConflict,
}

func failureCode(err error) string {
	for code, target := range failures {
		if errors.Is(err, target) {
			return code
		}
	}
	return ""
}

// outcome is what a completed idempotency key replays.
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
	return o.Transaction, fmt.Errorf("transfer failed: %s", o.Failure)
}

// Service executes internal wallet-to-wallet transfers.
type Service struct {
	store    ledger.Store
	idem     idempotency.Controller
	pins     stepup.Verifier
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	attempts int
}

// NewService constructs a transfer orchestrator. attempts bounds optimistic retries.
func NewService(store ledger.Store, idem idempotency.Controller, pins stepup.Verifier, notifier notification.Notifier, m *metrics.Metrics, logger *slog.Logger, attempts int) *Service {
	if attempts <= 0 {
		attempts = ledger.DefaultAttempts
	}
	return &Service{store: store, idem: idem, pins: pins, notifier: notifier, metrics: m, logger: logger, attempts: attempts}
}

// TransferInput captures the data needed to move funds between wallets.
type TransferInput struct {
	UserID            string
	DestinationNumber string
	Amount            int64
	IdempotencyKey    string
	PIN               string
	Description       string
}

// Transfer moves Amount from the caller's wallet to the wallet numbered
// DestinationNumber. It returns the transaction in its terminal state; when the
// transaction failed, the error says why. A repeated key replays the first result.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (ledger.Transaction, error) {
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
	if tx.ID == "" || !tx.Status.Terminal() {
		// nothing final was recorded; the client may retry with the same key
		if relErr := s.idem.Release(context.WithoutCancel(ctx), key); relErr != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", relErr))
		}
		return tx, err
	}

	if cErr := idempotency.CompleteJSON(context.WithoutCancel(ctx), s.idem, key, outcome{Transaction: tx, Failure: failureOf(tx, err)}); cErr != nil {
		s.logger.Error("persist transfer outcome", slog.String("key", key), slog.Any("error", cErr))
	}
	return tx, err
}

func (s *Service) execute(ctx context.Context, key string, in TransferInput) (ledger.Transaction, error) {
	if err := s.pins.Verify(ctx, in.UserID, in.PIN); err != nil {
		return ledger.Transaction{}, err
	}
	if err := validation.Amount(in.Amount); err != nil {
		return ledger.Transaction{}, err
	}
	if err := validation.Required("wallet_number", in.DestinationNumber); err != nil {
		return ledger.Transaction{}, err
	}

	source, err := s.store.GetWalletByOwner(ctx, in.UserID)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("source wallet: %w", err)
	}
	dest, err := s.store.GetWalletByNumber(ctx, in.DestinationNumber)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("destination wallet: %w", err)
	}
	if source.ID == dest.ID {
		return ledger.Transaction{}, validation.Errorf("wallet_number", "cannot transfer to your own wallet")
	}
	if source.Currency != dest.Currency {
		return ledger.Transaction{}, validation.Errorf("wallet_number", "destination wallet holds %s, not %s", dest.Currency, source.Currency)
	}

	// the unique key in the ledger is the backstop when the reservation was lost
	tx, err := s.store.GetTransactionByKey(ctx, key)
	switch {
	case err == nil:
		if tx.Status.Terminal() {
			return tx, s.recordedFailure(tx)
		}
		if tx.SourceWalletID != source.ID || tx.DestinationWalletID != dest.ID || tx.Amount != in.Amount {
			return ledger.Transaction{}, validation.Errorf("idempotency_key", "key already used for a different transfer")
		}
	case errors.Is(err, ledger.ErrTransactionNotFound):
		tx = ledger.Transaction{
			ID:                  uuid.NewString(),
			Kind:                ledger.KindTransfer,
			Amount:              in.Amount,
			Currency:            source.Currency,
			Status:              ledger.StatusPending,
			IdempotencyKey:      key,
			SourceWalletID:      source.ID,
			DestinationWalletID: dest.ID,
			Metadata: map[string]any{
				"description":               in.Description,
				"source_wallet_number":      source.Number,
				"destination_wallet_number": dest.Number,
			},
		}
		if err := s.store.CreateTransaction(ctx, tx); err != nil {
			return ledger.Transaction{}, fmt.Errorf("create transfer: %w", err)
		}
	default:
		return ledger.Transaction{}, err
	}

	moved, err := s.move(ctx, tx)
	if err == nil {
		s.metrics.Transaction(string(ledger.KindTransfer), string(ledger.StatusCompleted))
		s.logger.Info("transfer completed", slog.String("transaction_id", tx.ID), slog.Int64("amount", tx.Amount))
		s.notify(ctx, source, dest, moved)
		return moved, nil
	}
	if !errors.Is(err, ledger.ErrInsufficientFunds) && !errors.Is(err, ledger.ErrConcurrencyConflict) {
		// unknown store failure: leave the transaction pending for a retry with this key
		return tx, err
	}

	failed, tErr := s.fail(ctx, tx, err)
	if tErr != nil {
		return tx, tErr
	}
	s.metrics.Transaction(string(ledger.KindTransfer), string(ledger.StatusFailed))
	s.logger.Info("transfer failed", slog.String("transaction_id", tx.ID), slog.String("reason", failureCode(err)))
	return failed, err
}

// move debits the source and credits the destination in one unit, retrying on
// version conflicts. Wallets are always mutated in ascending id order.
func (s *Service) move(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	var completed ledger.Transaction
	err := ledger.Retry(ctx, s.attempts, func(int) { s.metrics.OptimisticRetry(operation) }, func(ctx context.Context) error {
		source, err := s.store.GetWallet(ctx, tx.SourceWalletID)
		if err != nil {
			return err
		}
		dest, err := s.store.GetWallet(ctx, tx.DestinationWalletID)
		if err != nil {
			return err
		}
		if source.Balance < tx.Amount {
			return ledger.ErrInsufficientFunds
		}
		ordered := []ledger.Wallet{source, dest}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

		return s.store.Atomically(ctx, func(u ledger.Unit) error {
			for _, w := range ordered {
				var err error
				if w.ID == source.ID {
					_, err = u.Debit(ctx, w.ID, tx.ID, tx.Amount, w.Version)
				} else {
					_, err = u.Credit(ctx, w.ID, tx.ID, tx.Amount, w.Version)
				}
				if err != nil {
					return err
				}
			}
			var err error
			completed, err = u.Transition(ctx, tx.ID, ledger.StatusPending, ledger.StatusCompleted, nil)
			return err
		})
	})
	return completed, err
}

func (s *Service) fail(ctx context.Context, tx ledger.Transaction, cause error) (ledger.Transaction, error) {
	var failed ledger.Transaction
	err := s.store.Atomically(ctx, func(u ledger.Unit) error {
		var err error
		failed, err = u.Transition(ctx, tx.ID, ledger.StatusPending, ledger.StatusFailed, map[string]any{"reason": failureCode(cause)})
		return err
	})
	if errors.Is(err, ledger.ErrStatusConflict) {
		// finalized concurrently; report what was recorded
		current, getErr := s.store.GetTransaction(ctx, tx.ID)
		if getErr != nil {
			return ledger.Transaction{}, getErr
		}
		return current, nil
	}
	return failed, err
}

func (s *Service) recordedFailure(tx ledger.Transaction) error {
	_, err := outcome{Transaction: tx, Failure: failureOf(tx, nil)}.result()
	return err
}

// failureOf names why tx failed, preferring the error returned with it.
func failureOf(tx ledger.Transaction, err error) string {
	if code := failureCode(err); code != "" {
		return code
	}
	if tx.Status != ledger.StatusFailed {
		return ""
	}
	if reason, _ := tx.Metadata["reason"].(string); reason != "" {
		return reason
	}
	return "unknown"
}

func (s *Service) notify(ctx context.Context, source, dest ledger.Wallet, tx ledger.Transaction) {
	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:          notification.KindTransferSent,
		Destination:   source.OwnerID,
		Body:          fmt.Sprintf("You sent %d %s to wallet %s", tx.Amount, tx.Currency, dest.Number),
		TransactionID: tx.ID,
		Amount:        tx.Amount,
	})
	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:          notification.KindTransferReceived,
		Destination:   dest.OwnerID,
		Body:          fmt.Sprintf("You received %d %s from wallet %s", tx.Amount, tx.Currency, source.Number),
		TransactionID: tx.ID,
		Amount:        tx.Amount,
	})
}
