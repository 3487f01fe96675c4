package funding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/congo-pay/wallet_engine/internal/idempotency"
	"github.com/congo-pay/wallet_engine/internal/ledger"
	"github.com/congo-pay/wallet_engine/internal/metrics"
	"github.com/congo-pay/wallet_engine/internal/notification"
	"github.com/congo-pay/wallet_engine/internal/provider"
	"github.com/congo-pay/wallet_engine/internal/validation"
)

const (
	eventChargeSuccess = "charge.success"
	transferEventType  = "transfer."
)

// Webhook outcomes. Every one of them is acknowledged to the provider.
const (
	OutcomeCredited         = "credited"
	OutcomeDuplicate        = "duplicate"
	OutcomeIgnored          = "ignored"
	OutcomeUnknownReference = "unknown_reference"
	OutcomeAlreadyFinal     = "already_final"
	OutcomeAmountMismatch   = "amount_mismatch"
	OutcomeReconciled       = "reconciled"
	OutcomeNeedsReview      = "needs_review"
)

// Directory resolves the contact email the provider checkout needs.
type Directory interface {
	Email(ctx context.Context, userID string) (string, error)
}

// PayoutPoller re-checks a payout with the provider.
type PayoutPoller interface {
	ReconcileReference(ctx context.Context, reference string) error
}

// Config tunes the deposit flow.
type Config struct {
	WebhookSecret string
	CallbackURL   string
	Attempts      int
}

// Service initiates provider deposits and credits wallets from signed webhooks.
type Service struct {
	store     ledger.Store
	provider  provider.Provider
	idem      idempotency.Controller
	directory Directory
	notifier  notification.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config
	payouts   PayoutPoller
}

// NewService constructs the deposit reconciler.
func NewService(store ledger.Store, prov provider.Provider, idem idempotency.Controller, directory Directory, notifier notification.Notifier, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Service {
	if cfg.Attempts <= 0 {
		cfg.Attempts = ledger.DefaultAttempts
	}
	return &Service{
		store:     store,
		provider:  prov,
		idem:      idem,
		directory: directory,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

// WithPayoutPoller routes transfer events to the payout reconciler.
func (s *Service) WithPayoutPoller(p PayoutPoller) {
	s.payouts = p
}

// Checkout is the result of starting a deposit.
type Checkout struct {
	Reference        string
	AuthorizationURL string
	Transaction      ledger.Transaction
}

// InitializeDeposit opens a provider checkout for amount and records a pending
// deposit keyed by the checkout reference. Nothing is credited here.
func (s *Service) InitializeDeposit(ctx context.Context, userID string, amount int64) (Checkout, error) {
	if err := validation.Amount(amount); err != nil {
		return Checkout{}, err
	}
	w, err := s.store.GetWalletByOwner(ctx, userID)
	if err != nil {
		return Checkout{}, err
	}
	email, err := s.directory.Email(ctx, userID)
	if err != nil {
		return Checkout{}, fmt.Errorf("resolve email: %w", err)
	}

	reference := uuid.NewString()
	checkout, err := s.provider.InitializeTransaction(ctx, provider.InitializeRequest{
		Email:       email,
		Amount:      amount,
		Currency:    w.Currency,
		Reference:   reference,
		CallbackURL: s.cfg.CallbackURL,
	})
	if err != nil {
		return Checkout{}, err
	}

	tx := ledger.Transaction{
		ID:                  uuid.NewString(),
		Kind:                ledger.KindDeposit,
		Amount:              amount,
		Currency:            w.Currency,
		Status:              ledger.StatusPending,
		IdempotencyKey:      idempotency.Key("deposit", reference),
		DestinationWalletID: w.ID,
		ExternalRef:         reference,
		Metadata:            map[string]any{"access_code": checkout.AccessCode},
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return Checkout{}, fmt.Errorf("record deposit: %w", err)
	}
	s.metrics.Transaction(string(ledger.KindDeposit), string(ledger.StatusPending))
	s.logger.Info("deposit initialized", slog.String("reference", reference), slog.Int64("amount", amount))
	return Checkout{Reference: reference, AuthorizationURL: checkout.AuthorizationURL, Transaction: tx}, nil
}

// HandleWebhook verifies and applies one provider event. It returns the outcome to
// acknowledge with; an error means the event stays unprocessed so a provider retry
// can complete it.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (string, error) {
	if !provider.VerifySignature(s.cfg.WebhookSecret, body, signature) {
		s.metrics.Webhook("signature_invalid")
		s.logger.Warn("webhook signature rejected", slog.Int("bytes", len(body)))
		return "", provider.ErrSignatureInvalid
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", validation.Errorf("body", "invalid JSON")
	}
	eventID := eventIdentity(payload)
	if eventID == "" {
		return "", validation.Errorf("data.reference", "event has no identity")
	}

	evt, err := s.store.RecordWebhookEvent(ctx, ledger.WebhookEvent{
		EventID:        eventID,
		Type:           payload.Event,
		SignatureValid: true,
		Status:         ledger.EventUnprocessed,
	})
	if err != nil {
		return "", fmt.Errorf("record webhook event: %w", err)
	}
	if evt.Status != ledger.EventUnprocessed {
		s.metrics.Webhook(OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}

	key := idempotency.Key("webhook", eventID)
	res, err := s.idem.Reserve(ctx, key)
	if err != nil {
		s.metrics.Webhook("in_progress")
		return "", err
	}
	if res.State == idempotency.Completed {
		s.metrics.Webhook(OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}

	outcome, err := s.apply(ctx, eventID, payload)
	if err != nil {
		if relErr := s.idem.Release(context.WithoutCancel(ctx), key); relErr != nil {
			s.logger.Warn("release webhook key", slog.String("event_id", eventID), slog.Any("error", relErr))
		}
		s.metrics.Webhook("error")
		s.logger.Error("webhook processing failed", slog.String("event_id", eventID), slog.Any("error", err))
		return "", err
	}
	if err := s.idem.Complete(context.WithoutCancel(ctx), key, []byte(outcome)); err != nil {
		s.logger.Warn("complete webhook key", slog.String("event_id", eventID), slog.Any("error", err))
	}
	s.metrics.Webhook(outcome)
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, eventID string, payload webhookPayload) (string, error) {
	switch {
	case payload.Event == eventChargeSuccess:
		return s.applyCharge(ctx, eventID, payload)
	case strings.HasPrefix(payload.Event, transferEventType) && s.payouts != nil:
		// the payload is only a hint; the payout reconciler asks the provider
		if err := s.payouts.ReconcileReference(ctx, payload.Data.Reference); err != nil {
			s.logger.Warn("payout reconcile deferred to poller", slog.String("reference", payload.Data.Reference), slog.Any("error", err))
		}
		return OutcomeReconciled, s.closeEvent(ctx, eventID, ledger.EventCompleted)
	default:
		s.logger.Info("webhook event not monitored", slog.String("event", payload.Event))
		return OutcomeIgnored, s.closeEvent(ctx, eventID, ledger.EventIgnored)
	}
}

func (s *Service) applyCharge(ctx context.Context, eventID string, payload webhookPayload) (string, error) {
	ref := payload.Data.Reference
	tx, err := s.store.GetTransactionByExternalRef(ctx, ref)
	if errors.Is(err, ledger.ErrTransactionNotFound) || (err == nil && tx.Kind != ledger.KindDeposit) {
		s.logger.Warn("webhook for unknown deposit", slog.String("reference", ref), slog.String("event_id", eventID))
		return OutcomeUnknownReference, s.closeEvent(ctx, eventID, ledger.EventCompleted)
	}
	if err != nil {
		return "", err
	}
	if tx.Status == ledger.StatusFailed {
		return s.flagForReview(ctx, eventID, tx, payload)
	}
	if tx.Status.Terminal() {
		s.logger.Info("deposit already final", slog.String("reference", ref), slog.String("status", string(tx.Status)))
		return OutcomeAlreadyFinal, s.closeEvent(ctx, eventID, ledger.EventCompleted)
	}

	if payload.Data.Amount != tx.Amount || !strings.EqualFold(payload.Data.Currency, tx.Currency) {
		s.logger.Warn("deposit amount mismatch",
			slog.String("reference", ref),
			slog.Int64("expected", tx.Amount),
			slog.Int64("paid", payload.Data.Amount),
			slog.String("currency", payload.Data.Currency),
		)
		err := s.store.Atomically(ctx, func(u ledger.Unit) error {
			if _, err := u.Transition(ctx, tx.ID, ledger.StatusPending, ledger.StatusFailed, map[string]any{
				"reason":        OutcomeAmountMismatch,
				"paid_amount":   payload.Data.Amount,
				"paid_currency": payload.Data.Currency,
			}); err != nil {
				return err
			}
			return u.CompleteWebhookEvent(ctx, eventID, ledger.EventCompleted)
		})
		if errors.Is(err, ledger.ErrStatusConflict) {
			return OutcomeAlreadyFinal, s.closeEvent(ctx, eventID, ledger.EventCompleted)
		}
		if err != nil {
			return "", err
		}
		s.metrics.Transaction(string(ledger.KindDeposit), string(ledger.StatusFailed))
		return OutcomeAmountMismatch, nil
	}

	var credited ledger.Transaction
	err = ledger.Retry(ctx, s.cfg.Attempts, func(int) { s.metrics.OptimisticRetry("deposit") }, func(ctx context.Context) error {
		w, err := s.store.GetWallet(ctx, tx.DestinationWalletID)
		if err != nil {
			return err
		}
		return s.store.Atomically(ctx, func(u ledger.Unit) error {
			if _, err := u.Credit(ctx, w.ID, tx.ID, tx.Amount, w.Version); err != nil {
				return err
			}
			var err error
			credited, err = u.Transition(ctx, tx.ID, ledger.StatusPending, ledger.StatusCompleted, map[string]any{"provider_event_id": eventID})
			if err != nil {
				return err
			}
			return u.CompleteWebhookEvent(ctx, eventID, ledger.EventCompleted)
		})
	})
	if errors.Is(err, ledger.ErrStatusConflict) {
		// another event for this reference finalized the deposit first
		return OutcomeAlreadyFinal, s.closeEvent(ctx, eventID, ledger.EventCompleted)
	}
	if err != nil {
		return "", err
	}

	s.metrics.Transaction(string(ledger.KindDeposit), string(ledger.StatusCompleted))
	s.logger.Info("deposit credited", slog.String("reference", ref), slog.String("transaction_id", tx.ID), slog.Int64("amount", tx.Amount))
	if w, err := s.store.GetWallet(ctx, credited.DestinationWalletID); err == nil {
		notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
			Kind:          notification.KindDepositCredited,
			Destination:   w.OwnerID,
			Body:          fmt.Sprintf("Your wallet was credited with %d %s", credited.Amount, credited.Currency),
			TransactionID: credited.ID,
			Amount:        credited.Amount,
		})
	}
	return OutcomeCredited, nil
}

// flagForReview records a captured charge for a deposit that was already failed.
// Nothing is credited automatically; an operator settles it.
func (s *Service) flagForReview(ctx context.Context, eventID string, tx ledger.Transaction, payload webhookPayload) (string, error) {
	s.logger.Error("charge captured for failed deposit",
		slog.String("reference", tx.ExternalRef),
		slog.String("transaction_id", tx.ID),
		slog.Int64("paid", payload.Data.Amount),
		slog.String("currency", payload.Data.Currency),
	)
	err := s.store.Atomically(ctx, func(u ledger.Unit) error {
		if _, err := u.Annotate(ctx, tx.ID, map[string]any{
			"review_required":   true,
			"review_reason":     "charge_captured_after_failure",
			"review_event_id":   eventID,
			"captured_amount":   payload.Data.Amount,
			"captured_currency": payload.Data.Currency,
		}); err != nil {
			return err
		}
		return u.CompleteWebhookEvent(ctx, eventID, ledger.EventCompleted)
	})
	if err != nil {
		return "", err
	}
	return OutcomeNeedsReview, nil
}

func (s *Service) closeEvent(ctx context.Context, eventID string, status ledger.EventStatus) error {
	return s.store.Atomically(ctx, func(u ledger.Unit) error {
		return u.CompleteWebhookEvent(ctx, eventID, status)
	})
}

// Status reports a deposit owned by userID. A pending deposit is checked with the
// provider; a failed charge marks it failed, a successful one is left for the
// webhook to credit.
func (s *Service) Status(ctx context.Context, userID, reference string) (StatusResponse, error) {
	tx, err := s.store.GetTransactionByExternalRef(ctx, reference)
	if err != nil {
		return StatusResponse{}, err
	}
	w, err := s.store.GetWalletByOwner(ctx, userID)
	if err != nil {
		return StatusResponse{}, err
	}
	if tx.Kind != ledger.KindDeposit || tx.DestinationWalletID != w.ID {
		return StatusResponse{}, ledger.ErrTransactionNotFound
	}

	resp := StatusResponse{Reference: reference, Status: string(tx.Status), Amount: tx.Amount}
	if tx.Status != ledger.StatusPending {
		return resp, nil
	}

	charge, err := s.provider.VerifyTransaction(ctx, reference)
	if err != nil {
		s.logger.Warn("deposit verification failed", slog.String("reference", reference), slog.Any("error", err))
		return resp, nil
	}
	switch {
	case charge.Status.Failed():
		var failed ledger.Transaction
		err := s.store.Atomically(ctx, func(u ledger.Unit) error {
			var err error
			failed, err = u.Transition(ctx, tx.ID, ledger.StatusPending, ledger.StatusFailed, map[string]any{"reason": "provider_" + string(charge.Status)})
			return err
		})
		if errors.Is(err, ledger.ErrStatusConflict) {
			current, getErr := s.store.GetTransaction(ctx, tx.ID)
			if getErr != nil {
				return StatusResponse{}, getErr
			}
			resp.Status = string(current.Status)
			return resp, nil
		}
		if err != nil {
			return StatusResponse{}, err
		}
		s.metrics.Transaction(string(ledger.KindDeposit), string(ledger.StatusFailed))
		resp.Status = string(failed.Status)
	case charge.Status == provider.ChargeSuccess:
		resp.Note = "payment confirmed, the wallet is credited when the provider notification arrives"
	case charge.Status == provider.ChargeAbandoned:
		resp.Note = "checkout not completed yet, the deposit stays open"
	}
	return resp, nil
}

// eventIdentity derives the dedupe id of a provider event.
func eventIdentity(p webhookPayload) string {
	if p.Event == "" {
		return ""
	}
	if p.Data.ID != 0 {
		return p.Event + ":" + strconv.FormatInt(p.Data.ID, 10)
	}
	if p.Data.Reference != "" {
		return p.Event + ":" + p.Data.Reference
	}
	return ""
}
