package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientFunds occurs when the source wallet lacks available balance
	// to cover a requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrVersionConflict indicates the wallet version moved between read and write.
	ErrVersionConflict = errors.New("wallet version conflict")

	// ErrConcurrencyConflict is returned once the bounded optimistic retry is exhausted.
	// Callers may retry the whole request later.
	ErrConcurrencyConflict = errors.New("concurrency conflict, retry later")

	// ErrDuplicateTransaction indicates the idempotency key is already bound to a transaction.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletExists        = errors.New("wallet already exists")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrStatusConflict means the transaction was no longer in the expected status when
	// a transition was attempted, usually because a concurrent worker finalized it.
	ErrStatusConflict = errors.New("transaction status changed concurrently")

	// ErrInvalidTransition rejects transitions outside the per-kind state machine.
	ErrInvalidTransition = errors.New("invalid transaction status transition")
)

// Kind classifies a money movement.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindTransfer   Kind = "transfer"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusReversed   Status = "reversed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusReversed:
		return true
	default:
		return false
	}
}

// EventStatus tracks webhook processing.
type EventStatus string

const (
	EventUnprocessed EventStatus = "unprocessed"
	EventCompleted   EventStatus = "completed"
	EventIgnored     EventStatus = "ignored"
)

// Wallet is a custodial, single-currency account. Balance is in minor units.
type Wallet struct {
	ID        string    `json:"id"`
	Number    string    `json:"wallet_number"`
	OwnerID   string    `json:"owner_id"`
	Currency  string    `json:"currency"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is an append-only record of a money movement.
type Transaction struct {
	ID                  string         `json:"id"`
	Kind                Kind           `json:"kind"`
	Amount              int64          `json:"amount"`
	Currency            string         `json:"currency"`
	Status              Status         `json:"status"`
	IdempotencyKey      string         `json:"idempotency_key"`
	SourceWalletID      string         `json:"source_wallet_id,omitempty"`
	DestinationWalletID string         `json:"destination_wallet_id,omitempty"`
	ExternalRef         string         `json:"external_ref,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Entry is one signed balance change tied to a transaction.
type Entry struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	WalletID      string    `json:"wallet_id"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

// WebhookEvent is the dedupe record for a provider event.
type WebhookEvent struct {
	EventID        string      `json:"event_id"`
	Type           string      `json:"type"`
	SignatureValid bool        `json:"signature_valid"`
	Status         EventStatus `json:"status"`
	ReceivedAt     time.Time   `json:"received_at"`
	ProcessedAt    *time.Time  `json:"processed_at,omitempty"`
}

// Unit is a set of mutations applied atomically. Either every call made through a
// Unit is committed, or none is.
type Unit interface {
	// Debit subtracts amount from the wallet if its version still equals expectedVersion,
	// records a negative entry for txID and increments the version.
	Debit(ctx context.Context, walletID, txID string, amount, expectedVersion int64) (Wallet, error)
	// Credit adds amount under the same compare-and-swap rule.
	Credit(ctx context.Context, walletID, txID string, amount, expectedVersion int64) (Wallet, error)
	CreateTransaction(ctx context.Context, tx Transaction) error
	// Transition moves a transaction from one status to another, merging metadata.
	Transition(ctx context.Context, txID string, from, to Status, metadata map[string]any) (Transaction, error)
	// Annotate merges metadata into a transaction without changing its status.
	Annotate(ctx context.Context, txID string, metadata map[string]any) (Transaction, error)
	CompleteWebhookEvent(ctx context.Context, eventID string, status EventStatus) error
}

// Store is the durable source of truth for wallets and transactions.
type Store interface {
	CreateWallet(ctx context.Context, w Wallet) error
	GetWallet(ctx context.Context, id string) (Wallet, error)
	GetWalletByOwner(ctx context.Context, ownerID string) (Wallet, error)
	GetWalletByNumber(ctx context.Context, number string) (Wallet, error)
	ReadBalance(ctx context.Context, walletID string) (int64, error)

	CreateTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	GetTransactionByKey(ctx context.Context, key string) (Transaction, error)
	GetTransactionByExternalRef(ctx context.Context, ref string) (Transaction, error)
	ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]Transaction, error)
	ListTransactionsByStatus(ctx context.Context, kind Kind, statuses []Status, updatedBefore time.Time, limit int) ([]Transaction, error)
	Entries(ctx context.Context, txID string) ([]Entry, error)

	// RecordWebhookEvent inserts the event as unprocessed unless it already exists, and
	// returns the stored record either way.
	RecordWebhookEvent(ctx context.Context, evt WebhookEvent) (WebhookEvent, error)
	GetWebhookEvent(ctx context.Context, eventID string) (WebhookEvent, error)

	// Atomically runs fn inside one unit of work.
	Atomically(ctx context.Context, fn func(u Unit) error) error
}
