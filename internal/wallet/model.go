package wallet

import "time"

// Balance is the caller-facing view of a wallet's funds.
type Balance struct {
	WalletNumber string    `json:"wallet_number"`
	Balance      int64     `json:"balance"`
	Currency     string    `json:"currency"`
	AsOf         time.Time `json:"as_of"`
}

// Page is one slice of a wallet's transaction history, newest first.
type Page struct {
	Items  []TransactionView `json:"items"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// TransactionView is a transaction as seen from one wallet. Direction is "debit"
// or "credit" relative to that wallet.
type TransactionView struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Direction string         `json:"direction"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	Status    string         `json:"status"`
	Reference string         `json:"reference,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
