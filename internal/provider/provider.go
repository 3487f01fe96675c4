package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "x-paystack-signature"

var (
	// ErrRejected is an explicit, final refusal by the provider. It is the only
	// outcome that may trigger compensation.
	ErrRejected = errors.New("payment provider rejected the request")

	// ErrExternalService covers timeouts, transport failures and 5xx responses. The
	// outcome of the call is unknown.
	ErrExternalService = errors.New("payment provider unavailable")

	ErrNotFound          = errors.New("payment provider has no such record")
	ErrAccountUnresolved = errors.New("bank account could not be resolved")

	// ErrSignatureInvalid rejects a webhook whose signature does not match its body.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
)

// ChargeStatus is the provider's view of a deposit.
type ChargeStatus string

const (
	ChargeSuccess   ChargeStatus = "success"
	ChargeFailed    ChargeStatus = "failed"
	ChargeReversed  ChargeStatus = "reversed"
	ChargeAbandoned ChargeStatus = "abandoned"
	ChargePending   ChargeStatus = "pending"
	ChargeOngoing   ChargeStatus = "ongoing"
)

// Failed reports whether the charge can no longer succeed. An abandoned checkout
// can still be paid later, so it is not failed.
func (s ChargeStatus) Failed() bool {
	return s == ChargeFailed || s == ChargeReversed
}

// TransferStatus is the provider's view of a payout.
type TransferStatus string

const (
	TransferSuccess    TransferStatus = "success"
	TransferFailed     TransferStatus = "failed"
	TransferReversed   TransferStatus = "reversed"
	TransferPending    TransferStatus = "pending"
	TransferProcessing TransferStatus = "processing"
	TransferOTP        TransferStatus = "otp"
	TransferQueued     TransferStatus = "queued"
)

type InitializeRequest struct {
	Email       string
	Amount      int64
	Currency    string
	Reference   string
	CallbackURL string
}

type Checkout struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type Charge struct {
	Reference string       `json:"reference"`
	Status    ChargeStatus `json:"status"`
	Amount    int64        `json:"amount"`
	Currency  string       `json:"currency"`
}

type Bank struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type Account struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
}

type TransferRequest struct {
	Amount        int64
	Currency      string
	RecipientCode string
	Reference     string
	Reason        string
}

type Transfer struct {
	Reference    string         `json:"reference"`
	TransferCode string         `json:"transfer_code"`
	Status       TransferStatus `json:"status"`
	Amount       int64          `json:"amount"`
	Reason       string         `json:"failure_reason,omitempty"`
}

// Provider is the external payment processor contract. Every call must honour ctx
// deadlines; a deadline hit maps to ErrExternalService.
type Provider interface {
	InitializeTransaction(ctx context.Context, req InitializeRequest) (Checkout, error)
	VerifyTransaction(ctx context.Context, reference string) (Charge, error)
	ListBanks(ctx context.Context, currency string) ([]Bank, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (Account, error)
	CreateTransferRecipient(ctx context.Context, account Account, currency string) (string, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (Transfer, error)
	// FetchTransfer looks a payout up by our reference; ErrNotFound if the provider never saw it.
	FetchTransfer(ctx context.Context, reference string) (Transfer, error)
}

// VerifySignature checks header against HMAC-SHA512(secret, body) in constant time.
// It must run before the body is parsed.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	supplied, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return false
	}
	return hmac.Equal(Sign(secret, body), supplied)
}

// Sign returns the raw HMAC-SHA512 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign encoded the way the provider sends it.
func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(Sign(secret, body))
}
