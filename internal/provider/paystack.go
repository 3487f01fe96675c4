package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/congo-pay/wallet_engine/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.paystack.co"
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

// PaystackConfig configures the Paystack client.
type PaystackConfig struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

var _ Provider = (*Paystack)(nil)

// Paystack talks to the Paystack REST API. Amounts are sent in minor units.
type Paystack struct {
	baseURL string
	secret  string
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewPaystack(cfg PaystackConfig, logger *slog.Logger, m *metrics.Metrics) *Paystack {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Paystack{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  cfg.SecretKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		metrics: m,
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do sends one request and decodes data into out. It classifies failures:
// transport errors and 5xx are ErrExternalService, 404 is ErrNotFound, any other
// non-2xx or status=false reply is ErrRejected.
func (p *Paystack) do(ctx context.Context, op, method, path string, body any, out any) error {
	start := time.Now()
	err := p.send(ctx, method, path, body, out)
	result := "ok"
	switch {
	case errors.Is(err, ErrExternalService):
		result = "unavailable"
	case err != nil:
		result = "rejected"
	}
	p.metrics.ProviderCall(op, result, time.Since(start).Seconds())
	if err != nil {
		p.logger.Warn("paystack call failed", slog.String("operation", op), slog.Any("error", err))
	}
	return err
}

func (p *Paystack) send(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrExternalService, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrExternalService, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, env.Message)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s", ErrRejected, env.Message)
	case decodeErr != nil:
		return fmt.Errorf("%w: decode response: %v", ErrExternalService, decodeErr)
	case !env.Status:
		return fmt.Errorf("%w: %s", ErrRejected, env.Message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: decode data: %v", ErrExternalService, err)
		}
	}
	return nil
}

func (p *Paystack) InitializeTransaction(ctx context.Context, req InitializeRequest) (Checkout, error) {
	body := map[string]any{
		"email":     req.Email,
		"amount":    req.Amount,
		"reference": req.Reference,
	}
	if req.Currency != "" {
		body["currency"] = req.Currency
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}
	var out Checkout
	if err := p.do(ctx, "initialize_transaction", http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return Checkout{}, err
	}
	if out.Reference == "" {
		out.Reference = req.Reference
	}
	return out, nil
}

func (p *Paystack) VerifyTransaction(ctx context.Context, reference string) (Charge, error) {
	var out Charge
	err := p.do(ctx, "verify_transaction", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out)
	return out, err
}

func (p *Paystack) ListBanks(ctx context.Context, currency string) ([]Bank, error) {
	path := "/bank"
	if currency != "" {
		path += "?currency=" + url.QueryEscape(currency)
	}
	var out []Bank
	if err := p.do(ctx, "list_banks", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Paystack) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (Account, error) {
	q := url.Values{"account_number": {accountNumber}, "bank_code": {bankCode}}
	var out struct {
		AccountName   string `json:"account_name"`
		AccountNumber string `json:"account_number"`
	}
	err := p.do(ctx, "resolve_account", http.MethodGet, "/bank/resolve?"+q.Encode(), nil, &out)
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrNotFound) {
		return Account{}, fmt.Errorf("%w: %v", ErrAccountUnresolved, err)
	}
	if err != nil {
		return Account{}, err
	}
	if out.AccountName == "" {
		return Account{}, ErrAccountUnresolved
	}
	return Account{AccountName: out.AccountName, AccountNumber: out.AccountNumber, BankCode: bankCode}, nil
}

func (p *Paystack) CreateTransferRecipient(ctx context.Context, account Account, currency string) (string, error) {
	body := map[string]any{
		"type":           "nuban",
		"name":           account.AccountName,
		"account_number": account.AccountNumber,
		"bank_code":      account.BankCode,
		"currency":       currency,
	}
	var out struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := p.do(ctx, "create_recipient", http.MethodPost, "/transferrecipient", body, &out); err != nil {
		return "", err
	}
	if out.RecipientCode == "" {
		return "", fmt.Errorf("%w: empty recipient code", ErrExternalService)
	}
	return out.RecipientCode, nil
}

func (p *Paystack) InitiateTransfer(ctx context.Context, req TransferRequest) (Transfer, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    req.Amount,
		"recipient": req.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Reason,
	}
	if req.Currency != "" {
		body["currency"] = req.Currency
	}
	var out Transfer
	if err := p.do(ctx, "initiate_transfer", http.MethodPost, "/transfer", body, &out); err != nil {
		return Transfer{}, err
	}
	if out.Reference == "" {
		out.Reference = req.Reference
	}
	return out, nil
}

func (p *Paystack) FetchTransfer(ctx context.Context, reference string) (Transfer, error) {
	var out Transfer
	err := p.do(ctx, "fetch_transfer", http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, &out)
	return out, err
}
