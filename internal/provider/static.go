package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var _ Provider = (*Static)(nil)

// InitiateFunc decides the outcome of a payout request in a Static provider.
type InitiateFunc func(req TransferRequest) (Transfer, error)

// Static simulates the payment provider in memory for development and tests. By
// default it accepts every charge, resolves every account and queues every payout
// as pending; outcomes can be driven explicitly.
type Static struct {
	mu         sync.Mutex
	charges    map[string]Charge
	transfers  map[string]Transfer
	unresolved map[string]bool
	banks      []Bank
	initiate   InitiateFunc
	initiated  int
}

func NewStatic() *Static {
	return &Static{
		charges:    make(map[string]Charge),
		transfers:  make(map[string]Transfer),
		unresolved: make(map[string]bool),
		banks: []Bank{
			{Name: "Access Bank", Code: "044"},
			{Name: "Guaranty Trust Bank", Code: "058"},
			{Name: "Zenith Bank", Code: "057"},
		},
	}
}

// OnInitiate overrides how payout requests are answered.
func (s *Static) OnInitiate(fn InitiateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initiate = fn
}

// RejectAccount makes ResolveAccount fail for the account number.
func (s *Static) RejectAccount(accountNumber string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unresolved[accountNumber] = true
}

// SetChargeStatus records what VerifyTransaction reports for reference.
func (s *Static) SetChargeStatus(reference string, status ChargeStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.charges[reference]
	c.Reference = reference
	c.Status = status
	s.charges[reference] = c
}

// SetTransferStatus records what FetchTransfer reports for reference.
func (s *Static) SetTransferStatus(reference string, status TransferStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transfers[reference]
	t.Reference = reference
	t.Status = status
	s.transfers[reference] = t
}

// Initiated counts InitiateTransfer calls.
func (s *Static) Initiated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initiated
}

func (s *Static) InitializeTransaction(_ context.Context, req InitializeRequest) (Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charges[req.Reference] = Charge{Reference: req.Reference, Status: ChargePending, Amount: req.Amount, Currency: req.Currency}
	return Checkout{
		AuthorizationURL: "https://checkout.paystack.test/" + req.Reference,
		AccessCode:       uuid.NewString(),
		Reference:        req.Reference,
	}, nil
}

func (s *Static) VerifyTransaction(_ context.Context, reference string) (Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.charges[reference]
	if !ok {
		return Charge{}, ErrNotFound
	}
	return c, nil
}

func (s *Static) ListBanks(_ context.Context, _ string) ([]Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Bank, len(s.banks))
	copy(out, s.banks)
	return out, nil
}

func (s *Static) ResolveAccount(_ context.Context, accountNumber, bankCode string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unresolved[accountNumber] {
		return Account{}, ErrAccountUnresolved
	}
	suffix := accountNumber
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return Account{AccountName: "TEST ACCOUNT " + suffix, AccountNumber: accountNumber, BankCode: bankCode}, nil
}

func (s *Static) CreateTransferRecipient(_ context.Context, account Account, _ string) (string, error) {
	return fmt.Sprintf("RCP_%s_%s", account.BankCode, account.AccountNumber), nil
}

func (s *Static) InitiateTransfer(_ context.Context, req TransferRequest) (Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initiated++
	if s.initiate != nil {
		t, err := s.initiate(req)
		if err == nil {
			if t.Reference == "" {
				t.Reference = req.Reference
			}
			s.transfers[req.Reference] = t
		}
		return t, err
	}
	t := Transfer{Reference: req.Reference, TransferCode: "TRF_" + uuid.NewString()[:8], Status: TransferPending, Amount: req.Amount}
	s.transfers[req.Reference] = t
	return t, nil
}

func (s *Static) FetchTransfer(_ context.Context, reference string) (Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[reference]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	return t, nil
}
