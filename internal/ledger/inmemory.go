package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memTx struct {
	tx  Transaction
	seq int64
}

type inMemoryStore struct {
	mu      sync.RWMutex
	seq     int64
	wallets map[string]Wallet
	txs     map[string]memTx
	byKey   map[string]string
	byRef   map[string]string
	entries map[string][]Entry
	events  map[string]WebhookEvent
	now     func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory store useful for tests and
// development. Units are serialized behind a single lock, so the version check is
// what detects read-modify-write races between callers.
func NewInMemory() Store {
	return &inMemoryStore{
		wallets: make(map[string]Wallet),
		txs:     make(map[string]memTx),
		byKey:   make(map[string]string),
		byRef:   make(map[string]string),
		entries: make(map[string][]Entry),
		events:  make(map[string]WebhookEvent),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *inMemoryStore) CreateWallet(_ context.Context, w Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.wallets[w.ID]; exists {
		return ErrWalletExists
	}
	for _, existing := range s.wallets {
		if existing.OwnerID == w.OwnerID || existing.Number == w.Number {
			return ErrWalletExists
		}
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now()
	}
	w.UpdatedAt = w.CreatedAt
	s.wallets[w.ID] = w
	return nil
}

func (s *inMemoryStore) GetWallet(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *inMemoryStore) GetWalletByOwner(_ context.Context, ownerID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.wallets {
		if w.OwnerID == ownerID {
			return w, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (s *inMemoryStore) GetWalletByNumber(_ context.Context, number string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.wallets {
		if w.Number == number {
			return w, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (s *inMemoryStore) ReadBalance(ctx context.Context, walletID string) (int64, error) {
	w, err := s.GetWallet(ctx, walletID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

func (s *inMemoryStore) CreateTransaction(_ context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTxLocked(tx)
}

func (s *inMemoryStore) insertTxLocked(tx Transaction) error {
	if err := s.checkInsertLocked(tx); err != nil {
		return err
	}
	s.putTxLocked(tx)
	return nil
}

func (s *inMemoryStore) checkInsertLocked(tx Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	if _, exists := s.txs[tx.ID]; exists {
		return ErrDuplicateTransaction
	}
	if _, exists := s.byKey[tx.IdempotencyKey]; exists {
		return ErrDuplicateTransaction
	}
	if tx.ExternalRef != "" {
		if _, exists := s.byRef[tx.ExternalRef]; exists {
			return ErrDuplicateTransaction
		}
	}
	return nil
}

func (s *inMemoryStore) putTxLocked(tx Transaction) {
	now := s.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = tx.CreatedAt
	tx.Metadata = mergeMetadata(nil, tx.Metadata)
	s.seq++
	s.txs[tx.ID] = memTx{tx: tx, seq: s.seq}
	s.byKey[tx.IdempotencyKey] = tx.ID
	if tx.ExternalRef != "" {
		s.byRef[tx.ExternalRef] = tx.ID
	}
}

func (s *inMemoryStore) GetTransaction(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.txs[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return cloneTx(rec.tx), nil
}

func (s *inMemoryStore) GetTransactionByKey(ctx context.Context, key string) (Transaction, error) {
	s.mu.RLock()
	id, ok := s.byKey[key]
	s.mu.RUnlock()
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.GetTransaction(ctx, id)
}

func (s *inMemoryStore) GetTransactionByExternalRef(ctx context.Context, ref string) (Transaction, error) {
	s.mu.RLock()
	id, ok := s.byRef[ref]
	s.mu.RUnlock()
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.GetTransaction(ctx, id)
}

func (s *inMemoryStore) ListTransactions(_ context.Context, walletID string, limit, offset int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]memTx, 0)
	for _, rec := range s.txs {
		if rec.tx.SourceWalletID == walletID || rec.tx.DestinationWalletID == walletID {
			matched = append(matched, rec)
		}
	}
	sortNewestFirst(matched)
	return page(matched, limit, offset), nil
}

func (s *inMemoryStore) ListTransactionsByStatus(_ context.Context, kind Kind, statuses []Status, updatedBefore time.Time, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	matched := make([]memTx, 0)
	for _, rec := range s.txs {
		if rec.tx.Kind == kind && want[rec.tx.Status] && !rec.tx.UpdatedAt.After(updatedBefore) {
			matched = append(matched, rec)
		}
	}
	// oldest first so the longest-waiting payouts are reconciled first
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	return page(matched, limit, 0), nil
}

func (s *inMemoryStore) Entries(_ context.Context, txID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries[txID]))
	copy(out, s.entries[txID])
	return out, nil
}

func (s *inMemoryStore) RecordWebhookEvent(_ context.Context, evt WebhookEvent) (WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.events[evt.EventID]; ok {
		return existing, nil
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = s.now()
	}
	evt.Status = EventUnprocessed
	s.events[evt.EventID] = evt
	return evt, nil
}

func (s *inMemoryStore) GetWebhookEvent(_ context.Context, eventID string) (WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evt, ok := s.events[eventID]
	if !ok {
		return WebhookEvent{}, fmt.Errorf("webhook event %s not found", eventID)
	}
	return evt, nil
}

func (s *inMemoryStore) Atomically(ctx context.Context, fn func(u Unit) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &memUnit{
		store:   s,
		wallets: make(map[string]Wallet),
		txs:     make(map[string]Transaction),
		events:  make(map[string]WebhookEvent),
	}
	if err := fn(u); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return u.commit()
}

// memUnit stages writes and applies them only when fn succeeds.
type memUnit struct {
	store   *inMemoryStore
	wallets map[string]Wallet
	txs     map[string]Transaction
	newTxs  []Transaction
	entries []Entry
	events  map[string]WebhookEvent
}

func (u *memUnit) wallet(id string) (Wallet, error) {
	if w, ok := u.wallets[id]; ok {
		return w, nil
	}
	w, ok := u.store.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (u *memUnit) apply(walletID, txID string, delta, expectedVersion int64) (Wallet, error) {
	w, err := u.wallet(walletID)
	if err != nil {
		return Wallet{}, err
	}
	if w.Version != expectedVersion {
		return Wallet{}, ErrVersionConflict
	}
	if w.Balance+delta < 0 {
		return Wallet{}, ErrInsufficientFunds
	}
	w.Balance += delta
	w.Version++
	w.UpdatedAt = u.store.now()
	u.wallets[walletID] = w
	u.entries = append(u.entries, Entry{
		ID:            uuid.NewString(),
		TransactionID: txID,
		WalletID:      walletID,
		Amount:        delta,
		CreatedAt:     w.UpdatedAt,
	})
	return w, nil
}

func (u *memUnit) Debit(_ context.Context, walletID, txID string, amount, expectedVersion int64) (Wallet, error) {
	if amount <= 0 {
		return Wallet{}, fmt.Errorf("amount must be positive")
	}
	return u.apply(walletID, txID, -amount, expectedVersion)
}

func (u *memUnit) Credit(_ context.Context, walletID, txID string, amount, expectedVersion int64) (Wallet, error) {
	if amount <= 0 {
		return Wallet{}, fmt.Errorf("amount must be positive")
	}
	return u.apply(walletID, txID, amount, expectedVersion)
}

func (u *memUnit) CreateTransaction(_ context.Context, tx Transaction) error {
	if err := u.store.checkInsertLocked(tx); err != nil {
		return err
	}
	for _, staged := range u.newTxs {
		if staged.ID == tx.ID || staged.IdempotencyKey == tx.IdempotencyKey ||
			(tx.ExternalRef != "" && staged.ExternalRef == tx.ExternalRef) {
			return ErrDuplicateTransaction
		}
	}
	now := u.store.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = tx.CreatedAt
	u.newTxs = append(u.newTxs, tx)
	u.txs[tx.ID] = tx
	return nil
}

func (u *memUnit) Transition(_ context.Context, txID string, from, to Status, metadata map[string]any) (Transaction, error) {
	tx, ok := u.txs[txID]
	if !ok {
		rec, found := u.store.txs[txID]
		if !found {
			return Transaction{}, ErrTransactionNotFound
		}
		tx = cloneTx(rec.tx)
	}
	if err := checkTransition(tx.Kind, from, to); err != nil {
		return Transaction{}, err
	}
	if tx.Status != from {
		return Transaction{}, ErrStatusConflict
	}
	tx.Status = to
	tx.Metadata = mergeMetadata(tx.Metadata, metadata)
	tx.UpdatedAt = u.store.now()
	u.txs[txID] = tx
	return cloneTx(tx), nil
}

func (u *memUnit) Annotate(_ context.Context, txID string, metadata map[string]any) (Transaction, error) {
	tx, ok := u.txs[txID]
	if !ok {
		rec, found := u.store.txs[txID]
		if !found {
			return Transaction{}, ErrTransactionNotFound
		}
		tx = cloneTx(rec.tx)
	}
	tx.Metadata = mergeMetadata(tx.Metadata, metadata)
	tx.UpdatedAt = u.store.now()
	u.txs[txID] = tx
	return cloneTx(tx), nil
}

func (u *memUnit) CompleteWebhookEvent(_ context.Context, eventID string, status EventStatus) error {
	evt, ok := u.store.events[eventID]
	if !ok {
		return fmt.Errorf("webhook event %s not found", eventID)
	}
	now := u.store.now()
	evt.Status = status
	evt.ProcessedAt = &now
	u.events[eventID] = evt
	return nil
}

// commit validates every staged insert before applying anything, so a rejected
// unit leaves the store untouched.
func (u *memUnit) commit() error {
	s := u.store
	for _, tx := range u.newTxs {
		if err := s.checkInsertLocked(tx); err != nil {
			return err
		}
	}
	for _, tx := range u.newTxs {
		s.putTxLocked(tx)
	}
	for id, tx := range u.txs {
		rec := s.txs[id]
		rec.tx = tx
		s.txs[id] = rec
	}
	for id, w := range u.wallets {
		s.wallets[id] = w
	}
	for _, e := range u.entries {
		s.entries[e.TransactionID] = append(s.entries[e.TransactionID], e)
	}
	for id, evt := range u.events {
		s.events[id] = evt
	}
	return nil
}

func sortNewestFirst(recs []memTx) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].tx.CreatedAt.Equal(recs[j].tx.CreatedAt) {
			return recs[i].tx.CreatedAt.After(recs[j].tx.CreatedAt)
		}
		return recs[i].seq > recs[j].seq
	})
}

func page(recs []memTx, limit, offset int) []Transaction {
	if offset >= len(recs) {
		return []Transaction{}
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	out := make([]Transaction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, cloneTx(rec.tx))
	}
	return out
}

func cloneTx(tx Transaction) Transaction {
	tx.Metadata = mergeMetadata(nil, tx.Metadata)
	if tx.Metadata == nil {
		tx.Metadata = map[string]any{}
	}
	return tx
}
