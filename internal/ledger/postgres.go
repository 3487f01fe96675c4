package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const walletColumns = `id, wallet_number, owner_id, currency, balance, version, created_at, updated_at`

const txColumns = `id, kind, amount, currency, status, idempotency_key, source_wallet_id,
        destination_wallet_id, COALESCE(external_ref, ''), metadata, created_at, updated_at`

var _ Store = (*PostgresStore)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists wallets, transactions and signed ledger entries in PostgreSQL.
// Balance mutations are compare-and-swap updates on the wallet version.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateWallet inserts a wallet with a zero balance.
func (s *PostgresStore) CreateWallet(ctx context.Context, w Wallet) error {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return err
	}
	ownerID, err := uuid.Parse(w.OwnerID)
	if err != nil {
		return err
	}
	created := w.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.Exec(ctx, `INSERT INTO wallets (id, wallet_number, owner_id, currency, balance, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 0, 0, $5, $5)`, id, w.Number, ownerID, w.Currency, created)
	if isUniqueViolation(err) {
		return ErrWalletExists
	}
	return err
}

// GetWallet fetches a wallet by identifier.
func (s *PostgresStore) GetWallet(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID))
}

// GetWalletByOwner fetches the single wallet of a user.
func (s *PostgresStore) GetWalletByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, owner))
}

// GetWalletByNumber resolves the public wallet number.
func (s *PostgresStore) GetWalletByNumber(ctx context.Context, number string) (Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE wallet_number = $1`, number))
}

// ReadBalance returns the current balance of the wallet.
func (s *PostgresStore) ReadBalance(ctx context.Context, walletID string) (int64, error) {
	w, err := s.GetWallet(ctx, walletID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// CreateTransaction inserts a transaction outside of any unit.
func (s *PostgresStore) CreateTransaction(ctx context.Context, tx Transaction) error {
	return insertTransaction(ctx, s.db, tx)
}

// GetTransaction fetches a transaction by identifier.
func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	txID, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	return scanTransaction(s.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, txID))
}

// GetTransactionByKey fetches the transaction bound to an idempotency key.
func (s *PostgresStore) GetTransactionByKey(ctx context.Context, key string) (Transaction, error) {
	return scanTransaction(s.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE idempotency_key = $1`, key))
}

// GetTransactionByExternalRef fetches the transaction bound to a provider reference.
func (s *PostgresStore) GetTransactionByExternalRef(ctx context.Context, ref string) (Transaction, error) {
	return scanTransaction(s.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE external_ref = $1`, ref))
}

// ListTransactions returns the wallet history, newest first.
func (s *PostgresStore) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]Transaction, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return nil, ErrWalletNotFound
	}
	rows, err := s.db.Query(ctx, `SELECT `+txColumns+` FROM transactions
        WHERE source_wallet_id = $1 OR destination_wallet_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// ListTransactionsByStatus returns transactions of a kind waiting in one of statuses,
// oldest first.
func (s *PostgresStore) ListTransactionsByStatus(ctx context.Context, kind Kind, statuses []Status, updatedBefore time.Time, limit int) ([]Transaction, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	rows, err := s.db.Query(ctx, `SELECT `+txColumns+` FROM transactions
        WHERE kind = $1 AND status = ANY($2) AND updated_at <= $3
        ORDER BY updated_at ASC
        LIMIT $4`, string(kind), names, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// Entries lists the signed ledger entries of a transaction.
func (s *PostgresStore) Entries(ctx context.Context, txID string) ([]Entry, error) {
	id, err := uuid.Parse(txID)
	if err != nil {
		return nil, ErrTransactionNotFound
	}
	rows, err := s.db.Query(ctx, `SELECT id, transaction_id, wallet_id, amount, created_at
        FROM ledger_entries WHERE transaction_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var entryID, tID, wID uuid.UUID
		if err := rows.Scan(&entryID, &tID, &wID, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID, e.TransactionID, e.WalletID = entryID.String(), tID.String(), wID.String()
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordWebhookEvent stores the event as unprocessed if it is new.
func (s *PostgresStore) RecordWebhookEvent(ctx context.Context, evt WebhookEvent) (WebhookEvent, error) {
	received := evt.ReceivedAt
	if received.IsZero() {
		received = time.Now().UTC()
	}
	if _, err := s.db.Exec(ctx, `INSERT INTO webhook_events (event_id, event_type, signature_valid, status, received_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (event_id) DO NOTHING`, evt.EventID, evt.Type, evt.SignatureValid, string(EventUnprocessed), received); err != nil {
		return WebhookEvent{}, err
	}
	return s.GetWebhookEvent(ctx, evt.EventID)
}

// GetWebhookEvent fetches the dedupe record for an event.
func (s *PostgresStore) GetWebhookEvent(ctx context.Context, eventID string) (WebhookEvent, error) {
	var (
		evt    WebhookEvent
		status string
	)
	err := s.db.QueryRow(ctx, `SELECT event_id, event_type, signature_valid, status, received_at, processed_at
        FROM webhook_events WHERE event_id = $1`, eventID).
		Scan(&evt.EventID, &evt.Type, &evt.SignatureValid, &status, &evt.ReceivedAt, &evt.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WebhookEvent{}, fmt.Errorf("webhook event %s not found", eventID)
		}
		return WebhookEvent{}, err
	}
	evt.Status = EventStatus(status)
	return evt, nil
}

// Atomically runs fn inside a single database transaction.
func (s *PostgresStore) Atomically(ctx context.Context, fn func(u Unit) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgUnit{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgUnit struct {
	tx pgx.Tx
}

func (u *pgUnit) Debit(ctx context.Context, walletID, txID string, amount, expectedVersion int64) (Wallet, error) {
	if amount <= 0 {
		return Wallet{}, fmt.Errorf("amount must be positive")
	}
	return u.apply(ctx, walletID, txID, -amount, expectedVersion)
}

func (u *pgUnit) Credit(ctx context.Context, walletID, txID string, amount, expectedVersion int64) (Wallet, error) {
	if amount <= 0 {
		return Wallet{}, fmt.Errorf("amount must be positive")
	}
	return u.apply(ctx, walletID, txID, amount, expectedVersion)
}

func (u *pgUnit) apply(ctx context.Context, walletID, txID string, delta, expectedVersion int64) (Wallet, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	tID, err := uuid.Parse(txID)
	if err != nil {
		return Wallet{}, ErrTransactionNotFound
	}

	w, err := scanWallet(u.tx.QueryRow(ctx, `UPDATE wallets
        SET balance = balance + $2, version = version + 1, updated_at = NOW()
        WHERE id = $1 AND version = $3 AND balance + $2 >= 0
        RETURNING `+walletColumns, id, delta, expectedVersion))
	if errors.Is(err, ErrWalletNotFound) {
		return Wallet{}, u.classifyMiss(ctx, id, expectedVersion)
	}
	if err != nil {
		return Wallet{}, err
	}

	if _, err := u.tx.Exec(ctx, `INSERT INTO ledger_entries (id, transaction_id, wallet_id, amount, created_at)
        VALUES ($1, $2, $3, $4, NOW())`, uuid.New(), tID, id, delta); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

// classifyMiss explains why the compare-and-swap update matched no row.
func (u *pgUnit) classifyMiss(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	var version int64
	if err := u.tx.QueryRow(ctx, `SELECT version FROM wallets WHERE id = $1`, id).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrWalletNotFound
		}
		return err
	}
	if version != expectedVersion {
		return ErrVersionConflict
	}
	return ErrInsufficientFunds
}

func (u *pgUnit) CreateTransaction(ctx context.Context, tx Transaction) error {
	return insertTransaction(ctx, u.tx, tx)
}

func (u *pgUnit) Transition(ctx context.Context, txID string, from, to Status, metadata map[string]any) (Transaction, error) {
	id, err := uuid.Parse(txID)
	if err != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	var kind string
	if err := u.tx.QueryRow(ctx, `SELECT kind FROM transactions WHERE id = $1`, id).Scan(&kind); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	if err := checkTransition(Kind(kind), from, to); err != nil {
		return Transaction{}, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	updated, err := scanTransaction(u.tx.QueryRow(ctx, `UPDATE transactions
        SET status = $3, metadata = metadata || $4::jsonb, updated_at = NOW()
        WHERE id = $1 AND status = $2
        RETURNING `+txColumns, id, string(from), string(to), metadata))
	if errors.Is(err, ErrTransactionNotFound) {
		return Transaction{}, ErrStatusConflict
	}
	return updated, err
}

func (u *pgUnit) Annotate(ctx context.Context, txID string, metadata map[string]any) (Transaction, error) {
	id, err := uuid.Parse(txID)
	if err != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return scanTransaction(u.tx.QueryRow(ctx, `UPDATE transactions
        SET metadata = metadata || $2::jsonb, updated_at = NOW()
        WHERE id = $1
        RETURNING `+txColumns, id, metadata))
}

func (u *pgUnit) CompleteWebhookEvent(ctx context.Context, eventID string, status EventStatus) error {
	cmd, err := u.tx.Exec(ctx, `UPDATE webhook_events SET status = $2, processed_at = NOW() WHERE event_id = $1`, eventID, string(status))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("webhook event %s not found", eventID)
	}
	return nil
}

func insertTransaction(ctx context.Context, q querier, tx Transaction) error {
	id, err := uuid.Parse(tx.ID)
	if err != nil {
		return err
	}
	created := tx.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	metadata := tx.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err = q.Exec(ctx, `INSERT INTO transactions (id, kind, amount, currency, status, idempotency_key,
        source_wallet_id, destination_wallet_id, external_ref, metadata, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $11)`,
		id, string(tx.Kind), tx.Amount, tx.Currency, string(tx.Status), tx.IdempotencyKey,
		nullableID(tx.SourceWalletID), nullableID(tx.DestinationWalletID), tx.ExternalRef, metadata, created)
	if isUniqueViolation(err) {
		return ErrDuplicateTransaction
	}
	return err
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w           Wallet
		id, ownerID uuid.UUID
	)
	if err := row.Scan(&id, &w.Number, &ownerID, &w.Currency, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	w.ID = id.String()
	w.OwnerID = ownerID.String()
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		tx           Transaction
		id           uuid.UUID
		kind, status string
		source, dest uuid.NullUUID
	)
	err := row.Scan(&id, &kind, &tx.Amount, &tx.Currency, &status, &tx.IdempotencyKey,
		&source, &dest, &tx.ExternalRef, &tx.Metadata, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	tx.ID = id.String()
	tx.Kind = Kind(kind)
	tx.Status = Status(status)
	if source.Valid {
		tx.SourceWalletID = source.UUID.String()
	}
	if dest.Valid {
		tx.DestinationWalletID = dest.UUID.String()
	}
	if tx.Metadata == nil {
		tx.Metadata = map[string]any{}
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	return tx, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	out := make([]Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func nullableID(id string) uuid.NullUUID {
	if id == "" {
		return uuid.NullUUID{}
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: parsed, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
