package stepup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Credential is a user's transaction PIN, stored only as an argon2id hash.
type Credential struct {
	UserID    string
	Hash      string
	CreatedAt time.Time
}

// Repository persists PIN credentials. At most one exists per user; Create returns
// ErrPinAlreadySet when it would be a second.
type Repository interface {
	Create(ctx context.Context, cred Credential) error
	// Find returns ErrPinNotSet when the user has no credential.
	Find(ctx context.Context, userID string) (Credential, error)
}

type memoryRepository struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemoryRepository builds an in-memory credential store for tests and development.
func NewMemoryRepository() Repository {
	return &memoryRepository{creds: make(map[string]Credential)}
}

func (r *memoryRepository) Create(_ context.Context, cred Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.creds[cred.UserID]; exists {
		return ErrPinAlreadySet
	}
	r.creds[cred.UserID] = cred
	return nil
}

func (r *memoryRepository) Find(_ context.Context, userID string) (Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cred, ok := r.creds[userID]
	if !ok {
		return Credential{}, ErrPinNotSet
	}
	return cred, nil
}

// PostgresRepository stores credentials in pin_credentials (user_id is unique).
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, cred Credential) error {
	userID, err := uuid.Parse(cred.UserID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO pin_credentials (user_id, pin_hash, created_at) VALUES ($1, $2, $3)`,
		userID, cred.Hash, cred.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrPinAlreadySet
	}
	return err
}

func (r *PostgresRepository) Find(ctx context.Context, userID string) (Credential, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return Credential{}, ErrPinNotSet
	}
	var cred Credential
	err = r.db.QueryRow(ctx, `SELECT pin_hash, created_at FROM pin_credentials WHERE user_id = $1`, id).
		Scan(&cred.Hash, &cred.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrPinNotSet
	}
	if err != nil {
		return Credential{}, err
	}
	cred.UserID = userID
	cred.CreatedAt = cred.CreatedAt.UTC()
	return cred, nil
}
