package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInProgress signals a concurrent duplicate of a request that has not finished.
	// It is surfaced to the caller, never retried silently.
	ErrInProgress = errors.New("request with this idempotency key is already in progress")

	// ErrNotReserved is returned when completing or releasing a key that holds no reservation.
	ErrNotReserved = errors.New("idempotency key is not reserved")

	ErrEmptyKey = errors.New("idempotency key is required")
)

// State is the outcome of a reservation attempt.
type State int

const (
	// Acquired means the caller owns the key and must execute the operation,
	// then call Complete or Release.
	Acquired State = iota + 1
	// Completed means the operation already ran; Result holds its stored outcome.
	Completed
)

func (s State) String() string {
	switch s {
	case Acquired:
		return "acquired"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Reservation is returned by Reserve.
type Reservation struct {
	State  State
	Result []byte
}

// Controller grants at-most-one execution per key. Reserve must be atomic across
// concurrent workers.
type Controller interface {
	Reserve(ctx context.Context, key string) (Reservation, error)
	// Complete stores result verbatim; later reservations of the key return it.
	Complete(ctx context.Context, key string, result []byte) error
	// Release drops an acquired reservation. Only call it when no side effect was committed.
	Release(ctx context.Context, key string) error
}

// Key namespaces a client or provider supplied key by operation and caller so two
// users, or two operations, never share a reservation.
func Key(operation string, parts ...string) string {
	return operation + ":" + strings.Join(parts, ":")
}

// CompleteJSON encodes v and completes the key with it.
func CompleteJSON(ctx context.Context, c Controller, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode idempotent result: %w", err)
	}
	return c.Complete(ctx, key, payload)
}

// Decode unmarshals a completed reservation's stored result into v.
func (r Reservation) Decode(v any) error {
	if r.State != Completed {
		return fmt.Errorf("reservation is %s, not completed", r.State)
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("decode idempotent result: %w", err)
	}
	return nil
}
