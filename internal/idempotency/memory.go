package idempotency

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	done      bool
	result    []byte
	expiresAt time.Time
}

// MemoryController is an in-process Controller for tests and single-node development.
type MemoryController struct {
	mu        sync.Mutex
	entries   map[string]memEntry
	resultTTL time.Duration
	lockTTL   time.Duration
	now       func() time.Time
}

func NewMemoryController(resultTTL, lockTTL time.Duration) *MemoryController {
	if resultTTL <= 0 {
		resultTTL = defaultResultTTL
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &MemoryController{
		entries:   make(map[string]memEntry),
		resultTTL: resultTTL,
		lockTTL:   lockTTL,
		now:       time.Now,
	}
}

func (c *MemoryController) Reserve(_ context.Context, key string) (Reservation, error) {
	if key == "" {
		return Reservation{}, ErrEmptyKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		if !e.done {
			return Reservation{}, ErrInProgress
		}
		out := make([]byte, len(e.result))
		copy(out, e.result)
		return Reservation{State: Completed, Result: out}, nil
	}
	c.entries[key] = memEntry{expiresAt: now.Add(c.lockTTL)}
	return Reservation{State: Acquired}, nil
}

func (c *MemoryController) Complete(_ context.Context, key string, result []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.done {
		return ErrNotReserved
	}
	stored := make([]byte, len(result))
	copy(stored, result)
	c.entries[key] = memEntry{done: true, result: stored, expiresAt: c.now().Add(c.resultTTL)}
	return nil
}

func (c *MemoryController) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && !e.done {
		delete(c.entries, key)
	}
	return nil
}
