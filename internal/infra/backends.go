package infra

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_engine/internal/idempotency"
	"github.com/congo-pay/wallet_engine/internal/identity"
	"github.com/congo-pay/wallet_engine/internal/ledger"
	"github.com/congo-pay/wallet_engine/internal/notification"
	"github.com/congo-pay/wallet_engine/internal/stepup"
)

// Backends are the stores every service is built on.
type Backends struct {
	Ledger      ledger.Store
	Idempotency idempotency.Controller
	Pins        stepup.Repository
	Users       identity.Repository
	Notifier    notification.Notifier
}

// NewBackends picks Postgres and Redis implementations when a connection is given
// and in-memory ones otherwise.
func NewBackends(db *pgxpool.Pool, cache *redis.Client, resultTTL, lockTTL time.Duration, logger *slog.Logger) Backends {
	var b Backends
	if db != nil {
		b.Ledger = ledger.NewPostgresStore(db)
		b.Pins = stepup.NewPostgresRepository(db)
		b.Users = identity.NewPostgresRepository(db)
	} else {
		logger.Warn("no database configured, using in-memory stores")
		b.Ledger = ledger.NewInMemory()
		b.Pins = stepup.NewMemoryRepository()
		b.Users = identity.NewMemoryRepository()
	}
	if cache != nil {
		b.Idempotency = idempotency.NewRedisController(cache, resultTTL, lockTTL)
		b.Notifier = notification.NewRedisNotifier(cache)
	} else {
		logger.Warn("no redis configured, using in-memory idempotency")
		b.Idempotency = idempotency.NewMemoryController(resultTTL, lockTTL)
		b.Notifier = notification.NewLoggerNotifier(logger)
	}
	return b
}
