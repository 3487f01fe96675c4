package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_engine/internal/auth"
	"github.com/congo-pay/wallet_engine/internal/config"
	"github.com/congo-pay/wallet_engine/internal/funding"
	"github.com/congo-pay/wallet_engine/internal/identity"
	"github.com/congo-pay/wallet_engine/internal/infra"
	"github.com/congo-pay/wallet_engine/internal/metrics"
	"github.com/congo-pay/wallet_engine/internal/middleware"
	"github.com/congo-pay/wallet_engine/internal/payments"
	"github.com/congo-pay/wallet_engine/internal/payout"
	"github.com/congo-pay/wallet_engine/internal/provider"
	"github.com/congo-pay/wallet_engine/internal/stepup"
	"github.com/congo-pay/wallet_engine/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Provider overrides the payment provider chosen from Cfg.
	Provider provider.Provider
	// PinParams overrides the PIN hashing cost.
	PinParams *stepup.Params
}

// Setup configures middlewares and all application routes. The returned
// reconciler is not started.
func Setup(app *fiber.App, d Deps) (*payout.Reconciler, error) {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	// Services and handlers
	backends := infra.NewBackends(d.DB, d.Cache, d.Cfg.IdempotencyTTL, d.Cfg.IdempotencyLockTTL, d.Logger)
	prov := d.Provider
	if prov == nil {
		prov = chooseProvider(d)
	}
	params := stepup.DefaultParams
	if d.PinParams != nil {
		params = *d.PinParams
	}
	pins := stepup.NewGate(backends.Pins, params, d.Logger)
	issuer := auth.NewIssuer(d.Cfg.JWTSecret, d.Cfg.AccessTokenTTL, d.Cfg.AppName)

	walletSvc := wallet.NewService(backends.Ledger, d.Cfg.DefaultCurrency, d.Logger)
	identitySvc := identity.NewService(backends.Users, walletSvc, issuer, d.Logger)
	paymentSvc := payments.NewService(backends.Ledger, backends.Idempotency, pins, backends.Notifier, d.Metrics, d.Logger, d.Cfg.OptimisticRetries)
	payoutSvc := payout.NewService(backends.Ledger, prov, backends.Idempotency, pins, backends.Notifier, d.Metrics, d.Logger, d.Cfg.OptimisticRetries)
	reconciler := payout.NewReconciler(payoutSvc, payout.ReconcilerConfig{
		Interval:     d.Cfg.PayoutPollInterval,
		AbandonAfter: d.Cfg.PayoutAbandonAfter,
	})
	fundingSvc := funding.NewService(backends.Ledger, prov, backends.Idempotency, identitySvc, backends.Notifier, d.Metrics, d.Logger, funding.Config{
		WebhookSecret: d.Cfg.PaystackSecretKey,
		CallbackURL:   d.Cfg.PaystackCallbackURL,
		Attempts:      d.Cfg.OptimisticRetries,
	})
	fundingSvc.WithPayoutPoller(reconciler)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	identityHandler := identity.NewHandler(identitySvc)
	fundingHandler := funding.NewHandler(fundingSvc)
	RegisterIdentityRoutes(api, identityHandler)
	RegisterWebhookRoutes(api, fundingHandler)

	// Protected routes
	users := middleware.UserCheckerFunc(func(ctx context.Context, id string) bool {
		_, err := identitySvc.Get(ctx, id)
		return err == nil
	})
	protected := api.Group("", middleware.JWTAuth(issuer, users))
	limit := func(scope string) fiber.Handler {
		return middleware.RateLimit(d.Cache, scope, d.Cfg.RateLimitPerMinute, d.Logger)
	}

	protected.Get("/me", identityHandler.Me)
	RegisterWalletMeRoute(protected, walletSvc, identitySvc)
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc, pins, d.Cfg.MaxPageSize), limit("pin"))
	RegisterFundingRoutes(protected, fundingHandler)
	RegisterPaymentRoutes(protected, payments.NewHandler(paymentSvc), limit("transfer"))
	RegisterPayoutRoutes(protected, payout.NewHandler(payoutSvc, d.Cfg.DefaultCurrency), limit("withdraw"))

	return reconciler, nil
}

func chooseProvider(d Deps) provider.Provider {
	if d.Cfg.PaystackSecretKey == "" {
		d.Logger.Warn("no paystack secret configured, using static provider")
		return provider.NewStatic()
	}
	return provider.NewPaystack(provider.PaystackConfig{
		BaseURL:   d.Cfg.PaystackBaseURL,
		SecretKey: d.Cfg.PaystackSecretKey,
		Timeout:   d.Cfg.ProviderTimeout,
	}, d.Logger, d.Metrics)
}
