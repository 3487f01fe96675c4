package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_engine/internal/apierr"
	"github.com/congo-pay/wallet_engine/internal/config"
	"github.com/congo-pay/wallet_engine/internal/metrics"
	"github.com/congo-pay/wallet_engine/internal/payout"
	"github.com/congo-pay/wallet_engine/internal/routes"
)

// Server wraps the Fiber application, the payout reconciler and shared dependencies.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	reconciler *payout.Reconciler
	logger     *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: apierr.Handler(logger),
	})

	reconciler, err := routes.Setup(app, routes.Deps{
		Cfg:     cfg,
		DB:      db,
		Cache:   cache,
		Logger:  logger,
		Metrics: metrics.New(),
	})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, reconciler: reconciler, logger: logger}, nil
}

// Listen starts the payout reconciler and the HTTP server.
func (s *Server) Listen(ctx context.Context) error {
	s.reconciler.Start(ctx)
	s.logger.Info("server listening", slog.String("addr", s.cfg.Address()), slog.String("env", s.cfg.AppEnv))
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server, then the reconciler.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.reconciler.Stop()
	return err
}
