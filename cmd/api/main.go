// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pressly/goose/v3"

	"github.com/lumenlearn/entitlement-backend/internal/admin"
	"github.com/lumenlearn/entitlement-backend/internal/auth"
	"github.com/lumenlearn/entitlement-backend/internal/config"
	"github.com/lumenlearn/entitlement-backend/internal/core"
	"github.com/lumenlearn/entitlement-backend/internal/family"
	"github.com/lumenlearn/entitlement-backend/internal/health"
	"github.com/lumenlearn/entitlement-backend/internal/ledger"
	"github.com/lumenlearn/entitlement-backend/internal/middleware"
	"github.com/lumenlearn/entitlement-backend/internal/server"
	"github.com/lumenlearn/entitlement-backend/internal/sweep"
	"github.com/lumenlearn/entitlement-backend/internal/verifier"
	"github.com/lumenlearn/entitlement-backend/internal/webhook"
	"github.com/lumenlearn/entitlement-backend/migrations"
)

const (
	drainDelay = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	var telemetry *core.Telemetry
	if cfg.Otel.Enabled {
		tel, telErr := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
		if telErr != nil {
			logger.Warn("failed to initialize telemetry", "error", telErr)
		} else {
			telemetry = tel
			logger.Info("OpenTelemetry tracer initialized",
				"endpoint", cfg.Otel.Endpoint,
			)
		}
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	if err := migrate(ctx, db); err != nil {
		return err
	}
	logger.Info("migrations applied")

	redis, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	sessionVerifier, err := auth.NewSessionVerifier(cfg.Session)
	if err != nil {
		return err
	}
	logger.Info("session verifier initialized", "algorithm", "ES256")

	var appleClient *verifier.AppStoreClient
	if cfg.AppStore.KeyPath != "" {
		appleClient, err = verifier.NewAppStoreClient(cfg.AppStore)
		if err != nil {
			return err
		}
		logger.Info("app store client initialized",
			"bundle_id", cfg.AppStore.BundleID,
		)
	}

	var googleClient *verifier.PlayStoreClient
	if cfg.PlayStore.KeyPath != "" {
		googleClient, err = verifier.NewPlayStoreClient(cfg.PlayStore)
		if err != nil {
			return err
		}
		logger.Info("play store client initialized",
			"package_name", cfg.PlayStore.PackageName,
		)
	}

	verifierSvc := verifier.NewService(appleClient, googleClient)

	familyRepo := family.NewRepository(db.DB)

	ledgerRepo := ledger.NewRepository(db.DB)
	statusCache := ledger.NewStatusCache(redis.Client, cfg.Cache.StatusTTL)
	ledgerSvc := ledger.NewService(
		db.DB,
		ledgerRepo,
		verifierSvc,
		familyRepo,
		statusCache,
		cfg.Products,
		logger,
	)
	ledgerHandler := ledger.NewHandler(ledgerSvc)

	familySvc := family.NewService(familyRepo, ledgerSvc, logger)
	familyHandler := family.NewHandler(familySvc)

	webhookSvc := webhook.NewService(ledgerSvc, redis.Client, logger)
	webhookHandler := webhook.NewHandler(
		webhookSvc,
		cfg.PlayStore.PubSubSecret,
		logger,
	)

	sweepSvc := sweep.NewService(
		ledgerRepo,
		ledgerSvc,
		verifierSvc,
		cfg.Sweep,
		logger,
	)

	adminHandler := admin.NewHandler(sweepSvc, ledgerSvc)

	healthHandler := health.NewHandler(
		health.Dependency{Name: "database", Checker: db},
		health.Dependency{Name: "redis", Checker: redis},
	)

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	router.Use(
		middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
			Limit: middleware.PerMinute(
				cfg.RateLimit.Requests,
				cfg.RateLimit.Burst,
			),
			FailOpen: true,
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.App.Environment == "production"))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)
	webhookHandler.RegisterRoutes(router)

	authenticator := middleware.Authenticator(sessionVerifier)
	adminOnly := middleware.RequireAdmin

	router.Route("/v1", func(r chi.Router) {
		ledgerHandler.RegisterRoutes(r, authenticator)
		familyHandler.RegisterRoutes(r, authenticator)
		adminHandler.RegisterRoutes(r, authenticator, adminOnly)
	})

	go sweepSvc.Start(ctx)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("application stopped")
	return nil
}

func migrate(ctx context.Context, db *core.Database) error {
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db.DB.DB, ".")
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
