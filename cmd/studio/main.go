package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atelier-ops/atelier/internal/app"
	"github.com/atelier-ops/atelier/internal/audit"
	audithttp "github.com/atelier-ops/atelier/internal/audit/http"
	"github.com/atelier-ops/atelier/internal/auth"
	"github.com/atelier-ops/atelier/internal/costlib"
	"github.com/atelier-ops/atelier/internal/observability"
	"github.com/atelier-ops/atelier/internal/platform/cache"
	"github.com/atelier-ops/atelier/internal/platform/db"
	"github.com/atelier-ops/atelier/internal/quotes"
	"github.com/atelier-ops/atelier/internal/rbac"
	"github.com/atelier-ops/atelier/internal/shared"
	"github.com/atelier-ops/atelier/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.AutoMigrate {
		if err := db.EnsureSchema(ctx, dbpool); err != nil {
			logger.Error("apply schema", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("schema applied")
	}

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	sessions := auth.NewSessionStore(redisClient, cfg.SessionPrefix)
	rbacMiddleware := rbac.Middleware{Logger: logger}

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	auditHandler := audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)))

	costRepo := costlib.NewRepository(dbpool)
	costCache := costlib.NewCache(redisClient, cfg.CostLibraryCacheTTL, logger)
	costService := costlib.NewService(costRepo, costCache)
	costHandler := costlib.NewHandler(logger, costService)

	redisOpts := cfg.AsynqRedisOpt()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	quoteRepo := quotes.NewRepository(dbpool)
	quoteService := quotes.NewService(quoteRepo, costService, quotes.Options{
		MaxAttempts: cfg.QuoteMaxAttempts,
		Logger:      logger,
		Audit:       auditLogger,
		Metrics:     metrics,
	})
	quoteHandler := quotes.NewHandler(logger, quoteService, rbacMiddleware, idempotencyStore, jobClient)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Sessions:       sessions,
		RBACMiddleware: rbacMiddleware,
		QuotesHandler:  quoteHandler,
		CostLibHandler: costHandler,
		JobHandler:     jobHandler,
		AuditHandler:   auditHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
