package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/plantops/plantops/internal/app"
	"github.com/plantops/plantops/internal/audit"
	audithttp "github.com/plantops/plantops/internal/audit/http"
	"github.com/plantops/plantops/internal/auth"
	"github.com/plantops/plantops/internal/observability"
	"github.com/plantops/plantops/internal/permissions"
	permissionshttp "github.com/plantops/plantops/internal/permissions/http"
	"github.com/plantops/plantops/internal/platform/cache"
	"github.com/plantops/plantops/internal/platform/db"
	"github.com/plantops/plantops/internal/rbac"
	"github.com/plantops/plantops/internal/shared"
	"github.com/plantops/plantops/internal/users"
	"github.com/plantops/plantops/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ConnectTimeout: 10 * time.Second})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	permissionRepo := permissions.NewRepository(dbpool)
	permissionService := permissions.NewService(permissionRepo, permissions.ServiceConfig{
		Cache:    permissions.NewCache(redisClient, cfg.PermissionsCacheTTL, logger),
		Logger:   logger,
		Metrics:  permissions.NewMetrics(metrics.Registerer()),
		LocalTTL: cfg.PermissionsLocalTTL,
	})
	go func() {
		if err := permissionService.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("permission invalidation listener", slog.Any("error", err))
		}
	}()
	if _, err := permissionService.Warm(ctx); err != nil {
		logger.Warn("warm permission snapshot", slog.Any("error", err))
	}

	rbacMiddleware := rbac.Middleware{Authorizer: rbac.NewAuthorizer(permissionService), Logger: logger}

	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	usersHandler := users.NewHandler(logger, users.NewService(users.NewRepository(dbpool)), rbacMiddleware)

	permissionsHandler := permissionshttp.NewHandler(logger, permissionService, rbacMiddleware, cfg.PermissionsWriteLimit).
		WithIdempotency(shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL))
	auditService := audit.NewService(audit.NewRepository(dbpool))
	auditHandler := audithttp.NewHandler(logger, auditService, rbacMiddleware, cfg.AuditRateLimit)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	asynqClient := asynq.NewClient(redisOpts)
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobs.NewClient(asynqClient), rbacMiddleware, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Metrics:            metrics,
		AuthService:        authService,
		AuthHandler:        authHandler,
		UsersHandler:       usersHandler,
		PermissionsHandler: permissionsHandler,
		AuditHandler:       auditHandler,
		JobHandler:         jobHandler,
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
