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
	"golang.org/x/sync/errgroup"

	"github.com/herald-labs/herald/internal/access"
	"github.com/herald-labs/herald/internal/app"
	"github.com/herald-labs/herald/internal/audit"
	"github.com/herald-labs/herald/internal/auth"
	"github.com/herald-labs/herald/internal/invite"
	"github.com/herald-labs/herald/internal/observability"
	"github.com/herald-labs/herald/internal/platform/cache"
	"github.com/herald-labs/herald/internal/platform/db"
	"github.com/herald-labs/herald/internal/relay"
	"github.com/herald-labs/herald/internal/resource"
	"github.com/herald-labs/herald/internal/shared"
	"github.com/herald-labs/herald/internal/token"
	"github.com/herald-labs/herald/internal/users"
	"github.com/herald-labs/herald/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		logger.Error("init auth", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	tokenRepo := token.NewRepository(dbpool)
	authority := token.NewAuthority(tokenRepo, auditLogger, logger)
	tokenHandler := token.NewHandler(logger, authority)
	guard := token.NewGuard(authority, logger, metrics)

	owners := resource.NewStore(dbpool)
	directory := users.NewDirectory(dbpool)
	accessRepo := access.NewRepository(dbpool)
	accessService := access.NewService(accessRepo, owners, directory, auditLogger, logger)
	accessHandler := access.NewHandler(logger, accessService)

	inviteRepo := invite.NewRepository(dbpool)
	inviteService := invite.NewService(inviteRepo, accessService, auditLogger, logger)
	inviteHandler := invite.NewHandler(logger, inviteService)

	auditHandler := audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)))

	// Without an upstream this deployment is a receiving end; deliveries are
	// logged rather than chained onward.
	var deliverer relay.Deliverer = relay.NewLogDeliverer(logger)
	if cfg.RelayUpstreamURL != "" {
		deliverer = relay.NewClient(cfg.RelayUpstreamURL, cfg.RelayBearer)
		logger.Info("relay upstream configured", slog.String("url", cfg.RelayUpstreamURL))
	}
	relayHandler := relay.NewHandler(logger, deliverer, authority)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Verifier:      verifier,
		TokenHandler:  tokenHandler,
		AccessHandler: accessHandler,
		InviteHandler: inviteHandler,
		AuditHandler:  auditHandler,
		RelayHandler:  relayHandler,
		Guard:         guard,
		JobHandler:    jobHandler,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
