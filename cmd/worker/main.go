package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/herald-labs/herald/internal/app"
	jobmetrics "github.com/herald-labs/herald/internal/jobs"
	"github.com/herald-labs/herald/internal/observability"
	"github.com/herald-labs/herald/internal/platform/cache"
	"github.com/herald-labs/herald/internal/platform/db"
	"github.com/herald-labs/herald/internal/token"
	"github.com/herald-labs/herald/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
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
	tokenRepo := token.NewRepository(pool)
	resetter := token.NewResetter(tokenRepo, logger, metrics, cfg.QuotaResetBatchSize)
	resetJob := jobs.NewQuotaResetJob(resetter, cache.NewLocker(redisClient), logger, jobmetrics.NewMetrics(metrics.Registerer()))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeQuotaReset, Handler: resetJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.QuotaResetCron, Task: jobs.NewQuotaResetTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
