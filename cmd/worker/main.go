package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/arden-pm/arden-pm/internal/app"
	jobmetrics "github.com/arden-pm/arden-pm/internal/jobs"
	"github.com/arden-pm/arden-pm/internal/platform/db"
	"github.com/arden-pm/arden-pm/internal/users"
	"github.com/arden-pm/arden-pm/internal/vat"
	"github.com/arden-pm/arden-pm/jobs"
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	cal, err := vat.NewCalendar(cfg.BusinessTimezone)
	if err != nil {
		logger.Error("load business calendar", slog.Any("error", err))
		os.Exit(1)
	}
	loc, err := time.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		logger.Error("load business timezone", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)

	userRepo := users.NewRepository(pool)
	userService := users.NewService(userRepo)

	vatRepo := vat.NewRepository(pool)
	vatService := vat.NewService(vatRepo, userService, cal, logger, vat.ServiceConfig{
		CreationDay: cfg.VATCreationDay,
	})

	transitionJob := vat.NewTransitionScanJob(vatService, redisClient, logger, metrics)
	creationJob := vat.NewQuarterCreateJob(vatService, redisClient, logger, metrics)

	asynqClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	dispatchJob := jobs.NewEmailDispatchJob(pool, asynqClient, logger)

	transitionTask, err := jobs.NewVATTransitionScanTask(jobs.VATTransitionScanPayload{AutoAssign: true})
	if err != nil {
		logger.Error("build transition task", slog.Any("error", err))
		os.Exit(1)
	}
	creationTask, err := jobs.NewVATQuarterCreateTask(jobs.VATQuarterCreatePayload{})
	if err != nil {
		logger.Error("build creation task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Location:  loc,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeVATTransitionScan, Handler: transitionJob.Handle},
			{Type: jobs.TaskTypeVATQuarterCreate, Handler: creationJob.Handle},
			{Type: jobs.TaskTypeEmailDispatch, Handler: dispatchJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			// Daily quarter-end scan with chained auto-assignment.
			{Spec: "30 2 * * *", Task: transitionTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			// Monthly creation run on the morning of the 1st; the service
			// gate re-checks the civil date.
			{Spec: "15 3 1 * *", Task: creationTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			// Email log drain.
			{Spec: "*/5 * * * *", Task: jobs.NewEmailDispatchTask()},
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
