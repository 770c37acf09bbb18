package vat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/arden-pm/arden-pm/internal/jobs"
	"github.com/arden-pm/arden-pm/internal/shared"
	"github.com/arden-pm/arden-pm/jobs"
)

// runLockTTL bounds how long an automation run may hold its lock. Long enough
// for any realistic batch, short enough that a crashed run self-heals.
const runLockTTL = 15 * time.Minute

// TransitionScanJob handles the daily quarter-end scan, transition and
// optional chained auto-assignment.
type TransitionScanJob struct {
	Service *Service
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewTransitionScanJob initialises the transition scan handler.
func NewTransitionScanJob(service *Service, rdb *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *TransitionScanJob {
	return &TransitionScanJob{Service: service, Redis: rdb, Logger: logger, Metrics: metrics}
}

// Handle executes the transition pass. Two overlapping scheduler invocations
// would race on the same candidate set, so each run takes a best-effort redis
// lock; a contended run skips quietly instead of double-transitioning.
func (j *TransitionScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("vat transition scan: handler not configured")
	}
	var payload jobs.VATTransitionScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	logger := j.logger()

	release, ok := acquireRunLock(ctx, j.Redis, jobs.TaskTypeVATTransitionScan, logger)
	if !ok {
		return nil
	}
	defer release()

	tracker := j.metrics().Track(jobs.TaskTypeVATTransitionScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	run, err := j.Service.CheckTransitions(ctx)
	if err != nil {
		resultErr = err
		logger.Error("transition scan failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddQuarters("transitioned", run.Transitioned)
	j.metrics().AddEmails(EmailTypeTransition, run.Notified)

	if payload.AutoAssign {
		assign, err := j.Service.AutoAssign(ctx)
		if err != nil {
			resultErr = err
			logger.Error("chained auto-assign failed", slog.Any("error", err))
			return resultErr
		}
		j.metrics().AddQuarters("assigned", assign.Assigned)
		j.metrics().AddEmails(EmailTypeAssignment, assign.Assigned)
	}
	return resultErr
}

func (j *TransitionScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", jobs.TaskTypeVATTransitionScan))
	}
	return slog.Default().With(slog.String("job", jobs.TaskTypeVATTransitionScan))
}

func (j *TransitionScanJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}

// QuarterCreateJob handles the monthly quarter creation run.
type QuarterCreateJob struct {
	Service *Service
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewQuarterCreateJob initialises the quarter creation handler.
func NewQuarterCreateJob(service *Service, rdb *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *QuarterCreateJob {
	return &QuarterCreateJob{Service: service, Redis: rdb, Logger: logger, Metrics: metrics}
}

// Handle executes the creation pass, honouring a simulated date when the
// payload carries one.
func (j *QuarterCreateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("vat quarter create: handler not configured")
	}
	var payload jobs.VATQuarterCreatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	logger := j.logger()

	ref := j.Service.cal.Now()
	if payload.SimulatedDate != "" {
		parsed, err := time.ParseInLocation("2006-01-02", payload.SimulatedDate, j.Service.cal.Location())
		if err != nil {
			logger.Error("invalid simulated date", slog.String("value", payload.SimulatedDate))
			return asynq.SkipRetry
		}
		ref = parsed
	}

	release, ok := acquireRunLock(ctx, j.Redis, jobs.TaskTypeVATQuarterCreate, logger)
	if !ok {
		return nil
	}
	defer release()

	tracker := j.metrics().Track(jobs.TaskTypeVATQuarterCreate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	run, err := j.Service.CreateQuarters(ctx, ref, payload.SkipEmails)
	if err != nil {
		resultErr = err
		logger.Error("quarter creation failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddQuarters("created", run.Created)
	j.metrics().AddQuarters("skipped", run.Skipped)
	j.metrics().AddEmails(EmailTypeCreation, run.EmailsSent)
	return resultErr
}

func (j *QuarterCreateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", jobs.TaskTypeVATQuarterCreate))
	}
	return slog.Default().With(slog.String("job", jobs.TaskTypeVATQuarterCreate))
}

func (j *QuarterCreateJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}

// acquireRunLock takes a best-effort advisory lock for one job type. When
// redis is unavailable the run proceeds without the lock; the per-record
// transactions remain the correctness baseline.
func acquireRunLock(ctx context.Context, rdb *redis.Client, job string, logger *slog.Logger) (func(), bool) {
	if rdb == nil {
		return func() {}, true
	}
	key := shared.JobLockKey(job)
	ok, err := rdb.SetNX(ctx, key, time.Now().Format(time.RFC3339), runLockTTL).Result()
	if err != nil {
		logger.Warn("run lock unavailable, proceeding unlocked", slog.Any("error", err))
		return func() {}, true
	}
	if !ok {
		logger.Info("previous run still holds lock, skipping", slog.String("key", key))
		return nil, false
	}
	return func() {
		if err := rdb.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			logger.Warn("release run lock", slog.Any("error", err))
		}
	}, true
}
