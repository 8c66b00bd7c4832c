// Package jobs wires background task processing on top of Asynq.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/herald-labs/herald/internal/jobs"
	"github.com/herald-labs/herald/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeQuotaReset is the task type for the recurring token quota reset.
	TaskTypeQuotaReset = "token:quota_reset"

	// quotaResetLockTTL bounds how long a crashed run can hold the lock.
	quotaResetLockTTL = 30 * time.Minute
)

// NewQuotaResetTask constructs the quota reset task. It carries no payload;
// the run always walks every token.
func NewQuotaResetTask() *asynq.Task {
	return asynq.NewTask(TaskTypeQuotaReset, nil)
}

// ResetRunner runs one quota reset sweep.
type ResetRunner interface {
	Run(ctx context.Context) error
}

// LockAcquirer takes a named cross-process lock.
type LockAcquirer interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, func(), error)
}

// QuotaResetJob executes the quota reset behind a cross-process lock so two
// workers firing on the same tick never sweep concurrently.
type QuotaResetJob struct {
	Resetter ResetRunner
	Locker   LockAcquirer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewQuotaResetJob initialises the quota reset handler.
func NewQuotaResetJob(resetter ResetRunner, locker LockAcquirer, logger *slog.Logger, metrics *jobmetrics.Metrics) *QuotaResetJob {
	return &QuotaResetJob{Resetter: resetter, Locker: locker, Logger: logger, Metrics: metrics}
}

// Handle executes one quota reset sweep. A tick that finds the lock held is
// skipped, not queued.
func (j *QuotaResetJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Resetter == nil {
		return errors.New("quota reset: handler not configured")
	}

	if j.Locker != nil {
		acquired, release, err := j.Locker.Acquire(ctx, shared.QuotaResetLockKey(), quotaResetLockTTL)
		if err != nil {
			j.Logger.Error("quota reset: acquire lock", slog.Any("error", err))
			return err
		}
		if !acquired {
			j.Logger.Info("quota reset: previous run still in flight, skipping tick")
			return nil
		}
		defer release()
	}

	tracker := j.Metrics.Track(TaskTypeQuotaReset)
	return tracker.End(j.Resetter.Run(ctx))
}
