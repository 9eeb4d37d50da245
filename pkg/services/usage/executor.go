package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/de-tools/usage-meter/pkg/models/domain"
	"github.com/de-tools/usage-meter/pkg/queue"
	"github.com/de-tools/usage-meter/pkg/services/locks"
	accountstore "github.com/de-tools/usage-meter/pkg/store/postgres/accounts"
	taskstore "github.com/de-tools/usage-meter/pkg/store/postgres/tasks"
	"github.com/rs/zerolog"
)

// UserLocker serializes mutating work per user. Satisfied by locks.Manager.
type UserLocker interface {
	WithUserLocks(ctx context.Context, userIDs []string, fn func(ctx context.Context) error) error
}

// UsageCalculator computes and persists one (user, date) snapshot.
type UsageCalculator interface {
	Calculate(ctx context.Context, userID string, date time.Time) (*domain.ConcurrentUsage, error)
}

// TaskScheduler creates a fresh SCHEDULED task for a (user, date) pair.
type TaskScheduler interface {
	Schedule(ctx context.Context, userID string, date time.Time) (*domain.CalculationTask, error)
}

// Executor runs one delivered calculation task through its lifecycle. The
// queue delivers at least once, so before doing any work the executor
// re-reads the task record under the user's lock and only ever moves it
// SCHEDULED → COMPLETE inside the same transaction that commits the
// snapshot. Duplicate deliveries find a terminal status and skip silently.
type Executor struct {
	accounts  accountstore.Store
	tasks     taskstore.Store
	calc      UsageCalculator
	locks     UserLocker
	scheduler TaskScheduler
}

func NewExecutor(
	accounts accountstore.Store,
	tasks taskstore.Store,
	calc UsageCalculator,
	locks UserLocker,
	scheduler TaskScheduler,
) *Executor {
	return &Executor{
		accounts:  accounts,
		tasks:     tasks,
		calc:      calc,
		locks:     locks,
		scheduler: scheduler,
	}
}

// Execute processes one delivery for the given task.
//
// Benign races are not errors: a missing user means its usage data is
// already cleaned up, a missing task record means the schedule was lost and
// a fresh one is created, and a non-SCHEDULED status means an earlier
// delivery already ran. A lock timeout is surfaced unchanged so queue retry
// policy can redeliver while the task is still SCHEDULED. Anything else
// marks the task ERROR and is re-returned for the queue's failure path.
func (e *Executor) Execute(ctx context.Context, taskID, userID string, date time.Time) error {
	date = domain.Day(date)
	logger := zerolog.Ctx(ctx).With().
		Str("task_id", taskID).
		Str("user_id", userID).
		Str("date", date.Format("2006-01-02")).
		Logger()
	ctx = logger.WithContext(ctx)

	exists, err := e.accounts.Exists(ctx, userID)
	if err != nil {
		return fmt.Errorf("check user exists: %w", err)
	}
	if !exists {
		logger.Info().Msg("user no longer exists, skipping calculation")
		return nil
	}

	err = e.locks.WithUserLocks(ctx, []string{userID}, func(ctx context.Context) error {
		task, err := e.tasks.Get(ctx, taskID)
		if errors.Is(err, taskstore.ErrNotFound) {
			// The record was lost after the delivery was enqueued. The user
			// still exists, so schedule a fresh attempt and consume this one.
			logger.Warn().Msg("calculation task record missing, scheduling a new one")
			if _, err := e.scheduler.Schedule(ctx, userID, date); err != nil {
				return fmt.Errorf("reschedule calculation: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read calculation task: %w", err)
		}

		if task.Status != string(domain.TaskScheduled) {
			logger.Info().
				Str("status", task.Status).
				Msg("calculation task already settled, skipping")
			return nil
		}

		if _, err := e.calc.Calculate(ctx, userID, date); err != nil {
			return err
		}
		return e.tasks.SetStatus(ctx, taskID, string(domain.TaskComplete))
	})
	if err != nil {
		if errors.Is(err, locks.ErrLockTimeout) {
			// The lock never was acquired and nothing ran; leave the task
			// SCHEDULED so a retried delivery can still execute it.
			return queue.MarkRetryable(err)
		}
		logger.Warn().Err(err).Msg("calculation failed, marking task as errored")
		// The lock transaction rolled back, so the ERROR status is written
		// in its own statement. A vanished record is tolerated.
		if serr := e.tasks.SetStatus(ctx, taskID, string(domain.TaskError)); serr != nil {
			logger.Error().Err(serr).Msg("failed to record task error status")
		}
		return err
	}

	logger.Info().Msg("calculation task completed")
	return nil
}
