package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/de-tools/usage-meter/pkg/adapters"
	"github.com/de-tools/usage-meter/pkg/models/domain"
	"github.com/de-tools/usage-meter/pkg/models/store"
	"github.com/de-tools/usage-meter/pkg/queue"
	taskstore "github.com/de-tools/usage-meter/pkg/store/postgres/tasks"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scheduler ensures at most one SCHEDULED calculation task exists per
// (user, date) and submits the computation with a short debounce delay, so a
// burst of events touching the same pair collapses into a single run. The
// partial unique index behind the task store decides the race: only the
// attempt whose insert won submits a queue payload.
type Scheduler struct {
	tasks    taskstore.Store
	queue    queue.Queue
	debounce time.Duration
	clock    quartz.Clock
}

type SchedulerOption func(*Scheduler)

func WithClock(clock quartz.Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

func NewScheduler(
	tasks taskstore.Store,
	q queue.Queue,
	debounce time.Duration,
	opts ...SchedulerOption,
) *Scheduler {
	s := &Scheduler{
		tasks:    tasks,
		queue:    q,
		debounce: debounce,
		clock:    quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule records a SCHEDULED task for (user, date) and submits it for
// asynchronous execution. If a SCHEDULED task already exists for the pair it
// is reused and nothing is submitted.
func (s *Scheduler) Schedule(
	ctx context.Context,
	userID string,
	date time.Time,
) (*domain.CalculationTask, error) {
	logger := zerolog.Ctx(ctx)
	date = domain.Day(date)

	// Two attempts: if the existing SCHEDULED task completes between our
	// failed insert and the lookup, the second insert wins.
	for attempt := 0; attempt < 2; attempt++ {
		task := store.CalculationTask{
			TaskID:    uuid.NewString(),
			UserID:    userID,
			Date:      date,
			Status:    string(domain.TaskScheduled),
			CreatedAt: s.clock.Now().UTC(),
		}

		created, err := s.tasks.Create(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("create calculation task: %w", err)
		}

		if !created {
			existing, err := s.tasks.GetScheduled(ctx, userID, date)
			if errors.Is(err, taskstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("look up scheduled task: %w", err)
			}
			logger.Debug().
				Str("user_id", userID).
				Str("date", date.Format("2006-01-02")).
				Str("task_id", existing.TaskID).
				Msg("reusing outstanding calculation task")
			mapped := adapters.MapStoreTaskToDomain(*existing)
			return &mapped, nil
		}

		payload := queue.Payload{TaskID: task.TaskID, UserID: userID, Date: date}
		if err := s.queue.Submit(ctx, payload, s.debounce); err != nil {
			// The record would otherwise sit SCHEDULED forever and block
			// future scheduling for this pair.
			if serr := s.tasks.SetStatus(ctx, task.TaskID, string(domain.TaskError)); serr != nil {
				logger.Error().Err(serr).
					Str("task_id", task.TaskID).
					Msg("failed to mark unsubmitted task as errored")
			}
			return nil, fmt.Errorf("submit calculation task: %w", err)
		}

		logger.Info().
			Str("user_id", userID).
			Str("date", date.Format("2006-01-02")).
			Str("task_id", task.TaskID).
			Dur("debounce", s.debounce).
			Msg("calculation task scheduled")
		mapped := adapters.MapStoreTaskToDomain(task)
		return &mapped, nil
	}

	return nil, fmt.Errorf("could not schedule calculation for user %s on %s", userID, date.Format("2006-01-02"))
}
