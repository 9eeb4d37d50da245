package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/de-tools/usage-meter/pkg/models/store"
	"github.com/de-tools/usage-meter/pkg/store/postgres"
)

var ErrNotFound = errors.New("calculation task not found")

// Store tracks calculation task lifecycle records. A partial unique index on
// (user_id, date) WHERE status = 'SCHEDULED' guarantees at most one
// outstanding task per pair; Create reports whether the insert won.
type Store interface {
	Create(ctx context.Context, task store.CalculationTask) (bool, error)
	Get(ctx context.Context, taskID string) (*store.CalculationTask, error)
	GetScheduled(ctx context.Context, userID string, date time.Time) (*store.CalculationTask, error)
	// SetStatus updates the task's status. A missing task is not an error:
	// the record may have been cleaned up while the attempt was in flight.
	SetStatus(ctx context.Context, taskID string, status string) error
}

type taskStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return &taskStore{db: db}, nil
}

func (s *taskStore) Create(ctx context.Context, task store.CalculationTask) (bool, error) {
	q := postgres.GetQuerier(ctx, s.db)
	query := `
		INSERT INTO calculation_tasks (task_id, user_id, date, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`

	res, err := q.ExecContext(ctx, query,
		task.TaskID,
		task.UserID,
		task.Date,
		task.Status,
		task.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert calculation task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert calculation task: %w", err)
	}
	return affected > 0, nil
}

func (s *taskStore) Get(ctx context.Context, taskID string) (*store.CalculationTask, error) {
	q := postgres.GetQuerier(ctx, s.db)
	query := `
		SELECT task_id, user_id, date, status, created_at
		FROM calculation_tasks
		WHERE task_id = $1`

	return scanTask(q.QueryRowContext(ctx, query, taskID))
}

func (s *taskStore) GetScheduled(
	ctx context.Context,
	userID string,
	date time.Time,
) (*store.CalculationTask, error) {
	q := postgres.GetQuerier(ctx, s.db)
	query := `
		SELECT task_id, user_id, date, status, created_at
		FROM calculation_tasks
		WHERE user_id = $1 AND date = $2 AND status = $3`

	return scanTask(q.QueryRowContext(ctx, query, userID, date, string(scheduledStatus)))
}

func (s *taskStore) SetStatus(ctx context.Context, taskID string, status string) error {
	q := postgres.GetQuerier(ctx, s.db)
	query := `UPDATE calculation_tasks SET status = $2 WHERE task_id = $1`

	if _, err := q.ExecContext(ctx, query, taskID, status); err != nil {
		return fmt.Errorf("update calculation task status: %w", err)
	}
	return nil
}

const scheduledStatus = "SCHEDULED"

func scanTask(row *sql.Row) (*store.CalculationTask, error) {
	var task store.CalculationTask
	err := row.Scan(
		&task.TaskID,
		&task.UserID,
		&task.Date,
		&task.Status,
		&task.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan calculation task: %w", err)
	}
	return &task, nil
}
