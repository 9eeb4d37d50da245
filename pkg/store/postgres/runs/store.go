package runs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/de-tools/usage-meter/pkg/models/store"
	"github.com/de-tools/usage-meter/pkg/store/postgres"
	"github.com/lib/pq"
)

// Store owns the derived run intervals. Runs are fully rewritten by the
// normalizer and recalculator; nothing else mutates them.
type Store interface {
	Add(ctx context.Context, runs []store.Run) error
	// ListAffected returns every run for the instance whose interval could be
	// changed by an event at occurredAt: runs starting at or after it, plus
	// runs open or closed that span it.
	ListAffected(ctx context.Context, instanceID string, occurredAt time.Time) ([]store.Run, error)
	// HasAffected is the existence-only variant of ListAffected.
	HasAffected(ctx context.Context, instanceID string, occurredAt time.Time) (bool, error)
	// ListOverlapping returns the user's runs intersecting [start, end).
	ListOverlapping(ctx context.Context, userID string, start, end time.Time) ([]store.Run, error)
	Delete(ctx context.Context, ids []string) error
}

type runStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return &runStore{db: db}, nil
}

func (s *runStore) Add(ctx context.Context, runs []store.Run) error {
	if len(runs) == 0 {
		return nil
	}

	q := postgres.GetQuerier(ctx, s.db)
	query := `
		INSERT INTO runs (
			id, user_id, instance_id, image_id, start_time, end_time,
			instance_type, memory, vcpu
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, run := range runs {
		var end sql.NullTime
		if run.EndTime != nil {
			end = sql.NullTime{Time: *run.EndTime, Valid: true}
		}
		_, err := q.ExecContext(ctx, query,
			run.ID,
			run.UserID,
			run.InstanceID,
			run.ImageID,
			run.StartTime,
			end,
			run.InstanceType,
			run.Memory,
			run.VCPU,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
	}
	return nil
}

const affectedFilter = `
	instance_id = $1 AND (
		start_time >= $2
		OR (start_time <= $2 AND end_time > $2)
		OR (start_time <= $2 AND end_time IS NULL)
	)`

func (s *runStore) ListAffected(
	ctx context.Context,
	instanceID string,
	occurredAt time.Time,
) ([]store.Run, error) {
	q := postgres.GetQuerier(ctx, s.db)
	query := `
		SELECT id, user_id, instance_id, image_id, start_time, end_time,
			instance_type, memory, vcpu
		FROM runs
		WHERE` + affectedFilter + `
		ORDER BY start_time, id`

	rows, err := q.QueryContext(ctx, query, instanceID, occurredAt)
	if err != nil {
		return nil, fmt.Errorf("query affected runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (s *runStore) HasAffected(
	ctx context.Context,
	instanceID string,
	occurredAt time.Time,
) (bool, error) {
	q := postgres.GetQuerier(ctx, s.db)
	query := `SELECT EXISTS (SELECT 1 FROM runs WHERE` + affectedFilter + `)`

	var exists bool
	if err := q.QueryRowContext(ctx, query, instanceID, occurredAt).Scan(&exists); err != nil {
		return false, fmt.Errorf("check affected runs: %w", err)
	}
	return exists, nil
}

func (s *runStore) ListOverlapping(
	ctx context.Context,
	userID string,
	start, end time.Time,
) ([]store.Run, error) {
	q := postgres.GetQuerier(ctx, s.db)
	query := `
		SELECT id, user_id, instance_id, image_id, start_time, end_time,
			instance_type, memory, vcpu
		FROM runs
		WHERE user_id = $1
			AND start_time < $3
			AND (end_time IS NULL OR end_time > $2)
		ORDER BY start_time, id`

	rows, err := q.QueryContext(ctx, query, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query overlapping runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (s *runStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	q := postgres.GetQuerier(ctx, s.db)
	_, err := q.ExecContext(ctx, `DELETE FROM runs WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	return nil
}

func scanRuns(rows *sql.Rows) ([]store.Run, error) {
	runs := make([]store.Run, 0)
	for rows.Next() {
		var (
			run store.Run
			end sql.NullTime
		)
		if err := rows.Scan(
			&run.ID,
			&run.UserID,
			&run.InstanceID,
			&run.ImageID,
			&run.StartTime,
			&end,
			&run.InstanceType,
			&run.Memory,
			&run.VCPU,
		); err != nil {
			return nil, err
		}
		if end.Valid {
			t := end.Time
			run.EndTime = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
