package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/de-tools/usage-meter/pkg/models/store"
	"github.com/de-tools/usage-meter/pkg/store/postgres"
)

// Store persists the append-only power-state event history. Events are never
// updated or deleted; corrections arrive as new events and are reconciled at
// the run level.
type Store interface {
	Add(ctx context.Context, event store.InstanceEvent) error
	ListByInstanceFrom(ctx context.Context, instanceID string, from time.Time) ([]store.InstanceEvent, error)
}

type eventStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return &eventStore{db: db}, nil
}

func (s *eventStore) Add(ctx context.Context, event store.InstanceEvent) error {
	q := postgres.GetQuerier(ctx, s.db)
	query := `
		INSERT INTO instance_events (
			id, user_id, instance_id, image_id, event_type,
			occurred_at, instance_type, memory, vcpu
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := q.ExecContext(ctx, query,
		event.ID,
		event.UserID,
		event.InstanceID,
		event.ImageID,
		event.EventType,
		event.OccurredAt,
		event.InstanceType,
		event.Memory,
		event.VCPU,
	)
	if err != nil {
		return fmt.Errorf("insert instance event: %w", err)
	}
	return nil
}

func (s *eventStore) ListByInstanceFrom(
	ctx context.Context,
	instanceID string,
	from time.Time,
) ([]store.InstanceEvent, error) {
	q := postgres.GetQuerier(ctx, s.db)
	query := `
		SELECT id, user_id, instance_id, image_id, event_type,
			occurred_at, instance_type, memory, vcpu
		FROM instance_events
		WHERE instance_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at, id`

	rows, err := q.QueryContext(ctx, query, instanceID, from)
	if err != nil {
		return nil, fmt.Errorf("query instance events: %w", err)
	}
	defer rows.Close()

	events := make([]store.InstanceEvent, 0)
	for rows.Next() {
		var e store.InstanceEvent
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.InstanceID,
			&e.ImageID,
			&e.EventType,
			&e.OccurredAt,
			&e.InstanceType,
			&e.Memory,
			&e.VCPU,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
