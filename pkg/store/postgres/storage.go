package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const UsersSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
`

const UserTaskLocksSchema = `
	CREATE TABLE IF NOT EXISTS user_task_locks (
		user_id VARCHAR PRIMARY KEY REFERENCES users (id) ON DELETE CASCADE
	);
`

const InstanceEventsSchema = `
	CREATE TABLE IF NOT EXISTS instance_events (
		id VARCHAR PRIMARY KEY,
		user_id VARCHAR NOT NULL,
		instance_id VARCHAR NOT NULL,
		image_id VARCHAR NOT NULL,
		event_type VARCHAR NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		instance_type VARCHAR NOT NULL,
		memory DOUBLE PRECISION NOT NULL,
		vcpu INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS instance_events_instance_occurred_idx
		ON instance_events (instance_id, occurred_at);
`

const RunsSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		id VARCHAR PRIMARY KEY,
		user_id VARCHAR NOT NULL,
		instance_id VARCHAR NOT NULL,
		image_id VARCHAR NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NULL,
		instance_type VARCHAR NOT NULL,
		memory DOUBLE PRECISION NOT NULL,
		vcpu INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS runs_instance_start_idx ON runs (instance_id, start_time);
	CREATE INDEX IF NOT EXISTS runs_user_start_idx ON runs (user_id, start_time);
`

const ConcurrentUsageSchema = `
	CREATE TABLE IF NOT EXISTS concurrent_usage (
		user_id VARCHAR NOT NULL,
		date DATE NOT NULL,
		max_count INTEGER NOT NULL,
		max_vcpu INTEGER NOT NULL,
		max_memory DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (user_id, date)
	);
`

const CalculationTasksSchema = `
	CREATE TABLE IF NOT EXISTS calculation_tasks (
		task_id VARCHAR PRIMARY KEY,
		user_id VARCHAR NOT NULL,
		date DATE NOT NULL,
		status VARCHAR NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS calculation_tasks_scheduled_idx
		ON calculation_tasks (user_id, date) WHERE status = 'SCHEDULED';
`

var bootQueries = []string{
	UsersSchema,
	UserTaskLocksSchema,
	InstanceEventsSchema,
	RunsSchema,
	ConcurrentUsageSchema,
	CalculationTasksSchema,
}

type Settings struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

func NewDB(settings Settings) (*sql.DB, error) {
	db, err := sql.Open("postgres", settings.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if settings.MaxOpenConns > 0 {
		db.SetMaxOpenConns(settings.MaxOpenConns)
	}
	if settings.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(settings.ConnMaxLifetime)
	}

	for _, query := range bootQueries {
		if _, err := db.Exec(query); err != nil {
			db.Close()
			return nil, fmt.Errorf("bootstrap schema: %w", err)
		}
	}

	return db, nil
}
