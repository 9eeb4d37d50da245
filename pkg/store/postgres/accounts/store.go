package accounts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/de-tools/usage-meter/pkg/store/postgres"
)

// Store manages user rows and their lazily-created task-lock rows. A lock
// row lives as long as its user; deleting the user cascades to the lock.
type Store interface {
	// Ensure creates the user and its task-lock row if either is missing.
	Ensure(ctx context.Context, userID string) error
	Exists(ctx context.Context, userID string) (bool, error)
}

type accountStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return &accountStore{db: db}, nil
}

func (s *accountStore) Ensure(ctx context.Context, userID string) error {
	q := postgres.GetQuerier(ctx, s.db)

	if _, err := q.ExecContext(ctx,
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO user_task_locks (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID); err != nil {
		return fmt.Errorf("ensure user task lock: %w", err)
	}
	return nil
}

func (s *accountStore) Exists(ctx context.Context, userID string) (bool, error) {
	q := postgres.GetQuerier(ctx, s.db)

	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}
