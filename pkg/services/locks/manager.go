package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/de-tools/usage-meter/pkg/store/postgres"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// ErrLockTimeout means at least one requested user lock could not be
// acquired within the configured timeout. The enclosing operation failed and
// may be retried by the task queue's policy.
var ErrLockTimeout = errors.New("user task lock acquisition timed out")

const lockNotAvailable = "55P03"

// Manager serializes all mutating work per user through row locks on the
// user_task_locks table. Every critical section runs inside one transaction
// holding SELECT ... FOR UPDATE on the user's lock row, so release is
// guaranteed on commit, rollback, and connection loss alike.
type Manager struct {
	db      *sql.DB
	timeout time.Duration
}

func NewManager(db *sql.DB, timeout time.Duration) *Manager {
	return &Manager{db: db, timeout: timeout}
}

// WithUserLocks acquires exclusive locks for every given user, in canonical
// (sorted) order so overlapping lock sets cannot deadlock, then runs fn with
// the lock transaction carried in the context. The transaction commits only
// if fn returns nil; any error rolls it back and releases the locks.
func (m *Manager) WithUserLocks(
	ctx context.Context,
	userIDs []string,
	fn func(ctx context.Context) error,
) error {
	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lock transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				zerolog.Ctx(ctx).Error().Err(err).Msg("failed to roll back lock transaction")
			}
		}
	}()

	if m.timeout > 0 {
		query := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", m.timeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	for _, id := range ids {
		if err := m.acquire(ctx, tx, id); err != nil {
			return err
		}
	}

	if err := fn(postgres.WithTransaction(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit lock transaction: %w", err)
	}
	committed = true
	return nil
}

func (m *Manager) acquire(ctx context.Context, tx *sql.Tx, userID string) error {
	// Lock rows are created lazily the first time a user is locked.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_task_locks (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID); err != nil {
		return fmt.Errorf("ensure lock row for user %s: %w", userID, err)
	}

	var locked string
	err := tx.QueryRowContext(ctx,
		`SELECT user_id FROM user_task_locks WHERE user_id = $1 FOR UPDATE`,
		userID).Scan(&locked)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == lockNotAvailable {
			return fmt.Errorf("user %s: %w", userID, ErrLockTimeout)
		}
		return fmt.Errorf("acquire lock for user %s: %w", userID, err)
	}
	return nil
}
