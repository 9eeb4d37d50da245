package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/de-tools/usage-meter/pkg/models/store"
	"github.com/de-tools/usage-meter/pkg/store/postgres"
)

var ErrNotFound = errors.New("concurrent usage not found")

// Store holds the per-(user, date) peak-usage snapshots consumed by the
// reporting layer. Recomputation replaces the row in place.
type Store interface {
	Upsert(ctx context.Context, usage store.ConcurrentUsage) error
	Get(ctx context.Context, userID string, date time.Time) (*store.ConcurrentUsage, error)
	ListRange(ctx context.Context, userID string, from, to time.Time) ([]store.ConcurrentUsage, error)
}

type usageStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return &usageStore{db: db}, nil
}

func (s *usageStore) Upsert(ctx context.Context, usage store.ConcurrentUsage) error {
	q := postgres.GetQuerier(ctx, s.db)
	query := `
		INSERT INTO concurrent_usage (user_id, date, max_count, max_vcpu, max_memory)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, date) DO UPDATE SET
			max_count = EXCLUDED.max_count,
			max_vcpu = EXCLUDED.max_vcpu,
			max_memory = EXCLUDED.max_memory`

	_, err := q.ExecContext(ctx, query,
		usage.UserID,
		usage.Date,
		usage.MaxCount,
		usage.MaxVCPU,
		usage.MaxMemory,
	)
	if err != nil {
		return fmt.Errorf("upsert concurrent usage: %w", err)
	}
	return nil
}

func (s *usageStore) Get(
	ctx context.Context,
	userID string,
	date time.Time,
) (*store.ConcurrentUsage, error) {
	q := postgres.GetQuerier(ctx, s.db)
	query := `
		SELECT user_id, date, max_count, max_vcpu, max_memory
		FROM concurrent_usage
		WHERE user_id = $1 AND date = $2`

	var usage store.ConcurrentUsage
	err := q.QueryRowContext(ctx, query, userID, date).Scan(
		&usage.UserID,
		&usage.Date,
		&usage.MaxCount,
		&usage.MaxVCPU,
		&usage.MaxMemory,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get concurrent usage: %w", err)
	}
	return &usage, nil
}

func (s *usageStore) ListRange(
	ctx context.Context,
	userID string,
	from, to time.Time,
) ([]store.ConcurrentUsage, error) {
	q := postgres.GetQuerier(ctx, s.db)
	query := `
		SELECT user_id, date, max_count, max_vcpu, max_memory
		FROM concurrent_usage
		WHERE user_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date`

	rows, err := q.QueryContext(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query concurrent usage: %w", err)
	}
	defer rows.Close()

	usages := make([]store.ConcurrentUsage, 0)
	for rows.Next() {
		var usage store.ConcurrentUsage
		if err := rows.Scan(
			&usage.UserID,
			&usage.Date,
			&usage.MaxCount,
			&usage.MaxVCPU,
			&usage.MaxMemory,
		); err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}
	return usages, rows.Err()
}
