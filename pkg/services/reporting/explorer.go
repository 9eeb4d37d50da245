package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/de-tools/usage-meter/pkg/adapters"
	"github.com/de-tools/usage-meter/pkg/models/domain"
	usagestore "github.com/de-tools/usage-meter/pkg/store/postgres/usage"
)

// Explorer is the read side of the metering engine: it serves the snapshots
// the calculator produced and never touches runs or events.
type Explorer interface {
	GetDailyUsage(ctx context.Context, userID string, date time.Time) (*domain.ConcurrentUsage, error)
	ListUsage(ctx context.Context, userID string, from, to time.Time) ([]domain.ConcurrentUsage, error)
}

type explorer struct {
	usage usagestore.Store
}

func NewExplorer(usage usagestore.Store) Explorer {
	return &explorer{usage: usage}
}

func (e *explorer) GetDailyUsage(
	ctx context.Context,
	userID string,
	date time.Time,
) (*domain.ConcurrentUsage, error) {
	stored, err := e.usage.Get(ctx, userID, domain.Day(date))
	if err != nil {
		return nil, err
	}
	mapped := adapters.MapStoreUsageToDomain(*stored)
	return &mapped, nil
}

func (e *explorer) ListUsage(
	ctx context.Context,
	userID string,
	from, to time.Time,
) ([]domain.ConcurrentUsage, error) {
	from, to = domain.Day(from), domain.Day(to)
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: %s is before %s",
			to.Format("2006-01-02"), from.Format("2006-01-02"))
	}

	stored, err := e.usage.ListRange(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	usages := make([]domain.ConcurrentUsage, 0, len(stored))
	for _, u := range stored {
		usages = append(usages, adapters.MapStoreUsageToDomain(u))
	}
	return usages, nil
}
