package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/de-tools/usage-meter/pkg/adapters"
	"github.com/de-tools/usage-meter/pkg/models/domain"
	runstore "github.com/de-tools/usage-meter/pkg/store/postgres/runs"
	usagestore "github.com/de-tools/usage-meter/pkg/store/postgres/usage"
)

// Calculator computes the per-day peak of simultaneously running instances
// for one user and persists it as a ConcurrentUsage snapshot. The result is
// a pure function of the user's run set and the date, so recomputing the
// same (user, date) any number of times yields the identical snapshot.
type Calculator struct {
	runs  runstore.Store
	usage usagestore.Store
}

func NewCalculator(runs runstore.Store, usage usagestore.Store) *Calculator {
	return &Calculator{runs: runs, usage: usage}
}

// Calculate computes and upserts the snapshot for the user's given day,
// replacing any prior snapshot for the same key.
func (c *Calculator) Calculate(
	ctx context.Context,
	userID string,
	date time.Time,
) (*domain.ConcurrentUsage, error) {
	dayStart := domain.Day(date)
	dayEnd := dayStart.Add(24 * time.Hour)

	stored, err := c.runs.ListOverlapping(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list runs for %s on %s: %w", userID, dayStart.Format("2006-01-02"), err)
	}

	runs := make([]domain.Run, 0, len(stored))
	for _, r := range stored {
		runs = append(runs, adapters.MapStoreRunToDomain(r))
	}

	usage := maxConcurrent(userID, dayStart, dayEnd, runs)
	if err := c.usage.Upsert(ctx, adapters.MapDomainUsageToStore(usage)); err != nil {
		return nil, fmt.Errorf("persist concurrent usage: %w", err)
	}
	return &usage, nil
}

type sweepPoint struct {
	at     time.Time
	start  bool
	vcpu   int
	memory float64
}

// maxConcurrent sweeps run start/end points clipped to [dayStart, dayEnd).
// Runs are half-open intervals, so an end and a start at the same instant do
// not overlap: ends are processed first. The peak is checked only after
// starts, and only a strictly greater count replaces it, so ties resolve to
// the earliest-occurring peak.
func maxConcurrent(userID string, dayStart, dayEnd time.Time, runs []domain.Run) domain.ConcurrentUsage {
	points := make([]sweepPoint, 0, 2*len(runs))
	for _, run := range runs {
		start := run.StartTime
		if start.Before(dayStart) {
			start = dayStart
		}
		points = append(points, sweepPoint{
			at:     start,
			start:  true,
			vcpu:   run.Shape.VCPU,
			memory: run.Shape.Memory,
		})
		if run.EndTime != nil && run.EndTime.Before(dayEnd) {
			points = append(points, sweepPoint{
				at:     *run.EndTime,
				vcpu:   run.Shape.VCPU,
				memory: run.Shape.Memory,
			})
		}
	}

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].at.Equal(points[j].at) {
			return !points[i].start && points[j].start
		}
		return points[i].at.Before(points[j].at)
	})

	usage := domain.ConcurrentUsage{UserID: userID, Date: dayStart}
	var count, vcpu int
	var memory float64
	for _, p := range points {
		if p.start {
			count++
			vcpu += p.vcpu
			memory += p.memory
			if count > usage.MaxCount {
				usage.MaxCount = count
				usage.MaxVCPU = vcpu
				usage.MaxMemory = memory
			}
		} else {
			count--
			vcpu -= p.vcpu
			memory -= p.memory
		}
	}
	return usage
}
