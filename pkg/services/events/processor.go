package events

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/coder/quartz"
	"github.com/de-tools/usage-meter/pkg/adapters"
	"github.com/de-tools/usage-meter/pkg/models/domain"
	"github.com/de-tools/usage-meter/pkg/models/store"
	"github.com/de-tools/usage-meter/pkg/services/runs"
	"github.com/de-tools/usage-meter/pkg/services/usage"
	eventstore "github.com/de-tools/usage-meter/pkg/store/postgres/events"
	runstore "github.com/de-tools/usage-meter/pkg/store/postgres/runs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
)

// DefaultMaxRecalculationDays bounds how far back a single backfilled event
// may fan out usage recomputation. The underlying design has no cap, which
// makes one very old event a resource-exhaustion hazard; dates older than
// the cap keep their existing snapshots until recomputed by other means.
const DefaultMaxRecalculationDays = 180

// Processor turns inbound power-state events into run mutations. An event
// that touches already-processed history goes through the recalculator; a
// fresh power_on at the tail becomes a new run. All run mutation happens
// under the owning user's task lock; usage recomputation for the touched
// dates is scheduled after the lock is released.
type Processor struct {
	events        eventstore.Store
	runs          runstore.Store
	recalc        *runs.Recalculator
	locks         usage.UserLocker
	scheduler     usage.TaskScheduler
	clock         quartz.Clock
	maxRecalcDays int
}

type ProcessorOption func(*Processor)

func WithProcessorClock(clock quartz.Clock) ProcessorOption {
	return func(p *Processor) {
		p.clock = clock
	}
}

func WithMaxRecalculationDays(days int) ProcessorOption {
	return func(p *Processor) {
		p.maxRecalcDays = days
	}
}

func NewProcessor(
	events eventstore.Store,
	runStore runstore.Store,
	recalc *runs.Recalculator,
	locks usage.UserLocker,
	scheduler usage.TaskScheduler,
	opts ...ProcessorOption,
) *Processor {
	p := &Processor{
		events:        events,
		runs:          runStore,
		recalc:        recalc,
		locks:         locks,
		scheduler:     scheduler,
		clock:         quartz.NewReal(),
		maxRecalcDays: DefaultMaxRecalculationDays,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process persists the event, reconciles the instance's runs, and schedules
// usage recomputation for every date whose peak could have changed.
func (p *Processor) Process(ctx context.Context, event domain.InstanceEvent) error {
	logger := zerolog.Ctx(ctx).With().
		Str("instance_id", event.InstanceID).
		Str("user_id", event.UserID).
		Logger()
	ctx = logger.WithContext(ctx)

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	today := domain.Day(p.clock.Now())

	var dates []time.Time
	err := p.locks.WithUserLocks(ctx, []string{event.UserID}, func(ctx context.Context) error {
		if err := p.events.Add(ctx, adapters.MapDomainEventToStore(event)); err != nil {
			return err
		}

		affected, err := p.runs.HasAffected(ctx, event.InstanceID, event.OccurredAt)
		if err != nil {
			return err
		}

		switch {
		case affected:
			result, err := p.recalc.Recalculate(ctx, event)
			if err != nil {
				return err
			}
			dates = p.datesFrom(ctx, domain.Day(result.EarliestStart), today)
		case event.State == domain.PowerOn:
			newRuns := runs.Normalize(ctx, []domain.InstanceEvent{event})
			stored := make([]store.Run, 0, len(newRuns))
			for i := range newRuns {
				newRuns[i].ID = uuid.NewString()
				stored = append(stored, adapters.MapDomainRunToStore(newRuns[i]))
			}
			if err := p.runs.Add(ctx, stored); err != nil {
				return err
			}
			dates = runDates(newRuns, today)
		default:
			// A power_off with no runs to touch; the normalizer would
			// discard it anyway.
			logger.Info().
				Time("occurred_at", event.OccurredAt).
				Msg("power_off without matching history, nothing to reconcile")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("process instance event: %w", err)
	}

	for _, date := range dates {
		if _, err := p.scheduler.Schedule(ctx, event.UserID, date); err != nil {
			return fmt.Errorf("schedule usage calculation for %s: %w", date.Format("2006-01-02"), err)
		}
	}
	return nil
}

// datesFrom expands [from, today] into individual days, clipped to the
// configured backward cap.
func (p *Processor) datesFrom(ctx context.Context, from, today time.Time) []time.Time {
	if from.After(today) {
		from = today
	}

	total := int(today.Sub(from).Hours()/24) + 1
	if p.maxRecalcDays > 0 && total > p.maxRecalcDays {
		clipped := total - p.maxRecalcDays
		from = today.AddDate(0, 0, -(p.maxRecalcDays - 1))
		total = p.maxRecalcDays
		zerolog.Ctx(ctx).Warn().
			Int("clipped_days", clipped).
			Time("from", from).
			Msg("recalculation fan-out clipped by cap")
	}

	dates := make([]time.Time, 0, total)
	for d := from; !d.After(today); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	zerolog.Ctx(ctx).Info().
		Int("fan_out", len(dates)).
		Msg("scheduling usage recomputation")
	return dates
}

// runDates collects the distinct days covered by the given runs, using today
// as the end for still-open runs.
func runDates(rs []domain.Run, today time.Time) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, run := range rs {
		end := today
		if run.EndTime != nil {
			end = domain.Day(*run.EndTime)
		}
		for d := domain.Day(run.StartTime); !d.After(end); d = d.AddDate(0, 0, 1) {
			seen[d] = struct{}{}
		}
	}

	dates := maps.Keys(seen)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
