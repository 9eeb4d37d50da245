package runs

import (
	"context"
	"fmt"
	"time"

	"github.com/de-tools/usage-meter/pkg/adapters"
	"github.com/de-tools/usage-meter/pkg/models/domain"
	"github.com/de-tools/usage-meter/pkg/models/store"
	eventstore "github.com/de-tools/usage-meter/pkg/store/postgres/events"
	runstore "github.com/de-tools/usage-meter/pkg/store/postgres/runs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Result describes a finished recalculation. EarliestStart is the start of
// the oldest run that was rebuilt; every date from it through the present may
// have a different max-concurrency and needs its usage snapshot recomputed.
type Result struct {
	Runs          []domain.Run
	EarliestStart time.Time
}

// Recalculator rebuilds an instance's run intervals when an event lands at or
// before already-processed history. It removes every run the event could
// affect and re-normalizes the instance's surviving event suffix, so the
// rebuilt set is consistent regardless of how late or out of order the
// triggering event arrived. The caller must hold the owning user's task lock
// and must have persisted the triggering event first.
type Recalculator struct {
	events eventstore.Store
	runs   runstore.Store
}

func NewRecalculator(events eventstore.Store, runs runstore.Store) *Recalculator {
	return &Recalculator{events: events, runs: runs}
}

func (r *Recalculator) Recalculate(
	ctx context.Context,
	event domain.InstanceEvent,
) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	affected, err := r.runs.ListAffected(ctx, event.InstanceID, event.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("list affected runs: %w", err)
	}

	from := event.OccurredAt
	ids := make([]string, 0, len(affected))
	for _, run := range affected {
		ids = append(ids, run.ID)
		if run.StartTime.Before(from) {
			from = run.StartTime
		}
	}

	if err := r.runs.Delete(ctx, ids); err != nil {
		return nil, fmt.Errorf("delete affected runs: %w", err)
	}

	history, err := r.events.ListByInstanceFrom(ctx, event.InstanceID, from)
	if err != nil {
		return nil, fmt.Errorf("list event history: %w", err)
	}

	domainEvents := make([]domain.InstanceEvent, 0, len(history))
	for _, e := range history {
		domainEvents = append(domainEvents, adapters.MapStoreEventToDomain(e))
	}

	rebuilt := Normalize(ctx, domainEvents)
	stored := make([]store.Run, 0, len(rebuilt))
	for i := range rebuilt {
		rebuilt[i].ID = uuid.NewString()
		stored = append(stored, adapters.MapDomainRunToStore(rebuilt[i]))
	}

	if err := r.runs.Add(ctx, stored); err != nil {
		return nil, fmt.Errorf("persist rebuilt runs: %w", err)
	}

	logger.Info().
		Str("instance_id", event.InstanceID).
		Int("removed_runs", len(affected)).
		Int("rebuilt_runs", len(rebuilt)).
		Time("from", from).
		Msg("recalculated runs")

	return &Result{Runs: rebuilt, EarliestStart: from}, nil
}
