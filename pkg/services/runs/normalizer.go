package runs

import (
	"context"
	"sort"

	"github.com/de-tools/usage-meter/pkg/models/domain"
	"github.com/rs/zerolog"
)

// Normalize folds a power-state event history into non-overlapping runs, one
// per contiguous powered-on period. Events may span multiple instances; each
// instance is scanned independently in timestamp order.
//
// A power_on while a run is already open is ignored, and a power_off with no
// open run is discarded with a log line. Both show up routinely when the log
// pipeline re-delivers or reorders events, so neither is an error. If the
// scan ends with an open run it is emitted with a nil end time, meaning the
// instance is still running.
//
// Correctness depends on the input being a complete event suffix for each
// instance: the caller must include every event from the first one that can
// influence the rebuilt interval set.
func Normalize(ctx context.Context, events []domain.InstanceEvent) []domain.Run {
	logger := zerolog.Ctx(ctx)

	byInstance := make(map[string][]domain.InstanceEvent)
	instanceIDs := make([]string, 0)
	for _, event := range events {
		if _, seen := byInstance[event.InstanceID]; !seen {
			instanceIDs = append(instanceIDs, event.InstanceID)
		}
		byInstance[event.InstanceID] = append(byInstance[event.InstanceID], event)
	}
	sort.Strings(instanceIDs)

	runs := make([]domain.Run, 0)
	for _, instanceID := range instanceIDs {
		history := byInstance[instanceID]
		sort.SliceStable(history, func(i, j int) bool {
			return history[i].OccurredAt.Before(history[j].OccurredAt)
		})

		var open *domain.Run
		for _, event := range history {
			switch event.State {
			case domain.PowerOn:
				if open != nil {
					// Duplicate power-on signal for an already-running
					// instance; the open run already covers it.
					continue
				}
				open = &domain.Run{
					UserID:     event.UserID,
					InstanceID: event.InstanceID,
					ImageID:    event.ImageID,
					StartTime:  event.OccurredAt,
					Shape:      event.Shape,
				}
			case domain.PowerOff:
				if open == nil {
					logger.Info().
						Str("instance_id", event.InstanceID).
						Time("occurred_at", event.OccurredAt).
						Msg("discarding power_off with no open run")
					continue
				}
				end := event.OccurredAt
				open.EndTime = &end
				runs = append(runs, *open)
				open = nil
			}
		}
		if open != nil {
			runs = append(runs, *open)
		}
	}

	return runs
}
