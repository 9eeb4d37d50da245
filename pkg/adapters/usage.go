package adapters

import (
	"github.com/de-tools/usage-meter/pkg/models/api"
	"github.com/de-tools/usage-meter/pkg/models/domain"
	"github.com/de-tools/usage-meter/pkg/models/store"
)

func MapDomainEventToStore(event domain.InstanceEvent) store.InstanceEvent {
	return store.InstanceEvent{
		ID:           event.ID,
		UserID:       event.UserID,
		InstanceID:   event.InstanceID,
		ImageID:      event.ImageID,
		EventType:    string(event.State),
		OccurredAt:   event.OccurredAt,
		InstanceType: event.Shape.InstanceType,
		Memory:       event.Shape.Memory,
		VCPU:         event.Shape.VCPU,
	}
}

func MapStoreEventToDomain(event store.InstanceEvent) domain.InstanceEvent {
	return domain.InstanceEvent{
		ID:         event.ID,
		UserID:     event.UserID,
		InstanceID: event.InstanceID,
		ImageID:    event.ImageID,
		State:      domain.PowerState(event.EventType),
		OccurredAt: event.OccurredAt,
		Shape: domain.InstanceShape{
			InstanceType: event.InstanceType,
			Memory:       event.Memory,
			VCPU:         event.VCPU,
		},
	}
}

func MapDomainRunToStore(run domain.Run) store.Run {
	return store.Run{
		ID:           run.ID,
		UserID:       run.UserID,
		InstanceID:   run.InstanceID,
		ImageID:      run.ImageID,
		StartTime:    run.StartTime,
		EndTime:      run.EndTime,
		InstanceType: run.Shape.InstanceType,
		Memory:       run.Shape.Memory,
		VCPU:         run.Shape.VCPU,
	}
}

func MapStoreRunToDomain(run store.Run) domain.Run {
	return domain.Run{
		ID:         run.ID,
		UserID:     run.UserID,
		InstanceID: run.InstanceID,
		ImageID:    run.ImageID,
		StartTime:  run.StartTime,
		EndTime:    run.EndTime,
		Shape: domain.InstanceShape{
			InstanceType: run.InstanceType,
			Memory:       run.Memory,
			VCPU:         run.VCPU,
		},
	}
}

func MapDomainUsageToStore(usage domain.ConcurrentUsage) store.ConcurrentUsage {
	return store.ConcurrentUsage{
		UserID:    usage.UserID,
		Date:      usage.Date,
		MaxCount:  usage.MaxCount,
		MaxVCPU:   usage.MaxVCPU,
		MaxMemory: usage.MaxMemory,
	}
}

func MapStoreUsageToDomain(usage store.ConcurrentUsage) domain.ConcurrentUsage {
	return domain.ConcurrentUsage{
		UserID:    usage.UserID,
		Date:      usage.Date,
		MaxCount:  usage.MaxCount,
		MaxVCPU:   usage.MaxVCPU,
		MaxMemory: usage.MaxMemory,
	}
}

func MapStoreTaskToDomain(task store.CalculationTask) domain.CalculationTask {
	return domain.CalculationTask{
		TaskID:    task.TaskID,
		UserID:    task.UserID,
		Date:      task.Date,
		Status:    domain.TaskStatus(task.Status),
		CreatedAt: task.CreatedAt,
	}
}

func MapUsageDomainToApi(usage domain.ConcurrentUsage) api.ConcurrentUsage {
	return api.ConcurrentUsage{
		UserID:    usage.UserID,
		Date:      usage.Date.Format("2006-01-02"),
		MaxCount:  usage.MaxCount,
		MaxVCPU:   usage.MaxVCPU,
		MaxMemory: usage.MaxMemory,
	}
}
