package store

import "time"

type InstanceEvent struct {
	ID           string
	UserID       string
	InstanceID   string
	ImageID      string
	EventType    string
	OccurredAt   time.Time
	InstanceType string
	Memory       float64
	VCPU         int
}

type Run struct {
	ID           string
	UserID       string
	InstanceID   string
	ImageID      string
	StartTime    time.Time
	EndTime      *time.Time
	InstanceType string
	Memory       float64
	VCPU         int
}
