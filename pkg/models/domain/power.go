package domain

import "time"

type PowerState string

const (
	PowerOn  PowerState = "power_on"
	PowerOff PowerState = "power_off"
)

// InstanceShape captures the size of an instance at a point in time.
// Memory is in GiB.
type InstanceShape struct {
	InstanceType string
	Memory       float64
	VCPU         int
}

// InstanceEvent is an immutable power-state transition reported by the
// log-analysis pipeline. Events are never mutated or deleted once stored.
type InstanceEvent struct {
	ID         string
	UserID     string
	InstanceID string
	ImageID    string
	State      PowerState
	OccurredAt time.Time
	Shape      InstanceShape
}

// Run is a derived interval of continuous powered-on time for one instance.
// EndTime is nil while the instance is still running. For a fixed instance,
// runs never overlap and at most one run is open at any time.
type Run struct {
	ID         string
	UserID     string
	InstanceID string
	ImageID    string
	StartTime  time.Time
	EndTime    *time.Time
	Shape      InstanceShape
}

// Active reports whether the run covers the instant t, treating the run as
// the half-open interval [StartTime, EndTime).
func (r Run) Active(t time.Time) bool {
	if t.Before(r.StartTime) {
		return false
	}
	return r.EndTime == nil || t.Before(*r.EndTime)
}
