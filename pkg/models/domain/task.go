package domain

import "time"

type TaskStatus string

// Lifecycle of one usage-calculation attempt. SCHEDULED is the only
// non-terminal state; a task transitions exactly once to COMPLETE or ERROR
// and is never resurrected. A new attempt always gets a new task ID.
const (
	TaskScheduled TaskStatus = "SCHEDULED"
	TaskComplete  TaskStatus = "COMPLETE"
	TaskError     TaskStatus = "ERROR"
)

type CalculationTask struct {
	TaskID    string
	UserID    string
	Date      time.Time
	Status    TaskStatus
	CreatedAt time.Time
}
