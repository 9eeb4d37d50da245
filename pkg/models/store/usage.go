package store

import "time"

type ConcurrentUsage struct {
	UserID    string
	Date      time.Time
	MaxCount  int
	MaxVCPU   int
	MaxMemory float64
}

type CalculationTask struct {
	TaskID    string
	UserID    string
	Date      time.Time
	Status    string
	CreatedAt time.Time
}
