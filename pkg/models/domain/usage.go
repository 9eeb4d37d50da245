package domain

import "time"

// ConcurrentUsage is the per-user, per-day snapshot of peak simultaneous
// instance usage. Date is midnight UTC of the day it describes. One snapshot
// exists per (user, date); recomputation overwrites it.
type ConcurrentUsage struct {
	UserID    string
	Date      time.Time
	MaxCount  int
	MaxVCPU   int
	MaxMemory float64
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
