// Package storetest provides in-memory implementations of the postgres
// store interfaces for service-level tests. Behavior mirrors the SQL
// filters, including the half-open interval semantics of runs.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/de-tools/usage-meter/pkg/models/store"
	taskstore "github.com/de-tools/usage-meter/pkg/store/postgres/tasks"
	usagestore "github.com/de-tools/usage-meter/pkg/store/postgres/usage"
)

type EventStore struct {
	mu     sync.Mutex
	events []store.InstanceEvent
}

func NewEventStore() *EventStore {
	return &EventStore{}
}

func (s *EventStore) Add(_ context.Context, event store.InstanceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == event.ID {
			return nil
		}
	}
	s.events = append(s.events, event)
	return nil
}

func (s *EventStore) ListByInstanceFrom(
	_ context.Context,
	instanceID string,
	from time.Time,
) ([]store.InstanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.InstanceEvent, 0)
	for _, e := range s.events {
		if e.InstanceID == instanceID && !e.OccurredAt.Before(from) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

type RunStore struct {
	mu   sync.Mutex
	runs map[string]store.Run
}

func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]store.Run)}
}

func (s *RunStore) Add(_ context.Context, runs []store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range runs {
		s.runs[run.ID] = run
	}
	return nil
}

func affected(run store.Run, instanceID string, occurredAt time.Time) bool {
	if run.InstanceID != instanceID {
		return false
	}
	if !run.StartTime.Before(occurredAt) {
		return true
	}
	return run.EndTime == nil || run.EndTime.After(occurredAt)
}

func (s *RunStore) ListAffected(
	_ context.Context,
	instanceID string,
	occurredAt time.Time,
) ([]store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Run, 0)
	for _, run := range s.runs {
		if affected(run, instanceID, occurredAt) {
			out = append(out, run)
		}
	}
	sortRuns(out)
	return out, nil
}

func (s *RunStore) HasAffected(
	ctx context.Context,
	instanceID string,
	occurredAt time.Time,
) (bool, error) {
	runs, err := s.ListAffected(ctx, instanceID, occurredAt)
	return len(runs) > 0, err
}

func (s *RunStore) ListOverlapping(
	_ context.Context,
	userID string,
	start, end time.Time,
) ([]store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Run, 0)
	for _, run := range s.runs {
		if run.UserID != userID || !run.StartTime.Before(end) {
			continue
		}
		if run.EndTime != nil && !run.EndTime.After(start) {
			continue
		}
		out = append(out, run)
	}
	sortRuns(out)
	return out, nil
}

func (s *RunStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.runs, id)
	}
	return nil
}

// All returns every stored run, ordered by start time.
func (s *RunStore) All() []store.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sortRuns(out)
	return out
}

func sortRuns(runs []store.Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].StartTime.Equal(runs[j].StartTime) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartTime.Before(runs[j].StartTime)
	})
}

type UsageStore struct {
	mu        sync.Mutex
	snapshots map[string]store.ConcurrentUsage
	upserts   int
}

func NewUsageStore() *UsageStore {
	return &UsageStore{snapshots: make(map[string]store.ConcurrentUsage)}
}

func usageKey(userID string, date time.Time) string {
	return userID + "|" + date.Format("2006-01-02")
}

func (s *UsageStore) Upsert(_ context.Context, usage store.ConcurrentUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[usageKey(usage.UserID, usage.Date)] = usage
	s.upserts++
	return nil
}

func (s *UsageStore) Get(
	_ context.Context,
	userID string,
	date time.Time,
) (*store.ConcurrentUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage, ok := s.snapshots[usageKey(userID, date)]
	if !ok {
		return nil, usagestore.ErrNotFound
	}
	return &usage, nil
}

func (s *UsageStore) ListRange(
	_ context.Context,
	userID string,
	from, to time.Time,
) ([]store.ConcurrentUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ConcurrentUsage, 0)
	for _, usage := range s.snapshots {
		if usage.UserID == userID && !usage.Date.Before(from) && !usage.Date.After(to) {
			out = append(out, usage)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Upserts reports how many snapshot writes happened.
func (s *UsageStore) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

type TaskStore struct {
	mu    sync.Mutex
	tasks map[string]store.CalculationTask
}

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]store.CalculationTask)}
}

func (s *TaskStore) Create(_ context.Context, task store.CalculationTask) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.TaskID]; ok {
		return false, nil
	}
	if task.Status == "SCHEDULED" {
		for _, t := range s.tasks {
			if t.UserID == task.UserID && t.Date.Equal(task.Date) && t.Status == "SCHEDULED" {
				return false, nil
			}
		}
	}
	s.tasks[task.TaskID] = task
	return true, nil
}

func (s *TaskStore) Get(_ context.Context, taskID string) (*store.CalculationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, taskstore.ErrNotFound
	}
	return &task, nil
}

func (s *TaskStore) GetScheduled(
	_ context.Context,
	userID string,
	date time.Time,
) (*store.CalculationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.UserID == userID && task.Date.Equal(date) && task.Status == "SCHEDULED" {
			t := task
			return &t, nil
		}
	}
	return nil, taskstore.ErrNotFound
}

func (s *TaskStore) SetStatus(_ context.Context, taskID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	task.Status = status
	s.tasks[taskID] = task
	return nil
}

// Remove deletes a task record outright, simulating external cleanup.
func (s *TaskStore) Remove(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
}

// Statuses returns task statuses keyed by task ID.
func (s *TaskStore) Statuses() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.tasks))
	for id, task := range s.tasks {
		out[id] = task.Status
	}
	return out
}

type AccountStore struct {
	mu    sync.Mutex
	users map[string]struct{}
}

func NewAccountStore(userIDs ...string) *AccountStore {
	s := &AccountStore{users: make(map[string]struct{})}
	for _, id := range userIDs {
		s.users[id] = struct{}{}
	}
	return s
}

func (s *AccountStore) Ensure(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = struct{}{}
	return nil
}

func (s *AccountStore) Exists(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	return ok, nil
}
