package queue

import (
	"context"
	"errors"
	"time"
)

// Payload is one usage-calculation request. The task queue treats it as an
// opaque unit of work delivered at least once: a worker may see the same
// payload twice, and two payloads for the same (user, date) may race. The
// executor's task-record checks make that safe.
type Payload struct {
	TaskID string    `json:"task_id"`
	UserID string    `json:"user_id"`
	Date   time.Time `json:"date"`
}

// Handler processes one delivery. A nil return or a terminal error consumes
// the delivery; a retryable error re-delivers it up to the backend's
// attempt budget.
type Handler func(ctx context.Context, payload Payload) error

type Queue interface {
	// Submit enqueues the payload after the given delay. Delivery is at
	// least once with no ordering guarantee.
	Submit(ctx context.Context, payload Payload, delay time.Duration) error
}

// Classifier decides whether a failed delivery should be retried. Backends
// fall back to IsRetryable when none is configured.
type Classifier func(error) bool

type retryableError struct {
	err error
}

func (e *retryableError) Error() string   { return e.err.Error() }
func (e *retryableError) Unwrap() error   { return e.err }
func (e *retryableError) Retryable() bool { return true }

// MarkRetryable wraps err so IsRetryable reports true for it. Transient
// external failures (throttling, network errors) get marked at the point
// they are identified; everything unmarked is terminal by default.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
