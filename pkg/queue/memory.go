package queue

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// MemoryQueue is the in-process task queue backend: a buffered channel
// consumed by a pool of workers. It preserves the distributed backends'
// contract (at-least-once delivery, no ordering, bounded retries with a
// delay), which keeps the executor honest about duplicate deliveries even
// in single-process deployments.
type MemoryQueue struct {
	clock       quartz.Clock
	deliveries  chan delivery
	workers     int
	maxAttempts int
	retryDelay  time.Duration
	classify    Classifier

	mu     sync.Mutex
	timers []*quartz.Timer
}

type delivery struct {
	payload Payload
	attempt int
}

type MemoryOptions struct {
	// Workers is the number of concurrent consumers. Default 4.
	Workers int
	// MaxAttempts bounds deliveries per payload, first try included.
	// Default 5.
	MaxAttempts int
	// RetryDelay is applied before each redelivery. Default 10s.
	RetryDelay time.Duration
	// Classify overrides the retryable/terminal decision. Defaults to
	// IsRetryable.
	Classify Classifier
	// Buffer is the pending-delivery capacity. Default 1024.
	Buffer int
	// Clock is swapped out in tests.
	Clock quartz.Clock
}

func NewMemoryQueue(opts MemoryOptions) *MemoryQueue {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 10 * time.Second
	}
	if opts.Classify == nil {
		opts.Classify = IsRetryable
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	return &MemoryQueue{
		clock:       opts.Clock,
		deliveries:  make(chan delivery, opts.Buffer),
		workers:     opts.Workers,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		classify:    opts.Classify,
	}
}

func (q *MemoryQueue) Submit(ctx context.Context, payload Payload, delay time.Duration) error {
	q.enqueueAfter(ctx, delivery{payload: payload, attempt: 1}, delay)
	return nil
}

func (q *MemoryQueue) enqueueAfter(ctx context.Context, d delivery, delay time.Duration) {
	if delay <= 0 {
		q.enqueue(ctx, d)
		return
	}
	timer := q.clock.AfterFunc(delay, func() {
		q.enqueue(context.WithoutCancel(ctx), d)
	})
	q.mu.Lock()
	q.timers = append(q.timers, timer)
	q.mu.Unlock()
}

func (q *MemoryQueue) enqueue(ctx context.Context, d delivery) {
	select {
	case q.deliveries <- d:
	default:
		zerolog.Ctx(ctx).Error().
			Str("task_id", d.payload.TaskID).
			Msg("task queue full, dropping delivery")
	}
}

// Run consumes deliveries with the configured worker pool until ctx is
// cancelled. Each worker is independent; two deliveries for the same logical
// task can run concurrently, exactly as on a distributed queue.
func (q *MemoryQueue) Run(ctx context.Context, handler Handler) {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx, handler)
		}()
	}
	wg.Wait()
}

func (q *MemoryQueue) work(ctx context.Context, handler Handler) {
	logger := zerolog.Ctx(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-q.deliveries:
			err := handler(ctx, d.payload)
			if err == nil {
				continue
			}
			if !q.classify(err) {
				logger.Error().Err(err).
					Str("task_id", d.payload.TaskID).
					Int("attempt", d.attempt).
					Msg("task failed with terminal error")
				continue
			}
			if d.attempt >= q.maxAttempts {
				logger.Error().Err(err).
					Str("task_id", d.payload.TaskID).
					Int("attempt", d.attempt).
					Msg("task failed, attempt budget exhausted")
				continue
			}
			logger.Warn().Err(err).
				Str("task_id", d.payload.TaskID).
				Int("attempt", d.attempt).
				Msg("task failed, scheduling retry")
			q.enqueueAfter(ctx, delivery{payload: d.payload, attempt: d.attempt + 1}, q.retryDelay)
		}
	}
}
