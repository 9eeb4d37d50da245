package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload(taskID string) Payload {
	return Payload{
		TaskID: taskID,
		UserID: "user-1",
		Date:   time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
	}
}

// startQueue runs the queue until the test ends and returns a channel of
// handled payloads driven by the given handler result function.
func startQueue(t *testing.T, q *MemoryQueue, result func(Payload) error) <-chan Payload {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	handled := make(chan Payload, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Run(ctx, func(_ context.Context, p Payload) error {
			err := result(p)
			handled <- p
			return err
		})
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return handled
}

func waitDelivery(t *testing.T, handled <-chan Payload) Payload {
	t.Helper()
	select {
	case p := <-handled:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Payload{}
	}
}

func assertNoDelivery(t *testing.T, handled <-chan Payload) {
	t.Helper()
	select {
	case p := <-handled:
		t.Fatalf("unexpected delivery of task %s", p.TaskID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers immediately without delay", func(t *testing.T) {
		q := NewMemoryQueue(MemoryOptions{Workers: 1})
		handled := startQueue(t, q, func(Payload) error { return nil })

		require.NoError(t, q.Submit(ctx, testPayload("t1"), 0))
		require.NoError(t, q.Submit(ctx, testPayload("t2"), 0))

		seen := map[string]bool{}
		seen[waitDelivery(t, handled).TaskID] = true
		seen[waitDelivery(t, handled).TaskID] = true
		assert.True(t, seen["t1"])
		assert.True(t, seen["t2"])
	})

	t.Run("debounced submit waits for the clock", func(t *testing.T) {
		clock := quartz.NewMock(t)
		trap := clock.Trap().AfterFunc()
		defer trap.Close()

		q := NewMemoryQueue(MemoryOptions{Workers: 1, Clock: clock})
		handled := startQueue(t, q, func(Payload) error { return nil })

		require.NoError(t, q.Submit(ctx, testPayload("t1"), time.Minute))
		call, err := trap.Wait(ctx)
		require.NoError(t, err)
		call.MustRelease(ctx)

		assertNoDelivery(t, handled)
		clock.Advance(time.Minute).MustWait(ctx)
		assert.Equal(t, "t1", waitDelivery(t, handled).TaskID)
	})

	t.Run("retryable failures are redelivered up to the budget", func(t *testing.T) {
		clock := quartz.NewMock(t)
		trap := clock.Trap().AfterFunc()
		defer trap.Close()

		q := NewMemoryQueue(MemoryOptions{
			Workers:     1,
			MaxAttempts: 3,
			RetryDelay:  10 * time.Second,
			Clock:       clock,
		})
		handled := startQueue(t, q, func(Payload) error {
			return MarkRetryable(errors.New("transient"))
		})

		require.NoError(t, q.Submit(ctx, testPayload("t1"), 0))
		waitDelivery(t, handled)

		for attempt := 2; attempt <= 3; attempt++ {
			call, err := trap.Wait(ctx)
			require.NoError(t, err)
			call.MustRelease(ctx)
			clock.Advance(10 * time.Second).MustWait(ctx)
			waitDelivery(t, handled)
		}

		// Budget exhausted: no further timer, no further delivery.
		assertNoDelivery(t, handled)
	})

	t.Run("terminal failures are not redelivered", func(t *testing.T) {
		q := NewMemoryQueue(MemoryOptions{Workers: 1, MaxAttempts: 3})
		handled := startQueue(t, q, func(Payload) error {
			return errors.New("permanent")
		})

		require.NoError(t, q.Submit(ctx, testPayload("t1"), 0))
		waitDelivery(t, handled)
		assertNoDelivery(t, handled)
	})

	t.Run("custom classifier overrides the marker", func(t *testing.T) {
		q := NewMemoryQueue(MemoryOptions{
			Workers:     1,
			MaxAttempts: 2,
			RetryDelay:  time.Nanosecond,
			Classify:    func(error) bool { return true },
		})
		handled := startQueue(t, q, func(Payload) error {
			return errors.New("looks terminal, classified retryable")
		})

		require.NoError(t, q.Submit(ctx, testPayload("t1"), 0))
		waitDelivery(t, handled)
		waitDelivery(t, handled)
		assertNoDelivery(t, handled)
	})
}

func TestRetryableMarker(t *testing.T) {
	t.Run("marked errors report retryable", func(t *testing.T) {
		err := MarkRetryable(errors.New("throttled"))
		assert.True(t, IsRetryable(err))
	})

	t.Run("wrapping preserves the marker", func(t *testing.T) {
		err := MarkRetryable(errors.New("throttled"))
		assert.True(t, IsRetryable(errors.Join(errors.New("outer"), err)))
	})

	t.Run("plain errors are terminal", func(t *testing.T) {
		assert.False(t, IsRetryable(errors.New("boom")))
		assert.False(t, IsRetryable(nil))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, MarkRetryable(nil))
	})
}
