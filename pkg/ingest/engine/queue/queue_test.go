package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/ingot/pkg/ingest/engine/queue"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
)

func newTestQueue(t *testing.T, workers int) *queue.Queue {
	t.Helper()
	policy := queue.NewDefaultRetryPolicyFactory().Create(time.Millisecond)
	q := queue.NewQueue(workers, policy)
	q.Start()
	t.Cleanup(q.Stop)
	return q
}

func drain(t *testing.T, q *queue.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
}

func TestEnqueueRunsJob(t *testing.T) {
	q := newTestQueue(t, 2)

	var ran atomic.Int32
	require.NoError(t, q.Enqueue(queue.Job{
		Name: "job:ok",
		Run: func(ctx context.Context, attempt int) error {
			assert.Equal(t, 1, attempt)
			ran.Add(1)
			return nil
		},
	}))

	drain(t, q)
	assert.Equal(t, int32(1), ran.Load())
}

func TestRetryUntilSuccess(t *testing.T) {
	q := newTestQueue(t, 1)

	var attempts atomic.Int32
	exhausted := false
	require.NoError(t, q.Enqueue(queue.Job{
		Name:        "job:flaky",
		MaxAttempts: 3,
		Run: func(ctx context.Context, attempt int) error {
			attempts.Add(1)
			if attempt < 3 {
				return errors.New("transient")
			}
			return nil
		},
		OnExhausted: func(err error) { exhausted = true },
	}))

	drain(t, q)
	assert.Equal(t, int32(3), attempts.Load())
	assert.False(t, exhausted, "OnExhausted must not fire on eventual success")
}

func TestExhaustionInvokesCallback(t *testing.T) {
	q := newTestQueue(t, 1)

	cause := errors.New("persistent failure")
	var attempts atomic.Int32
	var exhaustedWith error
	var mu sync.Mutex
	require.NoError(t, q.Enqueue(queue.Job{
		Name:        "job:doomed",
		MaxAttempts: 2,
		Run: func(ctx context.Context, attempt int) error {
			attempts.Add(1)
			return cause
		},
		OnExhausted: func(err error) {
			mu.Lock()
			exhaustedWith = err
			mu.Unlock()
		},
	}))

	drain(t, q)
	assert.Equal(t, int32(2), attempts.Load())
	mu.Lock()
	assert.Equal(t, cause, exhaustedWith)
	mu.Unlock()
}

func TestUnretryableErrorStopsImmediately(t *testing.T) {
	q := newTestQueue(t, 1)

	var attempts atomic.Int32
	require.NoError(t, q.Enqueue(queue.Job{
		Name:        "job:fatal",
		MaxAttempts: 5,
		Run: func(ctx context.Context, attempt int) error {
			attempts.Add(1)
			return exception.NewBatchError("worker", "cancelled", nil, false, false)
		},
	}))

	drain(t, q)
	assert.Equal(t, int32(1), attempts.Load(), "a final error consumes no further attempts")
}

func TestDelayedJob(t *testing.T) {
	q := newTestQueue(t, 1)

	started := time.Now()
	var elapsed atomic.Int64
	require.NoError(t, q.Enqueue(queue.Job{
		Name:  "job:delayed",
		Delay: 50 * time.Millisecond,
		Run: func(ctx context.Context, attempt int) error {
			elapsed.Store(int64(time.Since(started)))
			return nil
		},
	}))

	drain(t, q)
	assert.GreaterOrEqual(t, time.Duration(elapsed.Load()), 50*time.Millisecond)
}

func TestAttemptTimeout(t *testing.T) {
	q := newTestQueue(t, 1)

	var sawDeadline atomic.Bool
	require.NoError(t, q.Enqueue(queue.Job{
		Name:    "job:slow",
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context, attempt int) error {
			select {
			case <-ctx.Done():
				sawDeadline.Store(true)
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		},
	}))

	drain(t, q)
	assert.True(t, sawDeadline.Load())
}

func TestEnqueueAfterStop(t *testing.T) {
	policy := queue.NewDefaultRetryPolicyFactory().Create(time.Millisecond)
	q := queue.NewQueue(1, policy)
	q.Start()
	q.Stop()

	err := q.Enqueue(queue.Job{Name: "job:late", Run: func(ctx context.Context, attempt int) error { return nil }})
	require.Error(t, err)
	assert.True(t, exception.IsBatchError(err))
}

func TestDrainWaitsForAllJobs(t *testing.T) {
	q := newTestQueue(t, 4)

	var done atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, q.Enqueue(queue.Job{
			Name: "job:bulk",
			Run: func(ctx context.Context, attempt int) error {
				time.Sleep(time.Millisecond)
				done.Add(1)
				return nil
			},
		}))
	}

	drain(t, q)
	assert.Equal(t, int32(20), done.Load())
}

func TestDrainTimesOut(t *testing.T) {
	q := newTestQueue(t, 1)

	release := make(chan struct{})
	require.NoError(t, q.Enqueue(queue.Job{
		Name: "job:stuck",
		Run: func(ctx context.Context, attempt int) error {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Drain(ctx)
	require.Error(t, err)
	close(release)
	drain(t, q)
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := queue.NewDefaultRetryPolicyFactory().Create(100 * time.Millisecond)

	// --- Classification ---
	assert.False(t, policy.ShouldRetry(nil, 1))
	assert.False(t, policy.ShouldRetry(context.Canceled, 1))
	assert.True(t, policy.ShouldRetry(errors.New("plain"), 1))
	assert.True(t, policy.ShouldRetry(exception.NewBatchError("worker", "x", nil, false, true), 1))
	assert.True(t, policy.ShouldRetry(exception.NewBatchError("worker", "x", nil, true, false), 1))
	assert.False(t, policy.ShouldRetry(exception.NewBatchError("worker", "x", nil, false, false), 1))

	// --- Exponential Backoff ---
	assert.Equal(t, 100*time.Millisecond, policy.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, policy.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, policy.Backoff(3))

	// Zero interval falls back to one second.
	fallback := queue.NewDefaultRetryPolicyFactory().Create(0)
	assert.Equal(t, time.Second, fallback.Backoff(1))
}
