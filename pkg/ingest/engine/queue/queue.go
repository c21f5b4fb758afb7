// Package queue provides the in-process job queue that chunk and reconcile jobs
// run on. Jobs may be delayed, carry a per-attempt timeout and are retried
// according to a RetryPolicy.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

const moduleName = "queue"

// Job is one unit of asynchronous work.
type Job struct {
	// Name identifies the job in logs (e.g., "chunk:3/batch-id").
	Name string
	// Delay postpones the first attempt.
	Delay time.Duration
	// Timeout bounds each attempt; zero means no timeout.
	Timeout time.Duration
	// MaxAttempts is the total number of attempts. Zero is treated as one.
	MaxAttempts int
	// Run performs the work. attempt starts at 1.
	Run func(ctx context.Context, attempt int) error
	// OnExhausted is invoked once all attempts have failed. Optional.
	OnExhausted func(err error)
}

// queuedJob is a Job with its current attempt count.
type queuedJob struct {
	job     Job
	attempt int
}

// Queue is a fixed-size worker pool draining a buffered job channel.
// Delayed jobs are held on timers until they become runnable.
type Queue struct {
	workers int
	policy  RetryPolicy

	jobs    chan queuedJob
	pending sync.WaitGroup // outstanding jobs, including delayed and retrying ones
	workerW sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewQueue creates a new Queue with the given number of workers.
func NewQueue(workers int, policy RetryPolicy) *Queue {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		workers: workers,
		policy:  policy,
		jobs:    make(chan queuedJob, 1024),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.workerW.Add(1)
		go q.worker(i)
	}
	logger.Infof("Job queue started with %d workers.", q.workers)
}

// Enqueue schedules a job for execution. It fails once the queue is stopped.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return exception.NewBatchError(moduleName, fmt.Sprintf("queue is stopped, rejecting job '%s'", job.Name), nil, false, false)
	}
	q.pending.Add(1)
	q.mu.Unlock()

	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	q.schedule(queuedJob{job: job, attempt: 1}, job.Delay)
	return nil
}

// schedule places the job on the run channel, after delay when non-zero.
func (q *Queue) schedule(qj queuedJob, delay time.Duration) {
	if delay <= 0 {
		q.jobs <- qj
		return
	}
	timer := time.AfterFunc(delay, func() {
		select {
		case q.jobs <- qj:
		case <-q.ctx.Done():
			q.pending.Done()
		}
	})
	// Stop the timer if the queue shuts down before it fires.
	go func() {
		<-q.ctx.Done()
		timer.Stop()
	}()
}

// worker drains the job channel until the queue context is cancelled.
func (q *Queue) worker(id int) {
	defer q.workerW.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case qj := <-q.jobs:
			q.execute(qj)
		}
	}
}

// execute runs one attempt of a job and either completes, reschedules or
// exhausts it.
func (q *Queue) execute(qj queuedJob) {
	job := qj.job

	attemptCtx := q.ctx
	var cancel context.CancelFunc
	if job.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(q.ctx, job.Timeout)
	}
	err := job.Run(attemptCtx, qj.attempt)
	if cancel != nil {
		cancel()
	}

	if err == nil {
		q.pending.Done()
		return
	}

	if qj.attempt < job.MaxAttempts && q.policy.ShouldRetry(err, qj.attempt) {
		backoff := q.policy.Backoff(qj.attempt)
		logger.Warnf("Job '%s' attempt %d/%d failed: %v. Retrying in %s.",
			job.Name, qj.attempt, job.MaxAttempts, err, backoff)
		q.schedule(queuedJob{job: job, attempt: qj.attempt + 1}, backoff)
		return
	}

	logger.Errorf("Job '%s' exhausted after attempt %d/%d: %v", job.Name, qj.attempt, job.MaxAttempts, err)
	if job.OnExhausted != nil {
		job.OnExhausted(err)
	}
	q.pending.Done()
}

// Drain blocks until every enqueued job has finished, or the context expires.
func (q *Queue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return exception.NewBatchError(moduleName, "timed out draining job queue", ctx.Err(), false, false)
	}
}

// Stop rejects new jobs, cancels running ones and waits for the workers to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.workerW.Wait()
	logger.Infof("Job queue stopped.")
}
