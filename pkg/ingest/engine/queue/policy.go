package queue

import (
	"context"
	"errors"
	"time"

	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
)

// RetryPolicy is an interface that defines retry logic for failed job attempts.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is worth another attempt.
	// attempt: The attempt that just failed (starting from 1).
	ShouldRetry(err error, attempt int) bool
	// Backoff returns the waiting time until the next attempt.
	// attempt: The attempt that just failed (starting from 1).
	Backoff(attempt int) time.Duration
}

// DefaultRetryPolicyFactory is a factory for creating RetryPolicy instances
// based on configuration.
type DefaultRetryPolicyFactory struct{}

// NewDefaultRetryPolicyFactory creates a new DefaultRetryPolicyFactory.
func NewDefaultRetryPolicyFactory() *DefaultRetryPolicyFactory {
	return &DefaultRetryPolicyFactory{}
}

// Create creates a new RetryPolicy instance with the given initial backoff interval.
func (f *DefaultRetryPolicyFactory) Create(initialInterval time.Duration) RetryPolicy {
	return &defaultRetryPolicy{initialInterval: initialInterval}
}

// defaultRetryPolicy retries everything except errors explicitly classified as
// unretryable, with exponential backoff.
type defaultRetryPolicy struct {
	initialInterval time.Duration
}

// ShouldRetry determines if an error is retryable.
// A BatchError carrying an explicit non-retryable, non-skippable classification
// is treated as final; a cancelled queue never retries. Everything else,
// including unexpected plain errors, gets its remaining attempts.
func (p *defaultRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var be *exception.BatchError
	if errors.As(err, &be) {
		return be.IsRetryable() || be.IsSkippable()
	}
	return true
}

// Backoff returns the interval before the next attempt, doubling per attempt.
func (p *defaultRetryPolicy) Backoff(attempt int) time.Duration {
	interval := p.initialInterval
	if interval <= 0 {
		interval = time.Second
	}
	for i := 1; i < attempt; i++ {
		interval *= 2
	}
	return interval
}

var _ RetryPolicy = (*defaultRetryPolicy)(nil)
