package queue

import (
	"context"
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/ingot/pkg/ingest/core/config"
)

// NewQueueProvider builds the process-wide job queue from configuration.
func NewQueueProvider(cfg *config.Config) *Queue {
	policy := NewDefaultRetryPolicyFactory().Create(time.Second)
	return NewQueue(cfg.Ingot.Batch.QueueWorkers, policy)
}

// Module provides the job queue to Fx and ties it to the application lifecycle.
var Module = fx.Options(
	fx.Provide(NewQueueProvider),
	fx.Invoke(func(lc fx.Lifecycle, q *Queue) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				q.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				q.Stop()
				return nil
			},
		})
	}),
)
