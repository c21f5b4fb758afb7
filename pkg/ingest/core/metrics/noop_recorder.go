package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordBatchStart does nothing.
func (r *NoOpMetricRecorder) RecordBatchStart(ctx context.Context, batch *model.Batch) {}

// RecordBatchEnd does nothing.
func (r *NoOpMetricRecorder) RecordBatchEnd(ctx context.Context, batch *model.Batch) {}

// RecordChunkStart does nothing.
func (r *NoOpMetricRecorder) RecordChunkStart(ctx context.Context, chunk *model.Chunk) {}

// RecordChunkEnd does nothing.
func (r *NoOpMetricRecorder) RecordChunkEnd(ctx context.Context, chunk *model.Chunk) {}

// RecordRowUpsert does nothing.
func (r *NoOpMetricRecorder) RecordRowUpsert(ctx context.Context, created bool) {}

// RecordRowFailure does nothing.
func (r *NoOpMetricRecorder) RecordRowFailure(ctx context.Context, reason string) {}

// RecordDeactivation does nothing.
func (r *NoOpMetricRecorder) RecordDeactivation(ctx context.Context, count int) {}

// RecordDuration does nothing.
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartBatchSpan returns the context unchanged.
func (t *NoOpTracer) StartBatchSpan(ctx context.Context, batch *model.Batch) (context.Context, func()) {
	return ctx, func() {}
}

// StartChunkSpan returns the context unchanged.
func (t *NoOpTracer) StartChunkSpan(ctx context.Context, chunk *model.Chunk) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
