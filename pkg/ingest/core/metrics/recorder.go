package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
)

// MetricRecorder is an abstract interface for recording metrics related to batch ingestion.
// It provides a standardized way to record batch, chunk and row-level events, which
// facilitates integration with different metrics backends (e.g., Prometheus).
type MetricRecorder interface {
	// RecordBatchStart records the start of a Batch.
	RecordBatchStart(ctx context.Context, batch *model.Batch)

	// RecordBatchEnd records a Batch reaching a terminal state.
	RecordBatchEnd(ctx context.Context, batch *model.Batch)

	// RecordChunkStart records the start of a chunk job attempt.
	RecordChunkStart(ctx context.Context, chunk *model.Chunk)

	// RecordChunkEnd records a chunk job attempt finishing.
	RecordChunkEnd(ctx context.Context, chunk *model.Chunk)

	// RecordRowUpsert records a successful row upsert.
	// created distinguishes inserts from overwrites.
	RecordRowUpsert(ctx context.Context, created bool)

	// RecordRowFailure records a row-level failure.
	// reason is a short classification string (e.g., "malformed_row", "missing_key").
	RecordRowFailure(ctx context.Context, reason string)

	// RecordDeactivation records records deactivated during reconciliation.
	RecordDeactivation(ctx context.Context, count int)

	// RecordDuration records the execution time of a specific operation.
	//
	// name: The name of the duration to record (e.g., "parse_duration", "reconcile_wait").
	// tags: Additional tags to associate with the duration.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
