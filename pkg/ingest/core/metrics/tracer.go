package metrics

import (
	"context"

	model "github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing.
// It provides functionality to integrate with tracing systems like OpenTelemetry,
// enabling visualization of batch and chunk execution flows.
type Tracer interface {
	// StartBatchSpan starts a Span covering one batch ingestion run.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	// It is recommended to call the returned function in a defer statement.
	StartBatchSpan(ctx context.Context, batch *model.Batch) (context.Context, func())

	// StartChunkSpan starts a Span covering one chunk job attempt.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	StartChunkSpan(ctx context.Context, chunk *model.Chunk) (context.Context, func())

	// RecordError records an error in the current Span.
	//
	// module: The name of the module where the error occurred (e.g., "parser", "worker").
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current Span.
	//
	// name: The name of the event (e.g., "chunk_committed", "records_deactivated").
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
