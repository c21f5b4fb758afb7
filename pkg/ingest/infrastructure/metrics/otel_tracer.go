package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	metrics "github.com/tigerroll/ingot/pkg/ingest/core/metrics"
)

const tracerName = "github.com/tigerroll/ingot/pkg/ingest"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
// Spans go to whatever provider the process has registered globally; without
// one they are no-ops.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a new instance of OpenTelemetryTracer.
func NewOpenTelemetryTracer() metrics.Tracer {
	return &OpenTelemetryTracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartBatchSpan starts a new span covering one batch ingestion run.
func (t *OpenTelemetryTracer) StartBatchSpan(ctx context.Context, batch *model.Batch) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "ingest.batch",
		trace.WithAttributes(
			attribute.String("batch.id", batch.ID),
			attribute.String("batch.source_file", batch.SourceFile),
			attribute.Int("batch.total_rows", batch.TotalRows),
			attribute.Bool("batch.inline", batch.Inline),
		))
	return ctx, func() {
		span.SetAttributes(attribute.String("batch.status", batch.Status.String()))
		span.End()
	}
}

// StartChunkSpan starts a new span covering one chunk job attempt.
func (t *OpenTelemetryTracer) StartChunkSpan(ctx context.Context, chunk *model.Chunk) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "ingest.chunk",
		trace.WithAttributes(
			attribute.String("chunk.id", chunk.ID),
			attribute.String("chunk.batch_id", chunk.BatchID),
			attribute.Int("chunk.number", chunk.Number),
			attribute.Int("chunk.row_count", chunk.RowCount),
			attribute.Int("chunk.attempt", chunk.Attempts),
		))
	return ctx, func() {
		span.SetAttributes(attribute.String("chunk.status", chunk.Status.String()))
		span.End()
	}
}

// RecordError records an error in the current span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event in the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
