package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	metrics "github.com/tigerroll/ingot/pkg/ingest/core/metrics"
	logger "github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Batch Metrics
	batchDurationSeconds *prometheus.HistogramVec
	batchStatusCounter   *prometheus.CounterVec

	// Chunk Metrics
	chunkDurationSeconds *prometheus.HistogramVec
	chunkStatusCounter   *prometheus.CounterVec

	// Row Metrics
	rowUpsertCounter      *prometheus.CounterVec
	rowFailureCounter     *prometheus.CounterVec
	recordsDeactivated    prometheus.Counter
	operationDurationSecs *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() metrics.MetricRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		batchDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_batch_duration_seconds",
			Help:    "Duration of batch ingestion runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status", "inline"}),
		batchStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_batch_status_total",
			Help: "Total number of batch ingestion runs by status.",
		}, []string{"status"}),
		chunkDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_chunk_duration_seconds",
			Help:    "Duration of chunk job attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		chunkStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_chunk_status_total",
			Help: "Total number of chunk job attempts by status.",
		}, []string{"status"}),
		rowUpsertCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_row_upsert_total",
			Help: "Total rows upserted into the target table.",
		}, []string{"outcome"}), // outcome: created, updated
		rowFailureCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_row_failure_total",
			Help: "Total row-level failures by reason.",
		}, []string{"reason"}),
		recordsDeactivated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_records_deactivated_total",
			Help: "Total records deactivated during reconciliation.",
		}),
		operationDurationSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_operation_duration_seconds",
			Help:    "Duration of named internal operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	registry.MustRegister(r.batchDurationSeconds)
	registry.MustRegister(r.batchStatusCounter)
	registry.MustRegister(r.chunkDurationSeconds)
	registry.MustRegister(r.chunkStatusCounter)
	registry.MustRegister(r.rowUpsertCounter)
	registry.MustRegister(r.rowFailureCounter)
	registry.MustRegister(r.recordsDeactivated)
	registry.MustRegister(r.operationDurationSecs)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordBatchStart records the start of a Batch.
func (r *PrometheusRecorder) RecordBatchStart(ctx context.Context, batch *model.Batch) {
	r.batchStatusCounter.WithLabelValues(batch.Status.String()).Inc()
	logger.Debugf("Metrics: Batch '%s' started.", batch.ID)
}

// RecordBatchEnd records a Batch reaching a terminal state.
func (r *PrometheusRecorder) RecordBatchEnd(ctx context.Context, batch *model.Batch) {
	r.batchStatusCounter.WithLabelValues(batch.Status.String()).Inc()
	if batch.FinalizedAt == nil {
		return
	}
	duration := batch.FinalizedAt.Sub(batch.CreatedAt).Seconds()

	inline := "false"
	if batch.Inline {
		inline = "true"
	}
	r.batchDurationSeconds.WithLabelValues(batch.Status.String(), inline).Observe(duration)

	logger.Debugf("Metrics: Batch '%s' ended. Duration: %.3fs", batch.ID, duration)
}

// RecordChunkStart records the start of a chunk job attempt.
func (r *PrometheusRecorder) RecordChunkStart(ctx context.Context, chunk *model.Chunk) {
	r.chunkStatusCounter.WithLabelValues(chunk.Status.String()).Inc()
}

// RecordChunkEnd records a chunk job attempt finishing.
func (r *PrometheusRecorder) RecordChunkEnd(ctx context.Context, chunk *model.Chunk) {
	r.chunkStatusCounter.WithLabelValues(chunk.Status.String()).Inc()
	if chunk.StartedAt == nil || chunk.CompletedAt == nil {
		return
	}
	duration := chunk.CompletedAt.Sub(*chunk.StartedAt).Seconds()
	r.chunkDurationSeconds.WithLabelValues(chunk.Status.String()).Observe(duration)
}

// RecordRowUpsert records a successful row upsert.
func (r *PrometheusRecorder) RecordRowUpsert(ctx context.Context, created bool) {
	outcome := "updated"
	if created {
		outcome = "created"
	}
	r.rowUpsertCounter.WithLabelValues(outcome).Inc()
}

// RecordRowFailure records a row-level failure.
func (r *PrometheusRecorder) RecordRowFailure(ctx context.Context, reason string) {
	r.rowFailureCounter.WithLabelValues(reason).Inc()
}

// RecordDeactivation records records deactivated during reconciliation.
func (r *PrometheusRecorder) RecordDeactivation(ctx context.Context, count int) {
	if count > 0 {
		r.recordsDeactivated.Add(float64(count))
	}
}

// RecordDuration records the execution time of a specific operation.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurationSecs.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
