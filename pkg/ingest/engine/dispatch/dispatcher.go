// Package dispatch analyzes parsed uploads and decides how each one is
// processed: small batches run inline, large ones fan out into chunk jobs plus
// a delayed reconcile job on the job queue.
package dispatch

import (
	"context"
	"fmt"
	"time"

	config "github.com/tigerroll/ingot/pkg/ingest/core/config"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
	"github.com/tigerroll/ingot/pkg/ingest/core/metrics"
	"github.com/tigerroll/ingot/pkg/ingest/engine/matcher"
	"github.com/tigerroll/ingot/pkg/ingest/engine/parser"
	"github.com/tigerroll/ingot/pkg/ingest/engine/queue"
	"github.com/tigerroll/ingot/pkg/ingest/engine/reconcile"
	"github.com/tigerroll/ingot/pkg/ingest/engine/worker"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

const moduleName = "dispatch"

// Dispatcher turns one parse result into a tracked batch and schedules its work.
type Dispatcher struct {
	repo       repository.IngestRepository
	matcher    *matcher.Matcher
	worker     *worker.ChunkWorker
	reconciler *reconcile.Reconciler
	queue      *queue.Queue
	recorder   metrics.MetricRecorder
	tracer     metrics.Tracer

	chunkThreshold int
	chunkSize      int
	retryLimit     int
	chunkTimeout   time.Duration
	reconcileGrace time.Duration
}

// NewDispatcher creates a new Dispatcher from the batch and reconcile configuration.
func NewDispatcher(
	repo repository.IngestRepository,
	m *matcher.Matcher,
	w *worker.ChunkWorker,
	r *reconcile.Reconciler,
	q *queue.Queue,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	cfg *config.Config,
) *Dispatcher {
	return &Dispatcher{
		repo:           repo,
		matcher:        m,
		worker:         w,
		reconciler:     r,
		queue:          q,
		recorder:       recorder,
		tracer:         tracer,
		chunkThreshold: cfg.Ingot.Batch.ChunkThreshold,
		chunkSize:      cfg.Ingot.Batch.ChunkSize,
		retryLimit:     cfg.Ingot.Batch.RetryLimit,
		chunkTimeout:   time.Duration(cfg.Ingot.Batch.ChunkTimeoutSeconds) * time.Second,
		reconcileGrace: time.Duration(cfg.Ingot.Reconcile.GraceSeconds) * time.Second,
	}
}

// Dispatch creates a batch for one parse result and schedules its processing.
// The returned batch is always persisted, even when it immediately fails
// (corrupt archive entry, missing header, no resolvable key column). A batch
// with zero data rows completes immediately. Errors are only returned for
// storage failures; domain failures end up as a FAILED batch instead.
func (d *Dispatcher) Dispatch(ctx context.Context, result parser.ParseResult, preferredKeyColumn string) (*model.Batch, error) {
	batch := model.NewBatch(result.SourceFile, preferredKeyColumn)
	if err := d.repo.SaveBatch(ctx, batch); err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to persist batch for '%s'", result.SourceFile), err, false, true)
	}
	d.recorder.RecordBatchStart(ctx, batch)

	if result.Err != nil {
		logger.Warnf("Batch %s for '%s' failed during parsing: %v", batch.ID, result.SourceFile, result.Err)
		d.tracer.RecordError(ctx, moduleName, result.Err)
		batch.MarkAsFailed(result.Err)
		d.recorder.RecordBatchEnd(ctx, batch)
		return batch, d.repo.UpdateBatch(ctx, batch)
	}

	batch.MarkAsAnalyzing()
	batch.TotalRows = len(result.Rows)

	keyColumn, keyIdx, err := d.matcher.ResolveKeyColumn(result.Headers, preferredKeyColumn)
	if err != nil {
		logger.Warnf("Batch %s for '%s' has no usable key column: %v", batch.ID, result.SourceFile, err)
		d.tracer.RecordError(ctx, moduleName, err)
		batch.MarkAsFailed(err)
		d.recorder.RecordBatchEnd(ctx, batch)
		return batch, d.repo.UpdateBatch(ctx, batch)
	}
	batch.UniqueColumn = keyColumn

	if batch.TotalRows == 0 {
		logger.Infof("Batch %s for '%s' has no data rows, completing immediately.", batch.ID, result.SourceFile)
		batch.MarkAsCompleted()
		d.recorder.RecordBatchEnd(ctx, batch)
		return batch, d.repo.UpdateBatch(ctx, batch)
	}

	if batch.TotalRows <= d.chunkThreshold {
		return batch, d.dispatchInline(ctx, batch, result, keyIdx)
	}
	return batch, d.dispatchChunked(ctx, batch, result)
}

// dispatchInline processes a small batch synchronously and finalizes it
// directly, without scheduling a reconcile job.
func (d *Dispatcher) dispatchInline(ctx context.Context, batch *model.Batch, result parser.ParseResult, keyIdx int) error {
	batch.Inline = true
	batch.MarkAsProcessing()
	if err := d.repo.UpdateBatch(ctx, batch); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to persist batch '%s'", batch.ID), err, false, true)
	}

	stats, err := d.worker.ProcessRows(ctx, batch, result.Headers, result.Rows, 1, keyIdx)
	if err != nil {
		logger.Errorf("Inline processing of batch %s aborted: %v", batch.ID, err)
		d.tracer.RecordError(ctx, moduleName, err)
		batch.RecordsCreated = stats.Created
		batch.RecordsUpdated = stats.Updated
		batch.RowsFailed = stats.Failed
		batch.RowErrors = stats.Errors
		batch.MarkAsFailed(err)
		d.recorder.RecordBatchEnd(ctx, batch)
		return d.repo.UpdateBatch(ctx, batch)
	}

	return d.reconciler.FinalizeInline(ctx, batch, stats)
}

// dispatchChunked slices the rows into chunk jobs and schedules them together
// with one reconcile job delayed by the grace period.
func (d *Dispatcher) dispatchChunked(ctx context.Context, batch *model.Batch, result parser.ParseResult) error {
	chunkCount := (batch.TotalRows + d.chunkSize - 1) / d.chunkSize
	batch.MarkAsChunked(chunkCount, d.chunkSize)

	chunks := make([]*model.Chunk, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		startRow := i*d.chunkSize + 1
		rowCount := d.chunkSize
		if remaining := batch.TotalRows - i*d.chunkSize; remaining < rowCount {
			rowCount = remaining
		}
		chunk := model.NewChunk(batch.ID, i, startRow, rowCount)
		if err := d.repo.SaveChunk(ctx, chunk); err != nil {
			batch.MarkAsFailed(err)
			if uerr := d.repo.UpdateBatch(ctx, batch); uerr != nil {
				logger.Errorf("Failed to persist FAILED state of batch '%s': %v", batch.ID, uerr)
			}
			return exception.NewBatchError(moduleName, fmt.Sprintf("failed to persist chunk %d of batch '%s'", i, batch.ID), err, false, true)
		}
		chunks = append(chunks, chunk)
	}

	batch.MarkAsProcessing()
	if err := d.repo.UpdateBatch(ctx, batch); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to persist batch '%s'", batch.ID), err, false, true)
	}

	for i, chunk := range chunks {
		chunkID := chunk.ID
		rows := result.Rows[i*d.chunkSize : i*d.chunkSize+chunk.RowCount]
		job := queue.Job{
			Name:        fmt.Sprintf("chunk:%d:%s", chunk.Number, batch.ID),
			Timeout:     d.chunkTimeout,
			MaxAttempts: d.retryLimit,
			Run: func(jobCtx context.Context, attempt int) error {
				return d.worker.ProcessChunk(jobCtx, batch, chunkID, result.Headers, rows, attempt)
			},
			OnExhausted: func(cause error) {
				d.worker.MarkChunkFailed(context.Background(), chunkID, cause)
			},
		}
		if err := d.queue.Enqueue(job); err != nil {
			return err
		}
	}

	reconcileJob := queue.Job{
		Name:        fmt.Sprintf("reconcile:%s", batch.ID),
		Delay:       d.reconcileGrace,
		MaxAttempts: 1,
		Run: func(jobCtx context.Context, attempt int) error {
			return d.reconciler.Reconcile(jobCtx, batch.ID)
		},
	}
	if err := d.queue.Enqueue(reconcileJob); err != nil {
		return err
	}

	logger.Infof("Batch %s for '%s' dispatched: %d rows in %d chunks of %d, reconcile in %s.",
		batch.ID, batch.SourceFile, batch.TotalRows, chunkCount, d.chunkSize, d.reconcileGrace)
	return nil
}
