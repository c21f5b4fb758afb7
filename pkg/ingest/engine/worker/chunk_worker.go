// Package worker processes the rows of a chunk: it resolves each row's
// business key, upserts the row into the target records and records row-level
// failures without failing the chunk.
package worker

import (
	"context"
	"fmt"

	"github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
	"github.com/tigerroll/ingot/pkg/ingest/core/metrics"
	"github.com/tigerroll/ingot/pkg/ingest/engine/matcher"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

const moduleName = "worker"

// ErrBatchCancelled is returned when processing observes that the batch was
// cancelled and stops between rows.
var ErrBatchCancelled = exception.NewBatchError(moduleName, "batch was cancelled", nil, false, false)

// RowStats aggregates the outcome of processing a run of rows.
// Processed counts every row that was attempted, including failed ones.
type RowStats struct {
	Processed int
	Created   int
	Updated   int
	Failed    int
	Errors    model.RowErrorList
}

// ChunkWorker executes chunk jobs against the ingest repository.
type ChunkWorker struct {
	repo                repository.IngestRepository
	matcher             *matcher.Matcher
	recorder            metrics.MetricRecorder
	tracer              metrics.Tracer
	cancelCheckInterval int
}

// NewChunkWorker creates a new ChunkWorker.
// cancelCheckInterval is the number of rows processed between cancellation checks.
func NewChunkWorker(repo repository.IngestRepository, m *matcher.Matcher, recorder metrics.MetricRecorder, tracer metrics.Tracer, cancelCheckInterval int) *ChunkWorker {
	if cancelCheckInterval <= 0 {
		cancelCheckInterval = 50
	}
	return &ChunkWorker{
		repo:                repo,
		matcher:             m,
		recorder:            recorder,
		tracer:              tracer,
		cancelCheckInterval: cancelCheckInterval,
	}
}

// ProcessChunk runs one attempt of a chunk job.
// Row failures are recorded on the chunk and never fail it; only an unexpected
// error (storage failure, timeout, cancellation) is returned for the queue to
// retry. Counters are recomputed from scratch on every attempt so a retried
// chunk reports correct numbers, while upserts committed by an earlier partial
// attempt are kept.
func (w *ChunkWorker) ProcessChunk(ctx context.Context, batch *model.Batch, chunkID string, headers []string, rows [][]string, attempt int) error {
	chunk, err := w.repo.FindChunkByID(ctx, chunkID)
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to load chunk '%s'", chunkID), err, false, true)
	}
	if chunk.Status == model.ChunkStatusCompleted {
		logger.Debugf("Chunk %d of batch %s already completed, skipping re-delivery.", chunk.Number, batch.ID)
		return nil
	}

	logger.Debugf("Starting attempt %d for chunk %d of batch %s.", attempt, chunk.Number, batch.ID)
	ctx, endSpan := w.tracer.StartChunkSpan(ctx, chunk)
	defer endSpan()

	chunk.MarkAsProcessing()
	// Attempt counters start clean; partial numbers of a failed attempt are discarded.
	chunk.RowsProcessed = 0
	chunk.RecordsCreated = 0
	chunk.RecordsUpdated = 0
	chunk.RowsFailed = 0
	chunk.RowErrors = chunk.RowErrors[:0]
	if err := w.repo.UpdateChunk(ctx, chunk); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to mark chunk '%s' as processing", chunkID), err, false, true)
	}
	w.recorder.RecordChunkStart(ctx, chunk)

	_, keyIdx, err := w.matcher.ResolveKeyColumn(headers, batch.UniqueColumn)
	if err != nil {
		// Key resolution was already validated at dispatch time; hitting this
		// means the payload changed underneath us.
		w.tracer.RecordError(ctx, moduleName, err)
		return err
	}

	stats, procErr := w.ProcessRows(ctx, batch, headers, rows, chunk.StartRow, keyIdx)

	chunk.RowsProcessed = stats.Processed
	chunk.RecordsCreated = stats.Created
	chunk.RecordsUpdated = stats.Updated
	chunk.RowsFailed = stats.Failed
	chunk.RowErrors = stats.Errors

	if procErr != nil {
		// Persist the partial state before handing the error back to the queue.
		// Rows upserted so far stay committed.
		w.tracer.RecordError(ctx, moduleName, procErr)
		if w.isFinalAttempt(procErr) {
			chunk.MarkAsFailed(procErr)
		}
		if uerr := w.repo.UpdateChunk(ctx, chunk); uerr != nil {
			logger.Errorf("Failed to persist partial chunk state for '%s': %v", chunkID, uerr)
		}
		w.recorder.RecordChunkEnd(ctx, chunk)
		return procErr
	}

	chunk.MarkAsCompleted()
	if err := w.repo.UpdateChunk(ctx, chunk); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to finalize chunk '%s'", chunkID), err, false, true)
	}
	w.recorder.RecordChunkEnd(ctx, chunk)
	logger.Infof("Chunk %d of batch %s completed: %d created, %d updated, %d row failures.",
		chunk.Number, batch.ID, stats.Created, stats.Updated, stats.Failed)
	return nil
}

// isFinalAttempt reports whether the error leaves no room for another attempt.
// Cancellation is final; everything else is the queue's retry decision, so the
// chunk is only moved to FAILED by MarkChunkFailed once attempts are exhausted.
func (w *ChunkWorker) isFinalAttempt(err error) bool {
	return err == ErrBatchCancelled
}

// MarkChunkFailed transitions a chunk to FAILED once its job attempts are
// exhausted. Wired as the queue's OnExhausted callback.
func (w *ChunkWorker) MarkChunkFailed(ctx context.Context, chunkID string, cause error) {
	chunk, err := w.repo.FindChunkByID(ctx, chunkID)
	if err != nil {
		logger.Errorf("Failed to load chunk '%s' to mark it failed: %v", chunkID, err)
		return
	}
	if chunk.Status.IsFinished() {
		return
	}
	chunk.MarkAsFailed(cause)
	if err := w.repo.UpdateChunk(ctx, chunk); err != nil {
		logger.Errorf("Failed to persist FAILED state of chunk '%s': %v", chunkID, err)
	}
}

// ProcessRows performs the per-row upsert loop. It is shared between chunk
// jobs and the inline path for small batches.
//
// startRow is the 1-based data row number of rows[0] within the source file.
// The returned error is nil unless an unexpected failure aborted the loop;
// malformed rows and key failures are recorded in the stats instead.
func (w *ChunkWorker) ProcessRows(ctx context.Context, batch *model.Batch, headers []string, rows [][]string, startRow, keyIdx int) (RowStats, error) {
	var stats RowStats

	for i, row := range rows {
		if i > 0 && i%w.cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return stats, exception.NewBatchError(moduleName, "chunk processing interrupted", err, false, true)
			}
			cancelled, err := w.batchCancelled(ctx, batch.ID)
			if err != nil {
				return stats, err
			}
			if cancelled {
				logger.Warnf("Batch %s cancelled, stopping after %d rows.", batch.ID, stats.Processed)
				return stats, ErrBatchCancelled
			}
		}

		rowNumber := startRow + i
		stats.Processed++

		if len(row) != len(headers) {
			stats.Failed++
			stats.Errors = append(stats.Errors, model.RowError{
				RowNumber: rowNumber,
				Message:   fmt.Sprintf("malformed row: expected %d fields, got %d", len(headers), len(row)),
			})
			w.recorder.RecordRowFailure(ctx, "malformed_row")
			continue
		}

		key, err := w.matcher.KeyForRow(row, keyIdx)
		if err != nil {
			stats.Failed++
			stats.Errors = append(stats.Errors, model.RowError{
				RowNumber: rowNumber,
				Message:   exception.ExtractErrorMessage(err),
			})
			w.recorder.RecordRowFailure(ctx, "missing_key")
			continue
		}

		attrs := make(model.AttributeMap, len(headers))
		for c, h := range headers {
			attrs[h] = row[c]
		}

		record := model.NewTargetRecord(key, attrs, batch.ID, batch.SourceFile)
		created, err := w.repo.UpsertRecord(ctx, record)
		if err != nil {
			// A storage failure is not a row problem; abort the attempt and let
			// the queue retry the whole chunk.
			return stats, exception.NewBatchError(moduleName,
				fmt.Sprintf("failed to upsert record for key '%s' (row %d)", key, rowNumber), err, false, true)
		}
		if created {
			stats.Created++
		} else {
			stats.Updated++
		}
		w.recorder.RecordRowUpsert(ctx, created)
	}

	return stats, nil
}

// batchCancelled reloads the batch and reports whether it was moved to FAILED
// by a cancel request.
func (w *ChunkWorker) batchCancelled(ctx context.Context, batchID string) (bool, error) {
	current, err := w.repo.FindBatchByID(ctx, batchID)
	if err != nil {
		return false, exception.NewBatchError(moduleName, fmt.Sprintf("failed to check cancellation of batch '%s'", batchID), err, false, true)
	}
	return current.Status == model.BatchStatusFailed, nil
}
