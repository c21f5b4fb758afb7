// Package reconcile finalizes batches: it waits for chunk jobs to finish,
// deactivates records that disappeared from the source file, recomputes the
// batch aggregation from the durable chunk rows and settles the final status.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
	"github.com/tigerroll/ingot/pkg/ingest/core/metrics"
	"github.com/tigerroll/ingot/pkg/ingest/engine/worker"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

const moduleName = "reconcile"

// Reconciler settles a batch after its chunks have run.
type Reconciler struct {
	repo          repository.IngestRepository
	recorder      metrics.MetricRecorder
	tracer        metrics.Tracer
	pollInterval  time.Duration
	maxWait       time.Duration
	degradedRatio float64
}

// NewReconciler creates a new Reconciler.
// pollInterval is how often chunk completion is re-checked, maxWait is the
// total time to wait before proceeding with a warning, and degradedRatio is
// the row failure ratio at which a degraded note is attached to the batch.
func NewReconciler(repo repository.IngestRepository, recorder metrics.MetricRecorder, tracer metrics.Tracer, pollInterval, maxWait time.Duration, degradedRatio float64) *Reconciler {
	return &Reconciler{
		repo:          repo,
		recorder:      recorder,
		tracer:        tracer,
		pollInterval:  pollInterval,
		maxWait:       maxWait,
		degradedRatio: degradedRatio,
	}
}

// Reconcile finalizes the batch with the given ID. It polls until every chunk
// has reached a terminal state, or until maxWait elapses, in which case it
// proceeds with a warning and aggregates whatever the chunks have durably
// recorded. Re-running it against an already finalized batch recomputes the
// aggregation but never changes the final status or FinalizedAt.
func (r *Reconciler) Reconcile(ctx context.Context, batchID string) error {
	batch, err := r.repo.FindBatchByID(ctx, batchID)
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to load batch '%s'", batchID), err, false, true)
	}

	start := time.Now()
	chunks, timedOut, err := r.awaitChunks(ctx, batchID)
	if err != nil {
		return err
	}
	r.recorder.RecordDuration(ctx, "reconcile_wait", time.Since(start), map[string]string{"source_file": batch.SourceFile})

	if batch.Status.IsFinished() {
		// Idempotent re-run: refresh the aggregation, keep status and FinalizedAt.
		// An inline batch has no chunk rows, its counters stand as recorded.
		logger.Infof("Batch %s already finalized as %s, recomputing aggregation only.", batch.ID, batch.Status)
		if len(chunks) > 0 {
			r.aggregate(batch, chunks)
			return r.repo.UpdateBatch(ctx, batch)
		}
		return nil
	}

	if timedOut {
		msg := fmt.Sprintf("reconciliation proceeded after waiting %s; not all chunks finished", r.maxWait)
		logger.Warnf("Batch %s: %s", batch.ID, msg)
		batch.AppendLog(msg)
	}

	return r.finalize(ctx, batch, chunks)
}

// awaitChunks polls the chunk rows of the batch until all are terminal.
// It returns the final chunk set and whether the wait timed out.
func (r *Reconciler) awaitChunks(ctx context.Context, batchID string) ([]*model.Chunk, bool, error) {
	deadline := time.Now().Add(r.maxWait)
	for {
		chunks, err := r.repo.FindChunksByBatchID(ctx, batchID)
		if err != nil {
			return nil, false, exception.NewBatchError(moduleName, fmt.Sprintf("failed to load chunks of batch '%s'", batchID), err, false, true)
		}

		unfinished := 0
		for _, c := range chunks {
			if !c.Status.IsFinished() {
				unfinished++
			}
		}
		if unfinished == 0 {
			return chunks, false, nil
		}
		if time.Now().After(deadline) {
			return chunks, true, nil
		}

		logger.Debugf("Batch %s: waiting for %d unfinished chunks.", batchID, unfinished)
		select {
		case <-ctx.Done():
			return nil, false, exception.NewBatchError(moduleName, "reconciliation interrupted", ctx.Err(), false, false)
		case <-time.After(r.pollInterval):
		}
	}
}

// finalize deactivates stale records, recomputes the aggregation and settles
// the final status of a chunked batch.
func (r *Reconciler) finalize(ctx context.Context, batch *model.Batch, chunks []*model.Chunk) error {
	ctx, endSpan := r.tracer.StartBatchSpan(ctx, batch)
	defer endSpan()

	deactivated, err := r.repo.DeactivateStaleRecords(ctx, batch.SourceFile, batch.ID)
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to deactivate stale records of '%s'", batch.SourceFile), err, false, true)
	}
	batch.RecordsDeactivated = deactivated
	r.recorder.RecordDeactivation(ctx, deactivated)
	if deactivated > 0 {
		r.tracer.RecordEvent(ctx, "records_deactivated", map[string]interface{}{
			"source_file": batch.SourceFile,
			"count":       deactivated,
		})
	}

	chunksFailed, chunksUnfinished := r.aggregate(batch, chunks)
	r.settleStatus(batch, chunksFailed, chunksUnfinished, len(chunks))

	if err := r.repo.UpdateBatch(ctx, batch); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to persist finalized batch '%s'", batch.ID), err, false, true)
	}
	r.recorder.RecordBatchEnd(ctx, batch)
	logger.Infof("Batch %s finalized as %s: %d created, %d updated, %d deactivated, %d row failures.",
		batch.ID, batch.Status, batch.RecordsCreated, batch.RecordsUpdated, batch.RecordsDeactivated, batch.RowsFailed)
	return nil
}

// FinalizeInline settles a batch that was processed synchronously without
// chunk jobs. The row stats come straight from the inline worker pass.
func (r *Reconciler) FinalizeInline(ctx context.Context, batch *model.Batch, stats worker.RowStats) error {
	batch.RecordsCreated = stats.Created
	batch.RecordsUpdated = stats.Updated
	batch.RowsFailed = stats.Failed
	batch.RowErrors = stats.Errors

	deactivated, err := r.repo.DeactivateStaleRecords(ctx, batch.SourceFile, batch.ID)
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to deactivate stale records of '%s'", batch.SourceFile), err, false, true)
	}
	batch.RecordsDeactivated = deactivated
	r.recorder.RecordDeactivation(ctx, deactivated)

	r.settleStatus(batch, 0, 0, 0)

	if err := r.repo.UpdateBatch(ctx, batch); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to persist finalized batch '%s'", batch.ID), err, false, true)
	}
	r.recorder.RecordBatchEnd(ctx, batch)
	logger.Infof("Batch %s finalized inline as %s: %d created, %d updated, %d deactivated, %d row failures.",
		batch.ID, batch.Status, batch.RecordsCreated, batch.RecordsUpdated, batch.RecordsDeactivated, batch.RowsFailed)
	return nil
}

// aggregate recomputes the batch counters from the durable chunk rows and
// returns the number of failed and still unfinished chunks. The recomputation
// replaces, never accumulates, so re-running it is safe.
func (r *Reconciler) aggregate(batch *model.Batch, chunks []*model.Chunk) (chunksFailed, chunksUnfinished int) {
	created, updated, failedRows := 0, 0, 0
	var rowErrors model.RowErrorList
	for _, c := range chunks {
		created += c.RecordsCreated
		updated += c.RecordsUpdated
		failedRows += c.RowsFailed
		rowErrors = append(rowErrors, c.RowErrors...)
		if c.Status == model.ChunkStatusFailed {
			chunksFailed++
		}
		if !c.Status.IsFinished() {
			chunksUnfinished++
		}
	}
	sort.SliceStable(rowErrors, func(i, j int) bool {
		return rowErrors[i].RowNumber < rowErrors[j].RowNumber
	})

	batch.RecordsCreated = created
	batch.RecordsUpdated = updated
	batch.RowsFailed = failedRows
	batch.RowErrors = rowErrors
	return chunksFailed, chunksUnfinished
}

// settleStatus moves the batch to its terminal state.
// Any row failure, failed chunk or chunk still running past the wait window
// yields COMPLETED_WITH_ERRORS; only a clean, fully settled run yields
// COMPLETED. A failure ratio at or above degradedRatio additionally attaches a
// degraded note to the processing log.
func (r *Reconciler) settleStatus(batch *model.Batch, chunksFailed, chunksUnfinished, chunkTotal int) {
	if batch.Status == model.BatchStatusChunked {
		batch.MarkAsProcessing()
	}

	if batch.TotalRows > 0 && r.degradedRatio > 0 {
		ratio := float64(batch.RowsFailed) / float64(batch.TotalRows)
		if ratio >= r.degradedRatio {
			batch.AppendLog(fmt.Sprintf("degraded result: %.0f%% of rows failed", ratio*100))
		}
	}
	if chunksFailed > 0 {
		batch.AppendLog(fmt.Sprintf("%d of %d chunks failed", chunksFailed, chunkTotal))
	}
	if chunksUnfinished > 0 {
		batch.AppendLog(fmt.Sprintf("%d of %d chunks did not finish in time", chunksUnfinished, chunkTotal))
	}

	if batch.RowsFailed == 0 && chunksFailed == 0 && chunksUnfinished == 0 {
		batch.MarkAsCompleted()
	} else {
		batch.MarkAsCompletedWithErrors()
	}
}
