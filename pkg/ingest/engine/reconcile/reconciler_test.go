package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	"github.com/tigerroll/ingot/pkg/ingest/core/metrics"
	"github.com/tigerroll/ingot/pkg/ingest/engine/reconcile"
	"github.com/tigerroll/ingot/pkg/ingest/engine/worker"
	"github.com/tigerroll/ingot/pkg/ingest/infrastructure/repository/inmemory"
)

func newTestReconciler(repo *inmemory.InMemoryIngestRepository, maxWait time.Duration) *reconcile.Reconciler {
	return reconcile.NewReconciler(repo, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer(),
		5*time.Millisecond, maxWait, 0.5)
}

// newChunkedBatch stores a PROCESSING batch with the given row total.
func newChunkedBatch(t *testing.T, repo *inmemory.InMemoryIngestRepository, totalRows, chunkCount int) *model.Batch {
	t.Helper()
	batch := model.NewBatch("products.csv", "sku")
	batch.TotalRows = totalRows
	require.NoError(t, repo.SaveBatch(context.Background(), batch))
	batch.MarkAsAnalyzing()
	batch.MarkAsChunked(chunkCount, (totalRows+chunkCount-1)/chunkCount)
	batch.MarkAsProcessing()
	require.NoError(t, repo.UpdateBatch(context.Background(), batch))
	return batch
}

// saveFinishedChunk stores a terminal chunk with the given counters.
func saveFinishedChunk(t *testing.T, repo *inmemory.InMemoryIngestRepository, batchID string, number, created, updated int, rowErrs model.RowErrorList, failed bool) *model.Chunk {
	t.Helper()
	chunk := model.NewChunk(batchID, number, number*100+1, created+updated+len(rowErrs))
	chunk.MarkAsProcessing()
	if failed {
		chunk.MarkAsFailed(errors.New("attempts exhausted"))
	} else {
		chunk.MarkAsCompleted()
	}
	chunk.RecordsCreated = created
	chunk.RecordsUpdated = updated
	chunk.RowsFailed = len(rowErrs)
	chunk.RowErrors = append(chunk.RowErrors, rowErrs...)
	require.NoError(t, repo.SaveChunk(context.Background(), chunk))
	return chunk
}

func TestReconcileCleanRunCompletes(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	r := newTestReconciler(repo, time.Second)
	ctx := context.Background()

	batch := newChunkedBatch(t, repo, 10, 2)
	saveFinishedChunk(t, repo, batch.ID, 0, 5, 0, nil, false)
	saveFinishedChunk(t, repo, batch.ID, 1, 3, 2, nil, false)

	require.NoError(t, r.Reconcile(ctx, batch.ID))

	stored, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.Equal(t, 8, stored.RecordsCreated)
	assert.Equal(t, 2, stored.RecordsUpdated)
	assert.Equal(t, 0, stored.RowsFailed)
	assert.NotNil(t, stored.FinalizedAt)
}

func TestReconcileOrdersRowErrorsAcrossChunks(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	r := newTestReconciler(repo, time.Second)
	ctx := context.Background()

	batch := newChunkedBatch(t, repo, 100, 2)
	saveFinishedChunk(t, repo, batch.ID, 0, 48, 0, model.RowErrorList{
		{RowNumber: 7, Message: "missing key"},
		{RowNumber: 31, Message: "malformed row"},
	}, false)
	saveFinishedChunk(t, repo, batch.ID, 1, 49, 0, model.RowErrorList{
		{RowNumber: 102, Message: "missing key"},
	}, false)

	require.NoError(t, r.Reconcile(ctx, batch.ID))

	stored, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompletedWithErrors, stored.Status)
	assert.Equal(t, 3, stored.RowsFailed)
	require.Len(t, stored.RowErrors, 3)
	assert.Equal(t, 7, stored.RowErrors[0].RowNumber)
	assert.Equal(t, 31, stored.RowErrors[1].RowNumber)
	assert.Equal(t, 102, stored.RowErrors[2].RowNumber)
}

func TestReconcileNotesFailedChunks(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	r := newTestReconciler(repo, time.Second)
	ctx := context.Background()

	batch := newChunkedBatch(t, repo, 10, 2)
	saveFinishedChunk(t, repo, batch.ID, 0, 5, 0, nil, false)
	saveFinishedChunk(t, repo, batch.ID, 1, 2, 0, nil, true)

	require.NoError(t, r.Reconcile(ctx, batch.ID))

	stored, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompletedWithErrors, stored.Status)
	assert.Contains(t, stored.Log, "1 of 2 chunks failed")
}

func TestReconcileDegradedRatioNote(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	r := newTestReconciler(repo, time.Second)
	ctx := context.Background()

	batch := newChunkedBatch(t, repo, 10, 1)
	rowErrs := make(model.RowErrorList, 6)
	for i := range rowErrs {
		rowErrs[i] = model.RowError{RowNumber: i + 1, Message: "malformed row"}
	}
	saveFinishedChunk(t, repo, batch.ID, 0, 4, 0, rowErrs, false)

	require.NoError(t, r.Reconcile(ctx, batch.ID))

	stored, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompletedWithErrors, stored.Status)
	assert.Contains(t, stored.Log, "degraded result: 60% of rows failed")
}

func TestReconcileDeactivatesStaleRecords(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	r := newTestReconciler(repo, time.Second)
	ctx := context.Background()

	// Records of an earlier upload of the same file.
	for _, key := range []string{"A-1", "B-2", "C-3"} {
		_, err := repo.UpsertRecord(ctx, model.NewTargetRecord(key, model.AttributeMap{"sku": key}, "old-batch", "products.csv"))
		require.NoError(t, err)
	}

	batch := newChunkedBatch(t, repo, 2, 1)
	// The new batch re-ingested only two of the keys.
	for _, key := range []string{"A-1", "B-2"} {
		_, err := repo.UpsertRecord(ctx, model.NewTargetRecord(key, model.AttributeMap{"sku": key}, batch.ID, "products.csv"))
		require.NoError(t, err)
	}
	saveFinishedChunk(t, repo, batch.ID, 0, 0, 2, nil, false)

	require.NoError(t, r.Reconcile(ctx, batch.ID))

	stored, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RecordsDeactivated)

	dropped, err := repo.FindRecordByKey(ctx, "C-3")
	require.NoError(t, err)
	assert.False(t, dropped.IsActive)
}

func TestReconcileProceedsAfterMaxWait(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	r := newTestReconciler(repo, 30*time.Millisecond)
	ctx := context.Background()

	batch := newChunkedBatch(t, repo, 10, 2)
	saveFinishedChunk(t, repo, batch.ID, 0, 5, 0, nil, false)
	// Chunk 1 never finishes.
	stuck := model.NewChunk(batch.ID, 1, 101, 5)
	stuck.MarkAsProcessing()
	require.NoError(t, repo.SaveChunk(ctx, stuck))

	require.NoError(t, r.Reconcile(ctx, batch.ID))

	stored, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	// Even with zero row failures the stuck chunk keeps the run from settling clean.
	assert.Equal(t, model.BatchStatusCompletedWithErrors, stored.Status)
	require.NotEmpty(t, stored.Log)
	assert.Contains(t, stored.Log[0], "not all chunks finished")
	assert.Contains(t, stored.Log, "1 of 2 chunks did not finish in time")
}

func TestReconcileIsIdempotentOnFinalizedBatch(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	r := newTestReconciler(repo, time.Second)
	ctx := context.Background()

	batch := newChunkedBatch(t, repo, 10, 1)
	saveFinishedChunk(t, repo, batch.ID, 0, 10, 0, nil, false)
	require.NoError(t, r.Reconcile(ctx, batch.ID))

	first, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	finalizedAt := *first.FinalizedAt

	// A re-delivered reconcile job refreshes the aggregation only.
	require.NoError(t, r.Reconcile(ctx, batch.ID))

	second, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, finalizedAt, *second.FinalizedAt)
	assert.Equal(t, 10, second.RecordsCreated, "recomputed, not accumulated")
}

func TestReconcileCancelledContext(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	r := newTestReconciler(repo, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	batch := newChunkedBatch(t, repo, 10, 1)
	stuck := model.NewChunk(batch.ID, 0, 1, 10)
	require.NoError(t, repo.SaveChunk(context.Background(), stuck))

	cancel()
	err := r.Reconcile(ctx, batch.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconciliation interrupted")
}

func TestFinalizeInline(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	r := newTestReconciler(repo, time.Second)
	ctx := context.Background()

	batch := model.NewBatch("small.csv", "sku")
	batch.TotalRows = 3
	batch.Inline = true
	require.NoError(t, repo.SaveBatch(ctx, batch))
	batch.MarkAsAnalyzing()
	batch.MarkAsProcessing()
	require.NoError(t, repo.UpdateBatch(ctx, batch))

	stats := worker.RowStats{
		Processed: 3,
		Created:   2,
		Updated:   0,
		Failed:    1,
		Errors:    model.RowErrorList{{RowNumber: 2, Message: "missing key"}},
	}
	require.NoError(t, r.FinalizeInline(ctx, batch, stats))

	stored, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompletedWithErrors, stored.Status)
	assert.Equal(t, 2, stored.RecordsCreated)
	assert.Equal(t, 1, stored.RowsFailed)
	require.Len(t, stored.RowErrors, 1)
	assert.NotNil(t, stored.FinalizedAt)
}
