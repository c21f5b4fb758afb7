package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	"github.com/tigerroll/ingot/pkg/ingest/core/metrics"
	"github.com/tigerroll/ingot/pkg/ingest/engine/matcher"
	"github.com/tigerroll/ingot/pkg/ingest/engine/worker"
	"github.com/tigerroll/ingot/pkg/ingest/infrastructure/repository/inmemory"
)

func newTestWorker(repo *inmemory.InMemoryIngestRepository, cancelInterval int) *worker.ChunkWorker {
	m := matcher.NewMatcher([]string{"id", "sku"})
	return worker.NewChunkWorker(repo, m, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer(), cancelInterval)
}

func newProcessingBatch(t *testing.T, repo *inmemory.InMemoryIngestRepository, uniqueColumn string) *model.Batch {
	t.Helper()
	batch := model.NewBatch("products.csv", uniqueColumn)
	require.NoError(t, repo.SaveBatch(context.Background(), batch))
	batch.MarkAsAnalyzing()
	batch.MarkAsProcessing()
	require.NoError(t, repo.UpdateBatch(context.Background(), batch))
	return batch
}

func TestProcessRowsCountsOutcomes(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	w := newTestWorker(repo, 0)
	ctx := context.Background()
	batch := newProcessingBatch(t, repo, "sku")

	headers := []string{"sku", "name"}
	// Seed A-1 so reprocessing it counts as an update.
	_, err := repo.UpsertRecord(ctx, model.NewTargetRecord("A-1", model.AttributeMap{"sku": "A-1"}, "earlier", "products.csv"))
	require.NoError(t, err)

	rows := [][]string{
		{"A-1", "Widget"},
		{"B-2", "Gadget"},
		{"C-3"},             // malformed: field count mismatch
		{"   ", "Nameless"}, // missing key
		{"D-4", "Sprocket"},
	}

	stats, err := w.ProcessRows(ctx, batch, headers, rows, 1, 0)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Processed)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 2, stats.Failed)
	require.Len(t, stats.Errors, 2)
	assert.Equal(t, 3, stats.Errors[0].RowNumber)
	assert.Contains(t, stats.Errors[0].Message, "malformed row: expected 2 fields, got 1")
	assert.Equal(t, 4, stats.Errors[1].RowNumber)

	rec, err := repo.FindRecordByKey(ctx, "B-2")
	require.NoError(t, err)
	assert.Equal(t, batch.ID, rec.SourceBatchID)
	assert.Equal(t, "Gadget", rec.Attributes["name"])
}

func TestProcessRowsStartRowOffsets(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	w := newTestWorker(repo, 0)
	batch := newProcessingBatch(t, repo, "sku")

	rows := [][]string{{"bad"}}
	stats, err := w.ProcessRows(context.Background(), batch, []string{"sku", "name"}, rows, 401, 0)
	require.NoError(t, err)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, 401, stats.Errors[0].RowNumber)
}

func TestProcessRowsStopsOnCancelledBatch(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	w := newTestWorker(repo, 2)
	ctx := context.Background()

	batch := model.NewBatch("products.csv", "sku")
	require.NoError(t, repo.SaveBatch(ctx, batch))
	// The durable row says FAILED; the in-flight copy does not know yet.
	stored, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	stored.MarkAsFailed(errors.New("cancelled by operator"))
	require.NoError(t, repo.UpdateBatch(ctx, stored))

	rows := [][]string{
		{"A-1", "x"}, {"B-2", "x"}, {"C-3", "x"}, {"D-4", "x"},
	}
	stats, err := w.ProcessRows(ctx, batch, []string{"sku", "name"}, rows, 1, 0)
	require.ErrorIs(t, err, worker.ErrBatchCancelled)
	assert.Equal(t, 2, stats.Processed, "stops at the first cancellation check")
}

func TestProcessChunkPersistsPartialProgressOnCancel(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	w := newTestWorker(repo, 2)
	ctx := context.Background()

	batch := newProcessingBatch(t, repo, "sku")
	stored, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	stored.MarkAsFailed(errors.New("cancelled by operator"))
	require.NoError(t, repo.UpdateBatch(ctx, stored))

	chunk := model.NewChunk(batch.ID, 0, 1, 4)
	require.NoError(t, repo.SaveChunk(ctx, chunk))

	rows := [][]string{
		{"A-1", "x"}, {"B-2", "x"}, {"C-3", "x"}, {"D-4", "x"},
	}
	err = w.ProcessChunk(ctx, batch, chunk.ID, []string{"sku", "name"}, rows, 1)
	require.ErrorIs(t, err, worker.ErrBatchCancelled)

	// The aborted attempt's walked rows stay visible in the durable chunk row.
	aborted, err := repo.FindChunkByID(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChunkStatusFailed, aborted.Status)
	assert.Equal(t, 2, aborted.RowsProcessed)
	assert.LessOrEqual(t, aborted.RowsProcessed, aborted.RowCount)
}

func TestProcessChunkCompletes(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	w := newTestWorker(repo, 0)
	ctx := context.Background()
	batch := newProcessingBatch(t, repo, "sku")

	chunk := model.NewChunk(batch.ID, 0, 1, 2)
	require.NoError(t, repo.SaveChunk(ctx, chunk))

	rows := [][]string{{"A-1", "Widget"}, {"B-2", "Gadget"}}
	require.NoError(t, w.ProcessChunk(ctx, batch, chunk.ID, []string{"sku", "name"}, rows, 1))

	stored, err := repo.FindChunkByID(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChunkStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.RowsProcessed)
	assert.Equal(t, 2, stored.RecordsCreated)
	assert.Equal(t, 0, stored.RowsFailed)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.CompletedAt)
}

func TestProcessChunkSkipsCompletedChunk(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	w := newTestWorker(repo, 0)
	ctx := context.Background()
	batch := newProcessingBatch(t, repo, "sku")

	chunk := model.NewChunk(batch.ID, 0, 1, 1)
	chunk.MarkAsProcessing()
	chunk.MarkAsCompleted()
	chunk.RecordsCreated = 7
	require.NoError(t, repo.SaveChunk(ctx, chunk))

	// A re-delivered job for a finished chunk must not touch it.
	require.NoError(t, w.ProcessChunk(ctx, batch, chunk.ID, []string{"sku"}, [][]string{{"A-1"}}, 2))

	stored, err := repo.FindChunkByID(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.RecordsCreated)
	assert.Equal(t, 1, stored.Attempts)
}

func TestProcessChunkRecomputesCountersPerAttempt(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	w := newTestWorker(repo, 0)
	ctx := context.Background()
	batch := newProcessingBatch(t, repo, "sku")

	chunk := model.NewChunk(batch.ID, 0, 1, 2)
	require.NoError(t, repo.SaveChunk(ctx, chunk))

	// First attempt with one malformed row.
	rows := [][]string{{"A-1", "Widget"}, {"bad"}}
	require.NoError(t, w.ProcessChunk(ctx, batch, chunk.ID, []string{"sku", "name"}, rows, 1))
	stored, err := repo.FindChunkByID(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RowsFailed)

	// Reset to PROCESSING-like retry by building a fresh chunk; counters of a
	// second attempt start from zero rather than accumulating.
	chunk2 := model.NewChunk(batch.ID, 1, 3, 2)
	require.NoError(t, repo.SaveChunk(ctx, chunk2))
	require.NoError(t, w.ProcessChunk(ctx, batch, chunk2.ID, []string{"sku", "name"}, rows, 1))
	require.NoError(t, w.ProcessChunk(ctx, batch, chunk2.ID, []string{"sku", "name"}, rows, 2))
	stored2, err := repo.FindChunkByID(ctx, chunk2.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored2.RowsFailed, "counters are recomputed, not accumulated")
	assert.Equal(t, 2, stored2.RowsProcessed)
}

func TestProcessChunkKeyResolutionFailure(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	w := newTestWorker(repo, 0)
	ctx := context.Background()
	batch := newProcessingBatch(t, repo, "ean")

	chunk := model.NewChunk(batch.ID, 0, 1, 1)
	require.NoError(t, repo.SaveChunk(ctx, chunk))

	err := w.ProcessChunk(ctx, batch, chunk.ID, []string{"sku", "name"}, [][]string{{"A-1", "x"}}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'ean' not found")
}

func TestMarkChunkFailed(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	w := newTestWorker(repo, 0)
	ctx := context.Background()
	batch := newProcessingBatch(t, repo, "sku")

	chunk := model.NewChunk(batch.ID, 0, 1, 1)
	chunk.MarkAsProcessing()
	require.NoError(t, repo.SaveChunk(ctx, chunk))

	w.MarkChunkFailed(ctx, chunk.ID, errors.New("attempts exhausted"))

	stored, err := repo.FindChunkByID(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChunkStatusFailed, stored.Status)
	require.NotEmpty(t, stored.RowErrors)
	assert.Contains(t, stored.RowErrors[0].Message, "attempts exhausted")

	// Finished chunks are left untouched.
	before := stored.Version
	w.MarkChunkFailed(ctx, chunk.ID, errors.New("late failure"))
	after, err := repo.FindChunkByID(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after.Version)
}
