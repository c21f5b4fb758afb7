package inmemory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
	"github.com/tigerroll/ingot/pkg/ingest/infrastructure/repository/inmemory"
)

func newTestRecord(key, batchID, sourceFile string) *model.TargetRecord {
	return model.NewTargetRecord(key, model.AttributeMap{"sku": key}, batchID, sourceFile)
}

func TestSaveAndFindBatch(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	ctx := context.Background()

	batch := model.NewBatch("products.csv", "sku")
	require.NoError(t, repo.SaveBatch(ctx, batch))
	assert.Error(t, repo.SaveBatch(ctx, batch), "duplicate ID is rejected")

	found, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.ID, found.ID)
	assert.Equal(t, model.BatchStatusPending, found.Status)

	// The stored copy is isolated from later caller mutation.
	found.SourceFile = "mutated.csv"
	again, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "products.csv", again.SourceFile)

	_, err = repo.FindBatchByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrBatchNotFound)
}

func TestUpdateBatchBumpsVersion(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	ctx := context.Background()

	batch := model.NewBatch("products.csv", "sku")
	require.NoError(t, repo.SaveBatch(ctx, batch))

	batch.MarkAsAnalyzing()
	require.NoError(t, repo.UpdateBatch(ctx, batch))
	assert.Equal(t, 1, batch.Version)

	found, err := repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAnalyzing, found.Status)
	assert.Equal(t, 1, found.Version)

	unknown := model.NewBatch("other.csv", "")
	assert.Error(t, repo.UpdateBatch(ctx, unknown))
}

func TestFindBatchesBySourceFileNewestFirst(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	ctx := context.Background()

	older := model.NewBatch("products.csv", "sku")
	newer := model.NewBatch("products.csv", "sku")
	newer.CreatedAt = older.CreatedAt.Add(1)
	other := model.NewBatch("stores.csv", "id")

	require.NoError(t, repo.SaveBatch(ctx, older))
	require.NoError(t, repo.SaveBatch(ctx, newer))
	require.NoError(t, repo.SaveBatch(ctx, other))

	batches, err := repo.FindBatchesBySourceFile(ctx, "products.csv")
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, newer.ID, batches[0].ID)
	assert.Equal(t, older.ID, batches[1].ID)
}

func TestChunkLifecycle(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	ctx := context.Background()

	c0 := model.NewChunk("batch-1", 0, 1, 200)
	c1 := model.NewChunk("batch-1", 1, 201, 200)
	cOther := model.NewChunk("batch-2", 0, 1, 50)
	require.NoError(t, repo.SaveChunk(ctx, c1))
	require.NoError(t, repo.SaveChunk(ctx, c0))
	require.NoError(t, repo.SaveChunk(ctx, cOther))

	found, err := repo.FindChunkByID(ctx, c0.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, found.Number)

	byNumber, err := repo.FindChunkByNumber(ctx, "batch-1", 1)
	require.NoError(t, err)
	assert.Equal(t, c1.ID, byNumber.ID)

	_, err = repo.FindChunkByNumber(ctx, "batch-1", 9)
	assert.ErrorIs(t, err, repository.ErrChunkNotFound)

	chunks, err := repo.FindChunksByBatchID(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Number, "ordered by chunk number")
	assert.Equal(t, 1, chunks[1].Number)

	c0.MarkAsProcessing()
	require.NoError(t, repo.UpdateChunk(ctx, c0))
	assert.Equal(t, 1, c0.Version)
}

func TestUpsertRecordCreateThenUpdate(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	ctx := context.Background()

	created, err := repo.UpsertRecord(ctx, newTestRecord("A-1", "batch-1", "products.csv"))
	require.NoError(t, err)
	assert.True(t, created)

	// Re-ingesting the same key overwrites and reactivates.
	update := newTestRecord("A-1", "batch-2", "products.csv")
	update.Attributes["name"] = "Widget v2"
	created, err = repo.UpsertRecord(ctx, update)
	require.NoError(t, err)
	assert.False(t, created)

	found, err := repo.FindRecordByKey(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, "batch-2", found.SourceBatchID)
	assert.Equal(t, "Widget v2", found.Attributes["name"])
	assert.Equal(t, 1, found.Version)
	assert.True(t, found.IsActive)

	_, err = repo.FindRecordByKey(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrRecordNotFound)
}

func TestFindRecordsBySourceFile(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	ctx := context.Background()

	for _, key := range []string{"B-2", "A-1", "C-3"} {
		_, err := repo.UpsertRecord(ctx, newTestRecord(key, "batch-1", "products.csv"))
		require.NoError(t, err)
	}
	_, err := repo.UpsertRecord(ctx, newTestRecord("Z-9", "batch-1", "stores.csv"))
	require.NoError(t, err)

	// Deactivate B-2 by re-ingesting the others under a new batch.
	for _, key := range []string{"A-1", "C-3"} {
		_, err := repo.UpsertRecord(ctx, newTestRecord(key, "batch-2", "products.csv"))
		require.NoError(t, err)
	}
	deactivated, err := repo.DeactivateStaleRecords(ctx, "products.csv", "batch-2")
	require.NoError(t, err)
	assert.Equal(t, 1, deactivated)

	active, err := repo.FindRecordsBySourceFile(ctx, "products.csv", false)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "A-1", active[0].BusinessKey, "ordered by business key")
	assert.Equal(t, "C-3", active[1].BusinessKey)

	all, err := repo.FindRecordsBySourceFile(ctx, "products.csv", true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeactivateStaleRecordsIsIdempotent(t *testing.T) {
	repo := inmemory.NewInMemoryIngestRepository()
	ctx := context.Background()

	_, err := repo.UpsertRecord(ctx, newTestRecord("A-1", "batch-1", "products.csv"))
	require.NoError(t, err)
	_, err = repo.UpsertRecord(ctx, newTestRecord("B-2", "batch-1", "products.csv"))
	require.NoError(t, err)

	count, err := repo.DeactivateStaleRecords(ctx, "products.csv", "batch-2")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = repo.DeactivateStaleRecords(ctx, "products.csv", "batch-2")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "already-inactive records are not counted again")
}
