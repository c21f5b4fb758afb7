package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
)

// SaveBatch persists a new Batch.
// It returns an error if a Batch with the same ID already exists.
func (r *InMemoryIngestRepository) SaveBatch(ctx context.Context, batch *model.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.batches[batch.ID]; exists {
		return fmt.Errorf("Batch with ID %s already exists", batch.ID)
	}
	cloned := *batch
	r.batches[batch.ID] = &cloned
	return nil
}

// UpdateBatch updates an existing Batch.
// It returns an error if the Batch with the given ID is not found.
func (r *InMemoryIngestRepository) UpdateBatch(ctx context.Context, batch *model.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.batches[batch.ID]; !exists {
		return fmt.Errorf("Batch with ID %s not found for update", batch.ID)
	}
	batch.Version++
	cloned := *batch
	r.batches[batch.ID] = &cloned
	return nil
}

// FindBatchByID finds a Batch by its ID.
// It returns repository.ErrBatchNotFound if the Batch does not exist.
func (r *InMemoryIngestRepository) FindBatchByID(ctx context.Context, batchID string) (*model.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	batch, ok := r.batches[batchID]
	if !ok {
		return nil, repository.ErrBatchNotFound
	}

	// Deep copy to prevent external modification of internal state
	cloned := *batch
	return &cloned, nil
}

// FindBatchesBySourceFile finds all Batches ingested from the given source filename, newest first.
func (r *InMemoryIngestRepository) FindBatchesBySourceFile(ctx context.Context, sourceFile string) ([]*model.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Batch
	for _, b := range r.batches {
		if b.SourceFile == sourceFile {
			cloned := *b
			result = append(result, &cloned)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
