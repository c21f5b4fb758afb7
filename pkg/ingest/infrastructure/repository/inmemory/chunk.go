package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
)

// SaveChunk persists a new Chunk.
// It returns an error if a Chunk with the same ID already exists.
func (r *InMemoryIngestRepository) SaveChunk(ctx context.Context, chunk *model.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.chunks[chunk.ID]; exists {
		return fmt.Errorf("Chunk with ID %s already exists", chunk.ID)
	}
	cloned := *chunk
	r.chunks[chunk.ID] = &cloned
	return nil
}

// UpdateChunk updates an existing Chunk.
// It returns an error if the Chunk with the given ID is not found.
func (r *InMemoryIngestRepository) UpdateChunk(ctx context.Context, chunk *model.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.chunks[chunk.ID]; !exists {
		return fmt.Errorf("Chunk with ID %s not found for update", chunk.ID)
	}
	chunk.Version++
	cloned := *chunk
	r.chunks[chunk.ID] = &cloned
	return nil
}

// FindChunkByID finds a Chunk by its ID.
// It returns repository.ErrChunkNotFound if the Chunk does not exist.
func (r *InMemoryIngestRepository) FindChunkByID(ctx context.Context, chunkID string) (*model.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chunk, ok := r.chunks[chunkID]
	if !ok {
		return nil, repository.ErrChunkNotFound
	}
	cloned := *chunk
	return &cloned, nil
}

// FindChunkByNumber finds the chunk at the given position within a batch.
func (r *InMemoryIngestRepository) FindChunkByNumber(ctx context.Context, batchID string, number int) (*model.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.chunks {
		if c.BatchID == batchID && c.Number == number {
			cloned := *c
			return &cloned, nil
		}
	}
	return nil, repository.ErrChunkNotFound
}

// FindChunksByBatchID finds all Chunks of a batch ordered by chunk number.
func (r *InMemoryIngestRepository) FindChunksByBatchID(ctx context.Context, batchID string) ([]*model.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Chunk
	for _, c := range r.chunks {
		if c.BatchID == batchID {
			cloned := *c
			result = append(result, &cloned)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Number < result[j].Number
	})
	return result, nil
}
