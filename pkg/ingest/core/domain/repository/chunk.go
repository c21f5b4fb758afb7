package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
)

// ErrChunkNotFound is the error returned when a Chunk is not found.
var ErrChunkNotFound = errors.New("chunk not found")

type ChunkRepository interface {
	// SaveChunk persists a new Chunk.
	SaveChunk(ctx context.Context, chunk *model.Chunk) error

	// UpdateChunk updates the state of an existing Chunk.
	// Implementations enforce optimistic locking on the Version column.
	UpdateChunk(ctx context.Context, chunk *model.Chunk) error

	// FindChunkByID finds a Chunk by its ID.
	FindChunkByID(ctx context.Context, chunkID string) (*model.Chunk, error)

	// FindChunkByNumber finds the chunk at the given position within a batch.
	FindChunkByNumber(ctx context.Context, batchID string, number int) (*model.Chunk, error)

	// FindChunksByBatchID finds all Chunks of a batch ordered by chunk number.
	FindChunksByBatchID(ctx context.Context, batchID string) ([]*model.Chunk, error)
}
