package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
)

// ErrBatchNotFound is the error returned when a Batch is not found.
var ErrBatchNotFound = errors.New("batch not found")

type BatchRepository interface {
	// SaveBatch persists a new Batch.
	SaveBatch(ctx context.Context, batch *model.Batch) error

	// UpdateBatch updates the state of an existing Batch.
	// Implementations enforce optimistic locking on the Version column.
	UpdateBatch(ctx context.Context, batch *model.Batch) error

	// FindBatchByID finds a Batch by its ID.
	FindBatchByID(ctx context.Context, batchID string) (*model.Batch, error)

	// FindBatchesBySourceFile finds all Batches ingested from the given source
	// filename, newest first.
	FindBatchesBySourceFile(ctx context.Context, sourceFile string) ([]*model.Batch, error)
}
