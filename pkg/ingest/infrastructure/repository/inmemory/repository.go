// Package inmemory provides an in-memory implementation of the IngestRepository
// interface. It stores all ingestion data in maps within memory, suitable for
// testing and scenarios where persistence is not required.
package inmemory

import (
	"sync"

	"github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
)

// InMemoryIngestRepository is an in-memory implementation of the IngestRepository interface.
type InMemoryIngestRepository struct {
	batches map[string]*model.Batch
	chunks  map[string]*model.Chunk
	// records is keyed by BusinessKey; a key holds exactly one record.
	records map[string]*model.TargetRecord
	mu      sync.RWMutex // Mutex to protect concurrent access to maps.
}

// NewInMemoryIngestRepository creates and initializes a new instance of InMemoryIngestRepository.
func NewInMemoryIngestRepository() *InMemoryIngestRepository {
	return &InMemoryIngestRepository{
		batches: make(map[string]*model.Batch),
		chunks:  make(map[string]*model.Chunk),
		records: make(map[string]*model.TargetRecord),
	}
}

// Close releases resources used by the repository.
// As an in-memory repository, it holds no external resources, so this method always returns nil.
func (r *InMemoryIngestRepository) Close() error {
	return nil
}
