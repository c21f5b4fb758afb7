package repository

// IngestRepository is the interface for persisting and managing ingestion metadata
// and target records. It embeds multiple smaller repository interfaces to separate
// concerns.
type IngestRepository interface {
	BatchRepository  // Batch operations (definition in batch.go)
	ChunkRepository  // Chunk operations (definition in chunk.go)
	RecordRepository // TargetRecord operations (definition in record.go)

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}
