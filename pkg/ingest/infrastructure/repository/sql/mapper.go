package sql

import (
	model "github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
)

// --- Mapper functions ---

func fromDomainBatch(b *model.Batch) *BatchEntity {
	if b == nil {
		return nil
	}
	return &BatchEntity{
		ID:                 b.ID,
		SourceFile:         b.SourceFile,
		UniqueColumn:       b.UniqueColumn,
		Status:             b.Status,
		TotalRows:          b.TotalRows,
		ChunkSize:          b.ChunkSize,
		ChunkCount:         b.ChunkCount,
		Inline:             b.Inline,
		RecordsCreated:     b.RecordsCreated,
		RecordsUpdated:     b.RecordsUpdated,
		RecordsDeactivated: b.RecordsDeactivated,
		RowsFailed:         b.RowsFailed,
		RowErrors:          b.RowErrors,
		Log:                b.Log,
		CreatedAt:          b.CreatedAt,
		LastUpdated:        b.LastUpdated,
		FinalizedAt:        b.FinalizedAt,
		Version:            b.Version,
	}
}

func toDomainBatch(entity *BatchEntity) *model.Batch {
	if entity == nil {
		return nil
	}
	return &model.Batch{
		ID:                 entity.ID,
		SourceFile:         entity.SourceFile,
		UniqueColumn:       entity.UniqueColumn,
		Status:             entity.Status,
		TotalRows:          entity.TotalRows,
		ChunkSize:          entity.ChunkSize,
		ChunkCount:         entity.ChunkCount,
		Inline:             entity.Inline,
		RecordsCreated:     entity.RecordsCreated,
		RecordsUpdated:     entity.RecordsUpdated,
		RecordsDeactivated: entity.RecordsDeactivated,
		RowsFailed:         entity.RowsFailed,
		RowErrors:          entity.RowErrors,
		Log:                entity.Log,
		CreatedAt:          entity.CreatedAt,
		LastUpdated:        entity.LastUpdated,
		FinalizedAt:        entity.FinalizedAt,
		Version:            entity.Version,
	}
}

func fromDomainChunk(c *model.Chunk) *ChunkEntity {
	if c == nil {
		return nil
	}
	return &ChunkEntity{
		ID:             c.ID,
		BatchID:        c.BatchID,
		Number:         c.Number,
		StartRow:       c.StartRow,
		RowCount:       c.RowCount,
		Status:         c.Status,
		Attempts:       c.Attempts,
		RowsProcessed:  c.RowsProcessed,
		RecordsCreated: c.RecordsCreated,
		RecordsUpdated: c.RecordsUpdated,
		RowsFailed:     c.RowsFailed,
		RowErrors:      c.RowErrors,
		StartedAt:      c.StartedAt,
		CompletedAt:    c.CompletedAt,
		LastUpdated:    c.LastUpdated,
		Version:        c.Version,
	}
}

func toDomainChunk(entity *ChunkEntity) *model.Chunk {
	if entity == nil {
		return nil
	}
	return &model.Chunk{
		ID:             entity.ID,
		BatchID:        entity.BatchID,
		Number:         entity.Number,
		StartRow:       entity.StartRow,
		RowCount:       entity.RowCount,
		Status:         entity.Status,
		Attempts:       entity.Attempts,
		RowsProcessed:  entity.RowsProcessed,
		RecordsCreated: entity.RecordsCreated,
		RecordsUpdated: entity.RecordsUpdated,
		RowsFailed:     entity.RowsFailed,
		RowErrors:      entity.RowErrors,
		StartedAt:      entity.StartedAt,
		CompletedAt:    entity.CompletedAt,
		LastUpdated:    entity.LastUpdated,
		Version:        entity.Version,
	}
}

func fromDomainTargetRecord(r *model.TargetRecord) *TargetRecordEntity {
	if r == nil {
		return nil
	}
	return &TargetRecordEntity{
		ID:            r.ID,
		BusinessKey:   r.BusinessKey,
		Attributes:    r.Attributes,
		SourceBatchID: r.SourceBatchID,
		SourceFile:    r.SourceFile,
		IsActive:      r.IsActive,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Version:       r.Version,
	}
}

func toDomainTargetRecord(entity *TargetRecordEntity) *model.TargetRecord {
	if entity == nil {
		return nil
	}
	return &model.TargetRecord{
		ID:            entity.ID,
		BusinessKey:   entity.BusinessKey,
		Attributes:    entity.Attributes,
		SourceBatchID: entity.SourceBatchID,
		SourceFile:    entity.SourceFile,
		IsActive:      entity.IsActive,
		CreatedAt:     entity.CreatedAt,
		UpdatedAt:     entity.UpdatedAt,
		Version:       entity.Version,
	}
}
