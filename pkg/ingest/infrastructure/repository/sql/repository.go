// Package sql implements the ingest repository on a relational database via GORM.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/ingot/pkg/ingest/adapter/database"
	model "github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	repository "github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
)

// SQLIngestRepository implements the repository.IngestRepository interface.
type SQLIngestRepository struct {
	dbResolver database.DBConnectionResolver
	// dbName is the name of the database connection used by this repository (e.g., "metadata").
	dbName string
}

// NewSQLIngestRepository creates a new instance of SQLIngestRepository.
func NewSQLIngestRepository(dbResolver database.DBConnectionResolver, dbName string) repository.IngestRepository {
	return &SQLIngestRepository{
		dbResolver: dbResolver,
		dbName:     dbName,
	}
}

// db resolves the GORM handle of the repository's connection.
func (r *SQLIngestRepository) db(ctx context.Context) (*gorm.DB, error) {
	conn, err := r.dbResolver.ResolveDBConnection(r.dbName)
	if err != nil {
		return nil, exception.NewBatchError("SQLIngestRepository", fmt.Sprintf("Failed to resolve DB connection '%s'", r.dbName), err, false, false)
	}
	return conn.DB().WithContext(ctx), nil
}

// --- Batch implementation ---

func (r *SQLIngestRepository) SaveBatch(ctx context.Context, batch *model.Batch) error {
	const op = "SQLIngestRepository.SaveBatch"
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	if err := db.Create(fromDomainBatch(batch)).Error; err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to save Batch (ID: %s)", batch.ID), err, false, true)
	}
	return nil
}

func (r *SQLIngestRepository) UpdateBatch(ctx context.Context, batch *model.Batch) error {
	const op = "SQLIngestRepository.UpdateBatch"
	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	originalVersion := batch.Version
	batch.Version++
	batch.LastUpdated = time.Now()
	entity := fromDomainBatch(batch)

	result := db.Model(&BatchEntity{}).
		Where("id = ? AND version = ?", entity.ID, originalVersion).
		Select("*").Omit("id", "created_at").
		Updates(entity)
	if result.Error != nil {
		batch.Version = originalVersion
		return exception.NewBatchError(op, fmt.Sprintf("failed to update Batch (ID: %s)", batch.ID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		batch.Version = originalVersion
		return exception.NewOptimisticLockingFailureException(op,
			fmt.Sprintf("Batch (ID: %s) was updated concurrently (expected version %d)", batch.ID, originalVersion), nil)
	}
	return nil
}

func (r *SQLIngestRepository) FindBatchByID(ctx context.Context, batchID string) (*model.Batch, error) {
	const op = "SQLIngestRepository.FindBatchByID"
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var entity BatchEntity
	if err := db.First(&entity, "id = ?", batchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrBatchNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find Batch (ID: %s)", batchID), err, false, true)
	}
	return toDomainBatch(&entity), nil
}

func (r *SQLIngestRepository) FindBatchesBySourceFile(ctx context.Context, sourceFile string) ([]*model.Batch, error) {
	const op = "SQLIngestRepository.FindBatchesBySourceFile"
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var entities []BatchEntity
	if err := db.Where("source_file = ?", sourceFile).Order("created_at DESC").Find(&entities).Error; err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find Batches for source file '%s'", sourceFile), err, false, true)
	}
	batches := make([]*model.Batch, 0, len(entities))
	for i := range entities {
		batches = append(batches, toDomainBatch(&entities[i]))
	}
	return batches, nil
}

// --- Chunk implementation ---

func (r *SQLIngestRepository) SaveChunk(ctx context.Context, chunk *model.Chunk) error {
	const op = "SQLIngestRepository.SaveChunk"
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	if err := db.Create(fromDomainChunk(chunk)).Error; err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to save Chunk (ID: %s)", chunk.ID), err, false, true)
	}
	return nil
}

func (r *SQLIngestRepository) UpdateChunk(ctx context.Context, chunk *model.Chunk) error {
	const op = "SQLIngestRepository.UpdateChunk"
	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	originalVersion := chunk.Version
	chunk.Version++
	chunk.LastUpdated = time.Now()
	entity := fromDomainChunk(chunk)

	result := db.Model(&ChunkEntity{}).
		Where("id = ? AND version = ?", entity.ID, originalVersion).
		Select("*").Omit("id", "batch_id", "number").
		Updates(entity)
	if result.Error != nil {
		chunk.Version = originalVersion
		return exception.NewBatchError(op, fmt.Sprintf("failed to update Chunk (ID: %s)", chunk.ID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		chunk.Version = originalVersion
		return exception.NewOptimisticLockingFailureException(op,
			fmt.Sprintf("Chunk (ID: %s) was updated concurrently (expected version %d)", chunk.ID, originalVersion), nil)
	}
	return nil
}

func (r *SQLIngestRepository) FindChunkByID(ctx context.Context, chunkID string) (*model.Chunk, error) {
	const op = "SQLIngestRepository.FindChunkByID"
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var entity ChunkEntity
	if err := db.First(&entity, "id = ?", chunkID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrChunkNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find Chunk (ID: %s)", chunkID), err, false, true)
	}
	return toDomainChunk(&entity), nil
}

func (r *SQLIngestRepository) FindChunkByNumber(ctx context.Context, batchID string, number int) (*model.Chunk, error) {
	const op = "SQLIngestRepository.FindChunkByNumber"
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var entity ChunkEntity
	if err := db.First(&entity, "batch_id = ? AND number = ?", batchID, number).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrChunkNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find Chunk %d of Batch (ID: %s)", number, batchID), err, false, true)
	}
	return toDomainChunk(&entity), nil
}

func (r *SQLIngestRepository) FindChunksByBatchID(ctx context.Context, batchID string) ([]*model.Chunk, error) {
	const op = "SQLIngestRepository.FindChunksByBatchID"
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var entities []ChunkEntity
	if err := db.Where("batch_id = ?", batchID).Order("number ASC").Find(&entities).Error; err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find Chunks of Batch (ID: %s)", batchID), err, false, true)
	}
	chunks := make([]*model.Chunk, 0, len(entities))
	for i := range entities {
		chunks = append(chunks, toDomainChunk(&entities[i]))
	}
	return chunks, nil
}

// --- TargetRecord implementation ---

// UpsertRecord performs an atomic read-modify-write on the row for the record's
// BusinessKey. The existing row is locked for the duration of the transaction
// so concurrent writers of the same key serialize; the last writer wins.
func (r *SQLIngestRepository) UpsertRecord(ctx context.Context, record *model.TargetRecord) (bool, error) {
	const op = "SQLIngestRepository.UpsertRecord"
	db, err := r.db(ctx)
	if err != nil {
		return false, err
	}

	created := false
	err = db.Transaction(func(tx *gorm.DB) error {
		var existing TargetRecordEntity
		findErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&existing, "business_key = ?", record.BusinessKey).Error
		if findErr != nil {
			if !errors.Is(findErr, gorm.ErrRecordNotFound) {
				return findErr
			}
			entity := fromDomainTargetRecord(record)
			entity.CreatedAt = time.Now()
			entity.UpdatedAt = entity.CreatedAt
			entity.Version = 0
			if createErr := tx.Create(entity).Error; createErr != nil {
				return createErr
			}
			created = true
			return nil
		}

		existing.Attributes = record.Attributes
		existing.SourceBatchID = record.SourceBatchID
		existing.SourceFile = record.SourceFile
		existing.IsActive = true
		existing.UpdatedAt = time.Now()
		existing.Version++
		return tx.Save(&existing).Error
	})
	if err != nil {
		return false, exception.NewBatchError(op, fmt.Sprintf("failed to upsert record (key: %s)", record.BusinessKey), err, false, true)
	}
	return created, nil
}

func (r *SQLIngestRepository) FindRecordByKey(ctx context.Context, businessKey string) (*model.TargetRecord, error) {
	const op = "SQLIngestRepository.FindRecordByKey"
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var entity TargetRecordEntity
	if err := db.First(&entity, "business_key = ?", businessKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRecordNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find record (key: %s)", businessKey), err, false, true)
	}
	return toDomainTargetRecord(&entity), nil
}

func (r *SQLIngestRepository) FindRecordsBySourceFile(ctx context.Context, sourceFile string, includeInactive bool) ([]*model.TargetRecord, error) {
	const op = "SQLIngestRepository.FindRecordsBySourceFile"
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	query := db.Where("source_file = ?", sourceFile)
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}
	var entities []TargetRecordEntity
	if err := query.Order("business_key ASC").Find(&entities).Error; err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find records for source file '%s'", sourceFile), err, false, true)
	}
	records := make([]*model.TargetRecord, 0, len(entities))
	for i := range entities {
		records = append(records, toDomainTargetRecord(&entities[i]))
	}
	return records, nil
}

// DeactivateStaleRecords flips IsActive off for every active record of the
// source file that the given batch did not touch. A single UPDATE keeps the
// operation idempotent: a second run for the same batch matches no rows.
func (r *SQLIngestRepository) DeactivateStaleRecords(ctx context.Context, sourceFile, batchID string) (int, error) {
	const op = "SQLIngestRepository.DeactivateStaleRecords"
	db, err := r.db(ctx)
	if err != nil {
		return 0, err
	}
	result := db.Model(&TargetRecordEntity{}).
		Where("source_file = ? AND is_active = ? AND source_batch_id <> ?", sourceFile, true, batchID).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, exception.NewBatchError(op, fmt.Sprintf("failed to deactivate stale records for source file '%s'", sourceFile), result.Error, false, true)
	}
	return int(result.RowsAffected), nil
}

// Close releases the repository's database connection.
func (r *SQLIngestRepository) Close() error {
	conn, err := r.dbResolver.ResolveDBConnection(r.dbName)
	if err != nil {
		return nil
	}
	return conn.Close()
}

var _ repository.IngestRepository = (*SQLIngestRepository)(nil)
