package inmemory

import (
	"context"
	"sort"
	"time"

	"github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
)

// UpsertRecord inserts or overwrites the record for its BusinessKey.
// The whole read-modify-write happens under the repository mutex, so concurrent
// writers of the same key serialize and the last writer wins.
func (r *InMemoryIngestRepository) UpsertRecord(ctx context.Context, record *model.TargetRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	existing, ok := r.records[record.BusinessKey]
	if !ok {
		cloned := *record
		cloned.Attributes = record.Attributes.Copy()
		cloned.IsActive = true
		cloned.CreatedAt = now
		cloned.UpdatedAt = now
		r.records[record.BusinessKey] = &cloned
		return true, nil
	}

	existing.Attributes = record.Attributes.Copy()
	existing.SourceBatchID = record.SourceBatchID
	existing.SourceFile = record.SourceFile
	existing.IsActive = true
	existing.UpdatedAt = now
	existing.Version++
	return false, nil
}

// FindRecordByKey finds a TargetRecord by its BusinessKey.
func (r *InMemoryIngestRepository) FindRecordByKey(ctx context.Context, businessKey string) (*model.TargetRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[businessKey]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	cloned := *record
	cloned.Attributes = record.Attributes.Copy()
	return &cloned, nil
}

// FindRecordsBySourceFile finds all TargetRecords of the given source filename
// ordered by BusinessKey.
func (r *InMemoryIngestRepository) FindRecordsBySourceFile(ctx context.Context, sourceFile string, includeInactive bool) ([]*model.TargetRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.TargetRecord
	for _, rec := range r.records {
		if rec.SourceFile != sourceFile {
			continue
		}
		if !includeInactive && !rec.IsActive {
			continue
		}
		cloned := *rec
		cloned.Attributes = rec.Attributes.Copy()
		result = append(result, &cloned)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].BusinessKey < result[j].BusinessKey
	})
	return result, nil
}

// DeactivateStaleRecords marks as inactive every active record of the source
// filename that was not written by the given batch.
func (r *InMemoryIngestRepository) DeactivateStaleRecords(ctx context.Context, sourceFile, batchID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	now := time.Now()
	for _, rec := range r.records {
		if rec.SourceFile == sourceFile && rec.IsActive && rec.SourceBatchID != batchID {
			rec.IsActive = false
			rec.UpdatedAt = now
			rec.Version++
			count++
		}
	}
	return count, nil
}
