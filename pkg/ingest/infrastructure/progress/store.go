// Package progress serves batch and chunk progress views. Terminal results are
// held in TTL caches so repeated status polling does not hit the database; the
// durable batch and chunk rows stay authoritative for anything still running.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

const moduleName = "progress"

// BatchSummary is the status view of one batch served to clients.
type BatchSummary struct {
	BatchID            string             `json:"batch_id"`
	SourceFile         string             `json:"source_file"`
	Status             model.BatchStatus  `json:"status"`
	Inline             bool               `json:"inline"`
	TotalRows          int                `json:"total_rows"`
	ChunkCount         int                `json:"chunk_count"`
	ChunksCompleted    int                `json:"chunks_completed"`
	ChunksFailed       int                `json:"chunks_failed"`
	RecordsCreated     int                `json:"records_created"`
	RecordsUpdated     int                `json:"records_updated"`
	RecordsDeactivated int                `json:"records_deactivated"`
	RowsFailed         int                `json:"rows_failed"`
	RowErrors          model.RowErrorList `json:"row_errors,omitempty"`
	ProgressPercentage float64            `json:"progress_percentage"`
	Log                model.LogEntries   `json:"log,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	FinalizedAt        *time.Time         `json:"finalized_at,omitempty"`
}

// Store reads progress through TTL caches backed by the ingest repository.
type Store struct {
	repo       repository.IngestRepository
	summaries  *expirable.LRU[string, *BatchSummary]
	chunks     *expirable.LRU[string, *model.Chunk]
	summaryTTL time.Duration
	chunkTTL   time.Duration
}

// NewStore creates a new Store.
// size bounds each cache; chunkTTL and summaryTTL govern how long terminal
// entries are retained.
func NewStore(repo repository.IngestRepository, size int, chunkTTL, summaryTTL time.Duration) *Store {
	if size <= 0 {
		size = 1024
	}
	return &Store{
		repo:       repo,
		summaries:  expirable.NewLRU[string, *BatchSummary](size, nil, summaryTTL),
		chunks:     expirable.NewLRU[string, *model.Chunk](size, nil, chunkTTL),
		summaryTTL: summaryTTL,
		chunkTTL:   chunkTTL,
	}
}

// BatchSummary returns the progress view of a batch.
// Only terminal batches are cached; anything still running is rebuilt from the
// durable rows on every call. refresh drops a cached entry first so the caller
// gets a view rebuilt from the durable rows.
func (s *Store) BatchSummary(ctx context.Context, batchID string, refresh bool) (*BatchSummary, error) {
	if refresh {
		s.summaries.Remove(batchID)
	} else if summary, ok := s.summaries.Get(batchID); ok {
		return summary, nil
	}

	batch, err := s.repo.FindBatchByID(ctx, batchID)
	if err != nil {
		if err == repository.ErrBatchNotFound {
			return nil, err
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to load batch '%s'", batchID), err, false, true)
	}

	summary, err := s.buildSummary(ctx, batch)
	if err != nil {
		return nil, err
	}

	if batch.Status.IsFinished() {
		s.summaries.Add(batchID, summary)
		logger.Debugf("Cached terminal summary of batch %s for %s.", batchID, s.summaryTTL)
	}
	return summary, nil
}

// ChunkDetail returns the state of one chunk of a batch.
// Terminal chunks are cached; running ones always come from the durable row.
// refresh bypasses and drops any cached entry.
func (s *Store) ChunkDetail(ctx context.Context, batchID string, number int, refresh bool) (*model.Chunk, error) {
	key := chunkKey(batchID, number)
	if refresh {
		s.chunks.Remove(key)
	} else if chunk, ok := s.chunks.Get(key); ok {
		return chunk, nil
	}

	chunk, err := s.repo.FindChunkByNumber(ctx, batchID, number)
	if err != nil {
		if err == repository.ErrChunkNotFound {
			return nil, err
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to load chunk %d of batch '%s'", number, batchID), err, false, true)
	}

	if chunk.Status.IsFinished() {
		s.chunks.Add(key, chunk)
	}
	return chunk, nil
}

// ChunkStatuses returns every chunk row of a batch ordered by chunk number.
// The listing always reads the durable rows; terminal chunks are cached on the
// way out for subsequent single-chunk lookups.
func (s *Store) ChunkStatuses(ctx context.Context, batchID string) ([]*model.Chunk, error) {
	if _, err := s.repo.FindBatchByID(ctx, batchID); err != nil {
		if err == repository.ErrBatchNotFound {
			return nil, err
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to load batch '%s'", batchID), err, false, true)
	}

	chunks, err := s.repo.FindChunksByBatchID(ctx, batchID)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to load chunks of batch '%s'", batchID), err, false, true)
	}
	for _, c := range chunks {
		if c.Status.IsFinished() {
			s.chunks.Add(chunkKey(batchID, c.Number), c)
		}
	}
	return chunks, nil
}

// Invalidate drops any cached views of a batch. Called when a batch is
// re-dispatched through retry.
func (s *Store) Invalidate(batchID string, chunkCount int) {
	s.summaries.Remove(batchID)
	for i := 0; i < chunkCount; i++ {
		s.chunks.Remove(chunkKey(batchID, i))
	}
}

// buildSummary assembles the summary of a batch from its durable rows.
func (s *Store) buildSummary(ctx context.Context, batch *model.Batch) (*BatchSummary, error) {
	summary := &BatchSummary{
		BatchID:            batch.ID,
		SourceFile:         batch.SourceFile,
		Status:             batch.Status,
		Inline:             batch.Inline,
		TotalRows:          batch.TotalRows,
		ChunkCount:         batch.ChunkCount,
		RecordsCreated:     batch.RecordsCreated,
		RecordsUpdated:     batch.RecordsUpdated,
		RecordsDeactivated: batch.RecordsDeactivated,
		RowsFailed:         batch.RowsFailed,
		RowErrors:          batch.RowErrors,
		Log:                batch.Log,
		CreatedAt:          batch.CreatedAt,
		FinalizedAt:        batch.FinalizedAt,
	}

	finished := 0
	if batch.ChunkCount > 0 {
		chunks, err := s.repo.FindChunksByBatchID(ctx, batch.ID)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to load chunks of batch '%s'", batch.ID), err, false, true)
		}
		created, updated, rowsFailed := 0, 0, 0
		for _, c := range chunks {
			if c.Status.IsFinished() {
				finished++
			}
			if c.Status == model.ChunkStatusFailed {
				summary.ChunksFailed++
			}
			if c.Status == model.ChunkStatusCompleted {
				summary.ChunksCompleted++
			}
			created += c.RecordsCreated
			updated += c.RecordsUpdated
			rowsFailed += c.RowsFailed
		}
		// While the batch is running its own counters lag behind the chunks.
		if !batch.Status.IsFinished() {
			summary.RecordsCreated = created
			summary.RecordsUpdated = updated
			summary.RowsFailed = rowsFailed
		}
	}
	summary.ProgressPercentage = batch.ProgressPercentage(finished)
	return summary, nil
}

// chunkKey builds the cache key of a chunk.
func chunkKey(batchID string, number int) string {
	return fmt.Sprintf("%s:%d", batchID, number)
}
