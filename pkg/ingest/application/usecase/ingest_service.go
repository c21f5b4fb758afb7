// Package usecase exposes the application-level ingestion operations the HTTP
// interface is built on: submit, status, chunk detail, retry, cancel and export.
package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/hashicorp/go-multierror"

	storageadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/storage"
	model "github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	repository "github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
	"github.com/tigerroll/ingot/pkg/ingest/engine/dispatch"
	"github.com/tigerroll/ingot/pkg/ingest/engine/export"
	"github.com/tigerroll/ingot/pkg/ingest/engine/parser"
	"github.com/tigerroll/ingot/pkg/ingest/infrastructure/progress"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

const moduleName = "ingest_service"

// sourceArchivePrefix is the object prefix uploads are archived under, keyed
// by batch ID so a batch can be re-dispatched later.
const sourceArchivePrefix = "sources"

// ErrBatchNotFinished is returned when retry is requested for a batch that is
// still running.
var ErrBatchNotFinished = errors.New("batch has not finished")

// ErrBatchFinished is returned when cancel is requested for a batch that has
// already reached a terminal state.
var ErrBatchFinished = errors.New("batch already finished")

// ErrArchiveNotFound is returned when the archived upload of a batch cannot be
// located for retry.
var ErrArchiveNotFound = errors.New("archived upload not found")

// IngestService coordinates parsing, dispatching and status reporting for
// uploaded files.
type IngestService struct {
	parser          *parser.Parser
	dispatcher      *dispatch.Dispatcher
	repo            repository.IngestRepository
	progress        *progress.Store
	exporter        *export.Exporter
	storageResolver storageadapter.StorageConnectionResolver
	fileStoreRef    string
}

// NewIngestService creates a new IngestService.
func NewIngestService(
	p *parser.Parser,
	d *dispatch.Dispatcher,
	repo repository.IngestRepository,
	progressStore *progress.Store,
	exporter *export.Exporter,
	storageResolver storageadapter.StorageConnectionResolver,
	fileStoreRef string,
) *IngestService {
	return &IngestService{
		parser:          p,
		dispatcher:      d,
		repo:            repo,
		progress:        progressStore,
		exporter:        exporter,
		storageResolver: storageResolver,
		fileStoreRef:    fileStoreRef,
	}
}

// Submit parses the uploaded payload and dispatches one batch per contained
// CSV unit. The original payload is archived in the file store per batch so a
// batch can be retried later. Dispatch failures of individual units do not
// abort their siblings; they are aggregated into the returned error.
func (s *IngestService) Submit(ctx context.Context, filename string, data []byte, uniqueColumn string) ([]*model.Batch, error) {
	results, err := s.parser.Parse(filename, data)
	if err != nil {
		return nil, err
	}

	var dispatchErrs *multierror.Error
	batches := make([]*model.Batch, 0, len(results))
	for _, result := range results {
		batch, err := s.dispatcher.Dispatch(ctx, result, uniqueColumn)
		if err != nil {
			dispatchErrs = multierror.Append(dispatchErrs,
				fmt.Errorf("failed to dispatch '%s': %w", result.SourceFile, err))
			continue
		}
		batches = append(batches, batch)

		if err := s.archiveUpload(ctx, batch.ID, filename, data); err != nil {
			// The batch still runs; only retry is lost without the archive.
			logger.Warnf("Failed to archive upload for batch %s: %v", batch.ID, err)
		}
	}
	return batches, dispatchErrs.ErrorOrNil()
}

// Status returns the progress summary of a batch. refresh forces a rebuild
// from the durable rows even when a terminal summary is cached.
func (s *IngestService) Status(ctx context.Context, batchID string, refresh bool) (*progress.BatchSummary, error) {
	return s.progress.BatchSummary(ctx, batchID, refresh)
}

// ChunkDetail returns the state of one chunk of a batch. refresh bypasses the
// terminal-chunk cache.
func (s *IngestService) ChunkDetail(ctx context.Context, batchID string, number int, refresh bool) (*model.Chunk, error) {
	return s.progress.ChunkDetail(ctx, batchID, number, refresh)
}

// ChunkStatuses returns the state of every chunk of a batch.
func (s *IngestService) ChunkStatuses(ctx context.Context, batchID string) ([]*model.Chunk, error) {
	return s.progress.ChunkStatuses(ctx, batchID)
}

// Retry re-dispatches a finished batch from its archived upload as a new
// batch. The original batch is left untouched.
func (s *IngestService) Retry(ctx context.Context, batchID string) (*model.Batch, error) {
	batch, err := s.repo.FindBatchByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !batch.Status.IsFinished() {
		return nil, ErrBatchNotFinished
	}

	filename, data, err := s.loadArchivedUpload(ctx, batchID)
	if err != nil {
		return nil, err
	}

	results, err := s.parser.Parse(filename, data)
	if err != nil {
		return nil, err
	}

	for _, result := range results {
		if result.SourceFile != batch.SourceFile {
			continue
		}
		retried, err := s.dispatcher.Dispatch(ctx, result, batch.UniqueColumn)
		if err != nil {
			return nil, err
		}
		if err := s.archiveUpload(ctx, retried.ID, filename, data); err != nil {
			logger.Warnf("Failed to archive upload for retried batch %s: %v", retried.ID, err)
		}
		s.progress.Invalidate(batchID, batch.ChunkCount)
		logger.Infof("Batch %s retried as batch %s.", batchID, retried.ID)
		return retried, nil
	}
	return nil, exception.NewBatchError(moduleName,
		fmt.Sprintf("archived upload of batch %s no longer contains '%s'", batchID, batch.SourceFile), nil, false, false)
}

// Cancel marks a running batch as failed. Chunk workers observe the status
// change between rows and stop; rows already committed are kept.
func (s *IngestService) Cancel(ctx context.Context, batchID string) error {
	batch, err := s.repo.FindBatchByID(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status.IsFinished() {
		return ErrBatchFinished
	}

	batch.MarkAsFailed(errors.New("cancelled by operator"))
	if err := s.repo.UpdateBatch(ctx, batch); err != nil {
		return err
	}
	s.progress.Invalidate(batchID, batch.ChunkCount)
	logger.Infof("Batch %s cancelled.", batchID)
	return nil
}

// Export writes the active records of the given source file to the file store
// as Parquet and returns the object path.
func (s *IngestService) Export(ctx context.Context, sourceFile string) (string, error) {
	return s.exporter.ExportSourceFile(ctx, sourceFile)
}

// archiveUpload stores the original payload under the batch's archive prefix.
func (s *IngestService) archiveUpload(ctx context.Context, batchID, filename string, data []byte) error {
	conn, err := s.storageResolver.ResolveStorageConnection(s.fileStoreRef)
	if err != nil {
		return err
	}
	objectName := path.Join(sourceArchivePrefix, batchID, path.Base(filename))
	return conn.Upload(ctx, "", objectName, bytes.NewReader(data), "application/octet-stream")
}

// loadArchivedUpload reads back the payload archived for the batch.
func (s *IngestService) loadArchivedUpload(ctx context.Context, batchID string) (string, []byte, error) {
	conn, err := s.storageResolver.ResolveStorageConnection(s.fileStoreRef)
	if err != nil {
		return "", nil, err
	}

	prefix := path.Join(sourceArchivePrefix, batchID) + "/"
	var objectName string
	err = conn.ListObjects(ctx, "", prefix, func(name string) error {
		objectName = name
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	if objectName == "" {
		return "", nil, ErrArchiveNotFound
	}

	rc, err := conn.Download(ctx, "", objectName)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", nil, err
	}
	return path.Base(objectName), data, nil
}
