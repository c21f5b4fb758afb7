package usecase_test

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/storage"
	storageconfig "github.com/tigerroll/ingot/pkg/ingest/adapter/storage/config"
	"github.com/tigerroll/ingot/pkg/ingest/application/usecase"
	"github.com/tigerroll/ingot/pkg/ingest/core/config"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
	"github.com/tigerroll/ingot/pkg/ingest/core/metrics"
	"github.com/tigerroll/ingot/pkg/ingest/engine/dispatch"
	"github.com/tigerroll/ingot/pkg/ingest/engine/export"
	"github.com/tigerroll/ingot/pkg/ingest/engine/matcher"
	"github.com/tigerroll/ingot/pkg/ingest/engine/parser"
	"github.com/tigerroll/ingot/pkg/ingest/engine/queue"
	"github.com/tigerroll/ingot/pkg/ingest/engine/reconcile"
	"github.com/tigerroll/ingot/pkg/ingest/engine/worker"
	"github.com/tigerroll/ingot/pkg/ingest/infrastructure/progress"
	"github.com/tigerroll/ingot/pkg/ingest/infrastructure/repository/inmemory"
)

// memoryStorage is an in-memory StorageConnection for exercising the archive
// and export paths without touching a real backend.
type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte)}
}

func (m *memoryStorage) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectName] = content
	return nil
}

func (m *memoryStorage) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.objects[objectName]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (m *memoryStorage) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	m.mu.Lock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	m.mu.Unlock()
	sort.Strings(names)
	for _, name := range names {
		if err := fn(name); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryStorage) DeleteObject(ctx context.Context, bucket, objectName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectName)
	return nil
}

func (m *memoryStorage) Close() error                        { return nil }
func (m *memoryStorage) Type() string                        { return "memory" }
func (m *memoryStorage) Name() string                        { return "uploads" }
func (m *memoryStorage) Config() storageconfig.StorageConfig { return storageconfig.StorageConfig{} }

type memoryResolver struct {
	conn *memoryStorage
}

func (r *memoryResolver) ResolveStorageConnection(name string) (storageadapter.StorageConnection, error) {
	return r.conn, nil
}

var _ storageadapter.StorageConnection = (*memoryStorage)(nil)
var _ storageadapter.StorageConnectionResolver = (*memoryResolver)(nil)

type serviceFixture struct {
	repo    *inmemory.InMemoryIngestRepository
	storage *memoryStorage
	queue   *queue.Queue
	service *usecase.IngestService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Ingot.Batch.ChunkThreshold = 4
	cfg.Ingot.Batch.ChunkSize = 3
	cfg.Ingot.Reconcile.GraceSeconds = 0

	repo := inmemory.NewInMemoryIngestRepository()
	storage := newMemoryStorage()
	resolver := &memoryResolver{conn: storage}
	m := matcher.NewMatcher(cfg.Ingot.Batch.KeyColumnCandidates)
	recorder := metrics.NewNoOpMetricRecorder()
	tracer := metrics.NewNoOpTracer()
	w := worker.NewChunkWorker(repo, m, recorder, tracer, 0)
	r := reconcile.NewReconciler(repo, recorder, tracer, 10*time.Millisecond, 5*time.Second, cfg.Ingot.Batch.DegradedFailureRatio)

	q := queue.NewQueue(4, queue.NewDefaultRetryPolicyFactory().Create(time.Millisecond))
	q.Start()
	t.Cleanup(q.Stop)

	d := dispatch.NewDispatcher(repo, m, w, r, q, recorder, tracer, cfg)
	store := progress.NewStore(repo, 64, time.Minute, time.Minute)
	exporter := export.NewExporter(repo, resolver, "uploads", "exports")

	return &serviceFixture{
		repo:    repo,
		storage: storage,
		queue:   q,
		service: usecase.NewIngestService(parser.NewParser(), d, repo, store, exporter, resolver, "uploads"),
	}
}

func (f *serviceFixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.queue.Drain(ctx))
}

const smallCSV = "sku,name\nA-1,Widget\nB-2,Gadget\n"

// buildZip assembles an in-memory ZIP archive from entry name/content pairs.
func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSubmitSingleCSV(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	batches, err := f.service.Submit(ctx, "products.csv", []byte(smallCSV), "")
	require.NoError(t, err)
	require.Len(t, batches, 1)

	batch := batches[0]
	assert.Equal(t, "products.csv", batch.SourceFile)

	stored, err := f.repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.RecordsCreated)

	// The upload was archived for retry.
	assert.Contains(t, f.storage.objects, "sources/"+batch.ID+"/products.csv")
}

func TestSubmitArchiveCreatesOneBatchPerEntry(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	data := buildZip(t, map[string]string{
		"products.csv": smallCSV,
		"stores.csv":   "id,city\n10,Kyoto\n",
	})

	batches, err := f.service.Submit(ctx, "upload.zip", data, "")
	require.NoError(t, err)
	require.Len(t, batches, 2)

	files := map[string]bool{}
	for _, b := range batches {
		files[b.SourceFile] = true
		stored, err := f.repo.FindBatchByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	}
	assert.True(t, files["products.csv"])
	assert.True(t, files["stores.csv"])
}

func TestStatusAndChunkDetail(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// 6 rows exceed the threshold of 4, so the batch is chunked.
	csv := "sku,name\nK-1,a\nK-2,b\nK-3,c\nK-4,d\nK-5,e\nK-6,f\n"
	batches, err := f.service.Submit(ctx, "large.csv", []byte(csv), "")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	f.drain(t)

	summary, err := f.service.Status(ctx, batches[0].ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, summary.Status)
	assert.Equal(t, 6, summary.TotalRows)
	assert.Equal(t, 2, summary.ChunkCount)
	assert.Equal(t, float64(100), summary.ProgressPercentage)

	chunk, err := f.service.ChunkDetail(ctx, batches[0].ID, 1, false)
	require.NoError(t, err)
	assert.Equal(t, model.ChunkStatusCompleted, chunk.Status)
	assert.Equal(t, 4, chunk.StartRow)
	assert.Equal(t, 3, chunk.RowsProcessed)

	chunks, err := f.service.ChunkStatuses(ctx, batches[0].ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, model.ChunkStatusCompleted, chunks[0].Status)
	assert.Equal(t, 1, chunks[0].StartRow)

	_, err = f.service.Status(ctx, "missing", false)
	assert.ErrorIs(t, err, repository.ErrBatchNotFound)
}

func TestRetryRequiresFinishedBatch(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	batch := model.NewBatch("products.csv", "sku")
	require.NoError(t, f.repo.SaveBatch(ctx, batch))

	_, err := f.service.Retry(ctx, batch.ID)
	assert.ErrorIs(t, err, usecase.ErrBatchNotFinished)
}

func TestRetryDispatchesNewBatchFromArchive(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	batches, err := f.service.Submit(ctx, "products.csv", []byte(smallCSV), "")
	require.NoError(t, err)
	original := batches[0]

	retried, err := f.service.Retry(ctx, original.ID)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.NotEqual(t, original.ID, retried.ID)
	assert.Equal(t, original.SourceFile, retried.SourceFile)

	stored, err := f.repo.FindBatchByID(ctx, retried.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.RecordsUpdated, "same keys upsert as updates")

	// The original batch is untouched and the retried one has its own archive.
	kept, err := f.repo.FindBatchByID(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, kept.Status)
	assert.Contains(t, f.storage.objects, "sources/"+retried.ID+"/products.csv")
}

func TestRetryWithoutArchive(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	batch := model.NewBatch("products.csv", "sku")
	require.NoError(t, f.repo.SaveBatch(ctx, batch))
	stored, err := f.repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	stored.MarkAsFailed(nil)
	require.NoError(t, f.repo.UpdateBatch(ctx, stored))

	_, err = f.service.Retry(ctx, batch.ID)
	assert.ErrorIs(t, err, usecase.ErrArchiveNotFound)
}

func TestCancelRunningBatch(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	batch := model.NewBatch("products.csv", "sku")
	require.NoError(t, f.repo.SaveBatch(ctx, batch))

	require.NoError(t, f.service.Cancel(ctx, batch.ID))

	stored, err := f.repo.FindBatchByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, stored.Status)
	require.NotEmpty(t, stored.Log)
	assert.Contains(t, stored.Log[0], "cancelled by operator")

	// A second cancel hits a finished batch.
	assert.ErrorIs(t, f.service.Cancel(ctx, batch.ID), usecase.ErrBatchFinished)
}

func TestExportWritesParquetObject(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.Submit(ctx, "products.csv", []byte(smallCSV), "")
	require.NoError(t, err)

	objectPath, err := f.service.Export(ctx, "products.csv")
	require.NoError(t, err)
	require.NotEmpty(t, objectPath)
	assert.True(t, strings.HasPrefix(objectPath, "exports/"))
	assert.True(t, strings.HasSuffix(objectPath, ".parquet"))
	assert.Contains(t, f.storage.objects, objectPath)
	assert.NotEmpty(t, f.storage.objects[objectPath])
}

func TestExportWithoutRecords(t *testing.T) {
	f := newServiceFixture(t)

	objectPath, err := f.service.Export(context.Background(), "unknown.csv")
	require.NoError(t, err)
	assert.Empty(t, objectPath)
}
