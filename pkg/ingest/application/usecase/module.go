package usecase

import (
	"go.uber.org/fx"

	storageadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/storage"
	config "github.com/tigerroll/ingot/pkg/ingest/core/config"
	repository "github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
	"github.com/tigerroll/ingot/pkg/ingest/engine/dispatch"
	"github.com/tigerroll/ingot/pkg/ingest/engine/export"
	"github.com/tigerroll/ingot/pkg/ingest/engine/parser"
	"github.com/tigerroll/ingot/pkg/ingest/infrastructure/progress"
)

// NewIngestServiceProvider builds the IngestService on the configured file store.
func NewIngestServiceProvider(
	p *parser.Parser,
	d *dispatch.Dispatcher,
	repo repository.IngestRepository,
	progressStore *progress.Store,
	exporter *export.Exporter,
	storageResolver storageadapter.StorageConnectionResolver,
	cfg *config.Config,
) *IngestService {
	return NewIngestService(p, d, repo, progressStore, exporter, storageResolver, cfg.Ingot.Infrastructure.FileStoreRef)
}

// Module provides the application ingestion service to the Fx graph.
var Module = fx.Options(
	fx.Provide(NewIngestServiceProvider),
)
