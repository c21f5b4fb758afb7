package export

import (
	"go.uber.org/fx"

	storageadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/storage"
	config "github.com/tigerroll/ingot/pkg/ingest/core/config"
	repository "github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
)

// NewExporterProvider builds the Exporter on the configured file store connection.
func NewExporterProvider(
	repo repository.IngestRepository,
	storageResolver storageadapter.StorageConnectionResolver,
	cfg *config.Config,
) *Exporter {
	return NewExporter(repo, storageResolver, cfg.Ingot.Infrastructure.FileStoreRef, "exports")
}

// Module provides the Parquet exporter to the Fx graph.
var Module = fx.Options(
	fx.Provide(NewExporterProvider),
)
