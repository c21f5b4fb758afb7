package progress

import (
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/ingot/pkg/ingest/core/config"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
)

// NewStoreProvider builds the progress Store from configuration.
func NewStoreProvider(repo repository.IngestRepository, cfg *config.Config) *Store {
	return NewStore(
		repo,
		cfg.Ingot.Progress.CacheSize,
		time.Duration(cfg.Ingot.Progress.ChunkTTLHours)*time.Hour,
		time.Duration(cfg.Ingot.Progress.SummaryTTLHours)*time.Hour,
	)
}

// Module provides the progress Store to Fx.
var Module = fx.Options(
	fx.Provide(NewStoreProvider),
)
