package worker

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/ingot/pkg/ingest/core/config"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
	"github.com/tigerroll/ingot/pkg/ingest/core/metrics"
	"github.com/tigerroll/ingot/pkg/ingest/engine/matcher"
)

// NewChunkWorkerProvider builds the ChunkWorker from configuration.
func NewChunkWorkerProvider(repo repository.IngestRepository, m *matcher.Matcher, recorder metrics.MetricRecorder, tracer metrics.Tracer, cfg *config.Config) *ChunkWorker {
	return NewChunkWorker(repo, m, recorder, tracer, cfg.Ingot.Batch.CancelCheckInterval)
}

// Module provides the ChunkWorker to Fx.
var Module = fx.Options(
	fx.Provide(NewChunkWorkerProvider),
)
