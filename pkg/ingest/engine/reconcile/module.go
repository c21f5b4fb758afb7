package reconcile

import (
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/ingot/pkg/ingest/core/config"
	"github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
	"github.com/tigerroll/ingot/pkg/ingest/core/metrics"
)

// NewReconcilerProvider builds the Reconciler from configuration.
func NewReconcilerProvider(repo repository.IngestRepository, recorder metrics.MetricRecorder, tracer metrics.Tracer, cfg *config.Config) *Reconciler {
	return NewReconciler(
		repo,
		recorder,
		tracer,
		time.Duration(cfg.Ingot.Reconcile.PollIntervalSeconds)*time.Second,
		time.Duration(cfg.Ingot.Reconcile.MaxWaitSeconds)*time.Second,
		cfg.Ingot.Batch.DegradedFailureRatio,
	)
}

// Module provides the Reconciler to Fx.
var Module = fx.Options(
	fx.Provide(NewReconcilerProvider),
)
