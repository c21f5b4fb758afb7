// Package inmemory provides an in-memory implementation of the IngestRepository interface.
// This module integrates the in-memory repository into the application's dependency graph using Fx.
package inmemory

import (
	"go.uber.org/fx"

	repository "github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
)

// Module is an Fx module that provides InMemoryIngestRepository as a repository.IngestRepository interface.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewInMemoryIngestRepository,
			fx.As(new(repository.IngestRepository)),
		),
	),
)
