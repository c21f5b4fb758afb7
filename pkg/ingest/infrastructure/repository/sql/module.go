// Package sql wires the relational IngestRepository into the Fx graph.
package sql

import (
	"go.uber.org/fx"

	"github.com/tigerroll/ingot/pkg/ingest/adapter/database"
	config "github.com/tigerroll/ingot/pkg/ingest/core/config"
	repository "github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
)

// NewSQLIngestRepositoryProvider builds the repository on the connection named
// by ingot.infrastructure.repository_db_ref.
func NewSQLIngestRepositoryProvider(resolver database.DBConnectionResolver, cfg *config.Config) repository.IngestRepository {
	return NewSQLIngestRepository(resolver, cfg.Ingot.Infrastructure.RepositoryDBRef)
}

// Module is an Fx module that provides SQLIngestRepository as a repository.IngestRepository interface.
var Module = fx.Options(
	fx.Provide(
		NewSQLIngestRepositoryProvider,
	),
)
