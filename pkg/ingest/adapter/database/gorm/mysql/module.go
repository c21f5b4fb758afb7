package mysql

import (
	"go.uber.org/fx"

	"github.com/tigerroll/ingot/pkg/ingest/adapter/database"
)

// Module provides the MySQL DBProvider to the fx dependency graph.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewProvider,
			fx.ResultTags(`group:"`+database.DBProviderGroup+`"`),
		),
	),
)
