package storage

import (
	"go.uber.org/fx"
)

// Module provides the storage connection resolver to the Fx graph.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewConnectionResolver,
			fx.As(new(StorageConnectionResolver)),
		),
	),
)
