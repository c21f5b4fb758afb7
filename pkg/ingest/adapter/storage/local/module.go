// Package local provides the Fx module for the local storage adapter.
package local

import (
	"go.uber.org/fx"

	storageadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/storage"
)

// Module provides the LocalProvider to the Fx application graph.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLocalProvider,
		fx.ResultTags(`group:"`+storageadapter.StorageProviderGroup+`"`),
	)),
)
