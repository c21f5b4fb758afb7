// Package gcs provides the Fx module for the GCS storage adapter.
package gcs

import (
	"go.uber.org/fx"

	storageadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/storage"
)

// Module provides the GCSProvider to the Fx application graph.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewGCSProvider,
		fx.ResultTags(`group:"`+storageadapter.StorageProviderGroup+`"`),
	)),
)
