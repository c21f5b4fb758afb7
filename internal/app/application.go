// Package app assembles the ingestion service's dependency graph and runs it.
package app

import (
	"context"
	"embed"
	"io/fs"

	"go.uber.org/fx"

	"github.com/tigerroll/ingot/pkg/ingest/adapter/database"
	gormadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/database/gorm"
	"github.com/tigerroll/ingot/pkg/ingest/adapter/database/gorm/mysql"
	"github.com/tigerroll/ingot/pkg/ingest/adapter/database/gorm/postgres"
	"github.com/tigerroll/ingot/pkg/ingest/adapter/database/gorm/sqlite"
	storageadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/storage"
	"github.com/tigerroll/ingot/pkg/ingest/adapter/storage/gcs"
	"github.com/tigerroll/ingot/pkg/ingest/adapter/storage/local"
	"github.com/tigerroll/ingot/pkg/ingest/api"
	"github.com/tigerroll/ingot/pkg/ingest/application/usecase"
	config "github.com/tigerroll/ingot/pkg/ingest/core/config"
	"github.com/tigerroll/ingot/pkg/ingest/engine/dispatch"
	"github.com/tigerroll/ingot/pkg/ingest/engine/export"
	"github.com/tigerroll/ingot/pkg/ingest/engine/matcher"
	"github.com/tigerroll/ingot/pkg/ingest/engine/parser"
	"github.com/tigerroll/ingot/pkg/ingest/engine/queue"
	"github.com/tigerroll/ingot/pkg/ingest/engine/reconcile"
	"github.com/tigerroll/ingot/pkg/ingest/engine/worker"
	inframetrics "github.com/tigerroll/ingot/pkg/ingest/infrastructure/metrics"
	"github.com/tigerroll/ingot/pkg/ingest/infrastructure/migration"
	"github.com/tigerroll/ingot/pkg/ingest/infrastructure/progress"
	sqlrepo "github.com/tigerroll/ingot/pkg/ingest/infrastructure/repository/sql"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

// DBProviderMap is used by main.go to dynamically select providers.
var DBProviderMap = map[string]func(cfg *config.Config) database.DBProvider{
	"postgres": postgres.NewProvider,
	"mysql":    mysql.NewProvider,
	"sqlite":   sqlite.NewProvider,
}

// RunApplication sets up and runs the ingestion service using uber-fx.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, migrationsFS embed.FS, dbProviderOptions []fx.Option) {
	app := fx.New(
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),

		fx.Options(dbProviderOptions...),

		config.Module,
		gormadapter.Module,
		storageadapter.Module,
		local.Module,
		gcs.Module,
		inframetrics.Module,
		sqlrepo.Module,

		parser.Module,
		matcher.Module,
		queue.Module,
		worker.Module,
		reconcile.Module,
		dispatch.Module,
		progress.Module,
		export.Module,
		usecase.Module,
		api.Module,

		// Apply schema migrations before the HTTP server starts serving.
		fx.Invoke(func(resolver database.DBConnectionResolver, cfg *config.Config) error {
			return applyMigrations(appCtx, resolver, cfg, migrationsFS)
		}),
	)

	app.Run()

	if app.Err() != nil {
		logger.Fatalf("Application run failed: %v", app.Err())
	}
}

// applyMigrations runs the embedded SQL migrations against the repository database.
func applyMigrations(ctx context.Context, resolver database.DBConnectionResolver, cfg *config.Config, migrationsFS embed.FS) error {
	conn, err := resolver.ResolveDBConnection(cfg.Ingot.Infrastructure.RepositoryDBRef)
	if err != nil {
		return err
	}

	// 'go:embed all:resources/migrations' roots the FS at 'resources'.
	subFS, err := fs.Sub(migrationsFS, "resources/migrations")
	if err != nil {
		return err
	}

	return migration.NewMigrator(conn).Up(ctx, subFS, ".")
}
