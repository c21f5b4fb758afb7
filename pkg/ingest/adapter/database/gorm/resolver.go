package gorm

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/fx"

	dbconfig "github.com/tigerroll/ingot/pkg/ingest/adapter/database/config"
	"github.com/tigerroll/ingot/pkg/ingest/adapter/database"
	config "github.com/tigerroll/ingot/pkg/ingest/core/config"
)

// GormDBConnectionResolver is the GORM implementation of database.DBConnectionResolver.
// It dispatches a named connection to the provider matching its configured type.
type GormDBConnectionResolver struct {
	dbProviders map[string]database.DBProvider // keyed by database type (e.g., "postgres", "sqlite")
	cfg         *config.Config
}

// ResolverParams defines the dependencies for NewGormDBConnectionResolver.
type ResolverParams struct {
	fx.In
	DBProviders []database.DBProvider `group:"db_providers"` // All DBProviders provided by Fx as a slice.
	Cfg         *config.Config
}

// NewGormDBConnectionResolver creates a new GormDBConnectionResolver.
func NewGormDBConnectionResolver(p ResolverParams) *GormDBConnectionResolver {
	providerMap := make(map[string]database.DBProvider)
	for _, provider := range p.DBProviders {
		providerMap[provider.Type()] = provider
	}
	return &GormDBConnectionResolver{
		dbProviders: providerMap,
		cfg:         p.Cfg,
	}
}

// ResolveDBConnection resolves a database connection with the specified name.
func (r *GormDBConnectionResolver) ResolveDBConnection(name string) (database.DBConnection, error) {
	rawConfig, ok := r.cfg.Ingot.AdaptorConfigs[name]
	if !ok {
		return nil, fmt.Errorf("database configuration '%s' not found in ingot.database configs", name)
	}
	var dbConfig dbconfig.DatabaseConfig
	if err := mapstructure.Decode(rawConfig, &dbConfig); err != nil {
		return nil, fmt.Errorf("failed to decode database config for '%s': %w", name, err)
	}

	provider, ok := r.dbProviders[dbConfig.Type]
	if !ok {
		return nil, fmt.Errorf("no DBProvider registered for database type '%s' (connection '%s')", dbConfig.Type, name)
	}
	return provider.GetConnection(name)
}

var _ database.DBConnectionResolver = (*GormDBConnectionResolver)(nil)
