// Package postgres provides a GORM DBProvider implementation for PostgreSQL databases.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/ingot/pkg/ingest/adapter/database/config"
	"github.com/tigerroll/ingot/pkg/ingest/adapter/database"
	gormadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/database/gorm"
	"github.com/tigerroll/ingot/pkg/ingest/core/config"
)

// init registers the PostgreSQL dialector factory with the GORM adapter.
func init() {
	gormadapter.RegisterDialector("postgres", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		p := &PostgresDBProvider{}
		return postgres.Open(p.ConnectionString(cfg)), nil
	})
}

// PostgresDBProvider implements database.DBProvider for PostgreSQL connections.
type PostgresDBProvider struct {
	*gormadapter.BaseProvider
}

// ConnectionString generates the DSN for PostgreSQL connections.
func (p *PostgresDBProvider) ConnectionString(c dbconfig.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
	if c.Schema != "" {
		dsn += fmt.Sprintf(" search_path=%s", c.Schema)
	}
	return dsn
}

// NewProvider creates a new database.DBProvider for PostgreSQL.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &PostgresDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "postgres")}
}
