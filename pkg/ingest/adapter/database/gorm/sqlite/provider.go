// Package sqlite provides a GORM DBProvider implementation for SQLite databases.
package sqlite

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/ingot/pkg/ingest/adapter/database/config"
	"github.com/tigerroll/ingot/pkg/ingest/adapter/database"
	gormadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/database/gorm"
	"github.com/tigerroll/ingot/pkg/ingest/core/config"
)

// init registers the SQLite dialector factory with the GORM adapter.
func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		p := &SQLiteDBProvider{}
		return sqlite.Open(p.ConnectionString(cfg)), nil
	})
}

// SQLiteDBProvider implements database.DBProvider for SQLite connections.
type SQLiteDBProvider struct {
	*gormadapter.BaseProvider
}

// ConnectionString returns the SQLite database path. SQLite uses the Database
// field as a file path, or ":memory:" for an ephemeral database.
func (p *SQLiteDBProvider) ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.Database == "" {
		return ":memory:"
	}
	return c.Database
}

// NewProvider creates a new database.DBProvider for SQLite.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &SQLiteDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "sqlite")}
}
