// Package mysql provides a GORM DBProvider implementation for MySQL databases.
package mysql

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/ingot/pkg/ingest/adapter/database/config"
	"github.com/tigerroll/ingot/pkg/ingest/adapter/database"
	gormadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/database/gorm"
	"github.com/tigerroll/ingot/pkg/ingest/core/config"
)

// init registers the MySQL dialector factory with the GORM adapter.
func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		p := &MySQLDBProvider{}
		return mysql.Open(p.ConnectionString(cfg)), nil
	})
}

// MySQLDBProvider implements database.DBProvider for MySQL connections.
type MySQLDBProvider struct {
	*gormadapter.BaseProvider
}

// ConnectionString generates the DSN for MySQL connections.
func (p *MySQLDBProvider) ConnectionString(c dbconfig.DatabaseConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// NewProvider creates a new database.DBProvider for MySQL.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &MySQLDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "mysql")}
}
