// Package database defines the abstraction over concrete database connections
// used by the ingestion repositories.
package database

import (
	"database/sql"

	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/ingot/pkg/ingest/adapter/database/config"
)

// DBConnection represents an abstraction of a named database connection.
type DBConnection interface {
	// Close closes the connection.
	Close() error
	// Type returns the database type (e.g., "postgres", "sqlite").
	Type() string
	// Name returns the logical connection name (e.g., "metadata").
	Name() string
	// DB returns the GORM handle of the connection.
	DB() *gorm.DB
	// SQLDB returns the underlying *sql.DB connection.
	SQLDB() (*sql.DB, error)
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
}

// DBProvider is an interface responsible for providing database connections of
// one database type based on configuration.
type DBProvider interface {
	// GetConnection retrieves (establishing if needed) the connection with the given name.
	GetConnection(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the database type handled by this provider.
	Type() string
}

// DBConnectionResolver resolves named database connections across all
// registered providers.
type DBConnectionResolver interface {
	// ResolveDBConnection resolves a database connection instance by name.
	ResolveDBConnection(name string) (DBConnection, error)
}

// DBProviderGroup is the Fx group tag collecting all DBProvider implementations.
const DBProviderGroup = "db_providers"
