// Package migration applies schema migrations to the repository database.
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/ingot/pkg/ingest/adapter/database"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

// MigrationsTable is the bookkeeping table golang-migrate uses for versioning.
const MigrationsTable = "ingest_schema_migrations"

// Migrator applies embedded SQL migrations to a database connection.
type Migrator interface {
	// Up applies all pending migrations from the given filesystem path.
	Up(ctx context.Context, migrationFS fs.FS, path string) error
}

type migratorImpl struct {
	dbConn database.DBConnection
	dbType string
}

// NewMigrator creates a new Migrator for the given connection.
func NewMigrator(dbConn database.DBConnection) Migrator {
	return &migratorImpl{
		dbConn: dbConn,
		dbType: dbConn.Type(),
	}
}

// getDatabaseDriver retrieves a migrate/v4 Driver based on the database type.
func (m *migratorImpl) getDatabaseDriver(sqlDB *sql.DB) (migratedb.Driver, error) {
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{
			MigrationsTable: MigrationsTable,
		})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{
			MigrationsTable: MigrationsTable,
		})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{
			MigrationsTable: MigrationsTable,
		})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *migratorImpl) getMigrateInstance(migrationFS fs.FS, path string) (*migrate.Migrate, error) {
	sqlDB, err := m.dbConn.SQLDB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}

	dbDriver, err := m.getDatabaseDriver(sqlDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mInstance, nil
}

// Up applies all pending migrations.
func (m *migratorImpl) Up(ctx context.Context, migrationFS fs.FS, path string) error {
	logger.Infof("Applying migrations (Path: %s, Table: %s)", path, MigrationsTable)

	mInstance, err := m.getMigrateInstance(migrationFS, path)
	if err != nil {
		return fmt.Errorf("failed to get migrate instance: %w", err)
	}
	defer mInstance.Close()

	if err := mInstance.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed (DB: %s, Path: %s): %w", m.dbType, path, err)
	}

	logger.Infof("Migrations applied successfully.")
	return nil
}
