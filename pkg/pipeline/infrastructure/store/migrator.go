package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationsTable tracks applied metadata migrations.
const migrationsTable = "medley_schema_migrations"

// getDatabaseDriver retrieves a migrate/v4 driver for the configured backend.
func getDatabaseDriver(driver string, sqlDB *sql.DB) (database.Driver, error) {
	switch driver {
	case "postgres":
		return migratepostgres.WithInstance(sqlDB, &migratepostgres.Config{
			MigrationsTable: migrationsTable,
		})
	case "mysql":
		return migratemysql.WithInstance(sqlDB, &migratemysql.Config{
			MigrationsTable: migrationsTable,
		})
	case "sqlite":
		return migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{
			MigrationsTable: migrationsTable,
		})
	default:
		return nil, fmt.Errorf("unsupported database driver for migration: %s", driver)
	}
}

// MigrateUp applies the embedded metadata migrations to the given connection.
// Applying an already-migrated database is a no-op.
func MigrateUp(db *gorm.DB, driver string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver: %w", err)
	}

	dbDriver, err := getDatabaseDriver(driver, sqlDB)
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("metadata migration failed (driver %s): %w", driver, err)
	}
	logger.Infof("Metadata migrations applied (driver %s).", driver)
	return nil
}
