// Package sqlite provides the GORM dialector for SQLite databases.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	gormadapter "github.com/coraldata/medley/pkg/pipeline/adapter/database/gorm"
	config "github.com/coraldata/medley/pkg/pipeline/core/config"
)

// init registers the SQLite dialector factory with the GORM adapter.
// Importing this package makes the "sqlite" driver available.
func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		dsn := ConnectionString(cfg)
		if dsn == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(dsn), nil
	})
}

// ConnectionString generates the DSN for SQLite connections.
// The GORM SQLite dialector expects the file path (or file: URI) directly.
func ConnectionString(c config.DatabaseConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	return c.DBName
}
