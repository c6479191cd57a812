// Package postgres provides the GORM dialector for PostgreSQL databases.
package postgres

import (
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	gormadapter "github.com/coraldata/medley/pkg/pipeline/adapter/database/gorm"
	config "github.com/coraldata/medley/pkg/pipeline/core/config"
)

// init registers the PostgreSQL dialector factory with the GORM adapter.
// Importing this package makes the "postgres" driver available.
func init() {
	gormadapter.RegisterDialector("postgres", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		dsn := ConnectionString(cfg)
		if dsn == "" {
			return nil, errors.New("PostgreSQL connection settings are incomplete")
		}
		return postgres.Open(dsn), nil
	})
}

// ConnectionString generates the DSN for PostgreSQL connections.
func ConnectionString(c config.DatabaseConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.Host == "" || c.DBName == "" {
		return ""
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.DBName, sslMode)
}
