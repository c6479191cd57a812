// Package mysql provides the GORM dialector for MySQL databases.
package mysql

import (
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	gormadapter "github.com/coraldata/medley/pkg/pipeline/adapter/database/gorm"
	config "github.com/coraldata/medley/pkg/pipeline/core/config"
)

// init registers the MySQL dialector factory with the GORM adapter.
// Importing this package makes the "mysql" driver available.
func init() {
	gormadapter.RegisterDialector("mysql", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		dsn := ConnectionString(cfg)
		if dsn == "" {
			return nil, errors.New("MySQL connection settings are incomplete")
		}
		return mysql.Open(dsn), nil
	})
}

// ConnectionString generates the DSN for MySQL connections.
func ConnectionString(c config.DatabaseConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.Host == "" || c.DBName == "" {
		return ""
	}
	port := c.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, port, c.DBName)
}
