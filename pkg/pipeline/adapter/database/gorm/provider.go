// Package gorm manages GORM connections for the pipeline's backing database.
// Driver-specific dialectors register themselves via RegisterDialector, so the
// set of supported databases is decided by the driver packages the binary imports.
package gorm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/fx"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	"github.com/coraldata/medley/pkg/pipeline/support/exception"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

// DialectorFactory generates a gorm.Dialector from a config.DatabaseConfig.
type DialectorFactory func(cfg config.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given driver name.
func RegisterDialector(driver string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[driver]; exists {
		logger.Warnf("Dialector for driver '%s' already registered. Overwriting.", driver)
	}
	dialectorRegistry[driver] = factory
}

// GetDialectorFactory retrieves the DialectorFactory for the specified driver.
func GetDialectorFactory(driver string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[driver]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database driver: %s", driver)
	}
	return factory, nil
}

// Open establishes a GORM connection for the given database configuration.
func Open(dbCfg config.DatabaseConfig) (*gorm.DB, error) {
	factory, err := GetDialectorFactory(dbCfg.Driver)
	if err != nil {
		return nil, exception.New("database", exception.KindConfig, "failed to resolve database driver", err)
	}
	dialector, err := factory(dbCfg)
	if err != nil {
		return nil, exception.Newf("database", exception.KindConfig, "failed to create dialector for %s", dbCfg.Driver, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, exception.Newf("database", exception.KindSourceUnavailable, "failed to open %s connection", dbCfg.Driver, err)
	}

	logger.Infof("Established DB connection (%s)", dbCfg.Driver)
	return db, nil
}

// NewDefaultDB is an Fx provider for the "default" database connection.
func NewDefaultDB(lc fx.Lifecycle, cfg *config.Config) (*gorm.DB, error) {
	dbCfg, ok := cfg.DefaultDatabase()
	if !ok {
		return nil, exception.Newf("database", exception.KindConfig, "no 'default' database configured")
	}
	db, err := Open(dbCfg)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

// Module provides the default GORM connection.
var Module = fx.Options(
	fx.Provide(NewDefaultDB),
)
