package store

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	port "github.com/coraldata/medley/pkg/pipeline/core/port"
)

// NewMigratedSQLStore applies the metadata migrations and returns the store.
func NewMigratedSQLStore(db *gorm.DB, cfg *config.Config) (*SQLStore, error) {
	dbCfg, _ := cfg.DefaultDatabase()
	if err := MigrateUp(db, dbCfg.Driver); err != nil {
		return nil, err
	}
	return NewSQLStore(db), nil
}

// Module provides the SQL store as both the table store and the run repository.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewMigratedSQLStore,
			fx.As(new(port.TableStore)),
			fx.As(new(port.RunRepository)),
		),
	),
)
