package storage

import (
	"context"

	"go.uber.org/fx"

	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	"github.com/coraldata/medley/pkg/pipeline/support/exception"
)

// StoreFactory builds the configured ObjectStore. Kept as a variable so the
// backend constructors can register themselves without import cycles.
type StoreFactory func(ctx context.Context, cfg *config.Config) (ObjectStore, error)

var factories = map[string]StoreFactory{}

// RegisterFactory registers an ObjectStore constructor for a source kind.
func RegisterFactory(kind string, f StoreFactory) {
	factories[kind] = f
}

// NewObjectStore builds the ObjectStore named by the source configuration.
func NewObjectStore(lc fx.Lifecycle, cfg *config.Config) (ObjectStore, error) {
	factory, ok := factories[cfg.Medley.Source.Kind]
	if !ok {
		return nil, exception.Newf("storage", exception.KindConfig,
			"no storage adapter registered for source kind %q", cfg.Medley.Source.Kind)
	}
	store, err := factory(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

// Module provides the configured ObjectStore.
var Module = fx.Options(
	fx.Provide(NewObjectStore),
)
