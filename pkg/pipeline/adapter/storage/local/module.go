package local

import (
	"context"

	storage "github.com/coraldata/medley/pkg/pipeline/adapter/storage"
	config "github.com/coraldata/medley/pkg/pipeline/core/config"
)

// Registered like a database/sql driver: importing the package makes the
// backend available to storage.NewObjectStore.
func init() {
	storage.RegisterFactory(ProviderKind, func(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
		return NewLocalStore(cfg.Medley.Source.Root)
	})
}
