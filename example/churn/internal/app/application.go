// Package app assembles the churn pipeline application from the engine's fx
// modules and runs it until the trigger completes or a signal stops it.
package app

import (
	"context"

	"go.uber.org/fx"

	gormadapter "github.com/coraldata/medley/pkg/pipeline/adapter/database/gorm"
	storage "github.com/coraldata/medley/pkg/pipeline/adapter/storage"
	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	export "github.com/coraldata/medley/pkg/pipeline/export"
	inframetrics "github.com/coraldata/medley/pkg/pipeline/infrastructure/metrics"
	store "github.com/coraldata/medley/pkg/pipeline/infrastructure/store"
	tracing "github.com/coraldata/medley/pkg/pipeline/infrastructure/tracing"
	orchestrator "github.com/coraldata/medley/pkg/pipeline/orchestrator"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

// RunApplication sets up and runs the pipeline application using uber-fx.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, embeddedPipeline config.EmbeddedPipeline) {
	app := fx.New(
		fx.Supply(
			embeddedConfig,
			embeddedPipeline,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
			fx.Annotate(
				appCtx,
				fx.As(new(context.Context)),
				fx.ResultTags(`name:"appCtx"`),
			),
		),

		logger.Module,
		config.Module,
		storage.Module,
		gormadapter.Module,
		store.Module,
		inframetrics.Module,
		tracing.Module,
		export.Module,
		orchestrator.Module,

		fx.Invoke(fx.Annotate(startPipeline, fx.ParamTags(
			"",              // lc fx.Lifecycle
			"",              // shutdowner fx.Shutdowner
			"",              // engine *orchestrator.Engine
			`name:"appCtx"`, // appCtx context.Context
		))),
	)

	app.Run()

	if app.Err() != nil {
		logger.Fatalf("Application run failed: %v", app.Err())
	}
}

// startPipeline is invoked by Fx to run the engine for the lifetime of the
// application. Once the trigger completes (or the context is canceled), the
// application shuts itself down.
func startPipeline(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	engine *orchestrator.Engine,
	appCtx context.Context,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in pipeline execution: %v", r)
					}
					logger.Infof("Requesting application shutdown after pipeline completion.")
					if err := shutdowner.Shutdown(); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				}()

				if err := engine.Run(appCtx); err != nil {
					logger.Errorf("Pipeline run failed: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Application is shutting down.")
			return nil
		},
	})
}
