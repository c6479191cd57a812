package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	_ "github.com/coraldata/medley/pkg/pipeline/adapter/database/gorm/mysql"
	_ "github.com/coraldata/medley/pkg/pipeline/adapter/database/gorm/postgres"
	_ "github.com/coraldata/medley/pkg/pipeline/adapter/database/gorm/sqlite"
	_ "github.com/coraldata/medley/pkg/pipeline/adapter/storage/gcs"
	_ "github.com/coraldata/medley/pkg/pipeline/adapter/storage/local"

	"github.com/coraldata/medley/example/churn/internal/app"
	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

// embeddedConfig embeds the content of the application's YAML configuration file.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// embeddedPipeline embeds the pipeline definition: the chains, stages and
// per-stage transforms of the churn tables.
//
//go:embed resources/pipeline.yaml
var embeddedPipeline []byte

// main is the entry point of the application.
// It manages startup, signal handling and execution of the Fx container.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling for graceful shutdown (e.g., Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Attempting to stop the pipeline...", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	app.RunApplication(ctx, envFilePath,
		config.EmbeddedConfig(embeddedConfig),
		config.EmbeddedPipeline(embeddedPipeline))
	os.Exit(0)
}
