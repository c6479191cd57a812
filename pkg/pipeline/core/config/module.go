package config

import (
	"go.uber.org/fx"
)

// PipelineParams defines the dependencies for NewPipelineDefinitionProvider.
type PipelineParams struct {
	fx.In
	EmbeddedPipeline EmbeddedPipeline
}

// NewPipelineDefinitionProvider is an Fx provider that parses and validates the
// embedded pipeline definition.
func NewPipelineDefinitionProvider(params PipelineParams) (*PipelineDefinition, error) {
	return LoadPipelineDefinition(params.EmbeddedPipeline)
}

// Module provides the application configuration and the pipeline definition.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewPipelineDefinitionProvider),
)
