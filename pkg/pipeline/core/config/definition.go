package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/coraldata/medley/pkg/pipeline/core/model"
	"github.com/coraldata/medley/pkg/pipeline/support/exception"
)

// Stage kinds.
const (
	// StageKindIngest reads new source data incrementally and appends it.
	StageKindIngest = "ingest"
	// StageKindRebuild replaces the target table from upstream tables in full.
	StageKindRebuild = "rebuild"
)

// Source kinds inside a stage definition.
const (
	StageSourceFiles = "files"
	StageSourceTable = "table"
)

// File formats an ingest stage can decode.
const (
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatLines = "jsonl"
)

// StageSource locates the input of one stage.
type StageSource struct {
	// Kind is "files" (landing area) or "table" (upstream table).
	Kind string `yaml:"kind"`
	// Location is the path prefix under the landing root for file sources.
	Location string `yaml:"location"`
	// Format is the file format for file sources: "json", "jsonl" or "csv".
	Format string `yaml:"format"`
	// Table is the upstream table name for table sources.
	Table string `yaml:"table"`
}

// TransformOp is one declarative transform operation applied to every row.
// Params are decoded into the operation's typed struct by the transform package.
type TransformOp struct {
	Op     string                 `yaml:"op"`
	Params map[string]interface{} `yaml:"params"`
}

// Decode decodes the op's params into the given typed struct.
func (op TransformOp) Decode(out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(op.Params); err != nil {
		return fmt.Errorf("invalid params for op %q: %w", op.Op, err)
	}
	return nil
}

// StageDefinition declares one stage of a chain.
type StageDefinition struct {
	Name string `yaml:"name"`
	// Kind is "ingest" (default) or "rebuild".
	Kind   string      `yaml:"kind"`
	Source StageSource `yaml:"source"`
	// Target is the table the stage writes.
	Target string `yaml:"target"`
	// SchemaPolicy is "evolve" or "fixed". Rebuild stages ignore it.
	SchemaPolicy model.SchemaPolicy `yaml:"schema_policy"`
	// Schema declares the target columns for fixed-policy stages.
	Schema []model.Field `yaml:"schema"`
	// Transform lists the per-row operations in application order.
	Transform []TransformOp `yaml:"transform"`
	// TimestampLayout is the Go time layout used when casting string timestamps.
	TimestampLayout string `yaml:"timestamp_layout"`
	// Builder names the registered feature builder for rebuild stages.
	Builder string `yaml:"builder"`
}

// ChainDefinition declares an ordered chain of stages over one subject.
type ChainDefinition struct {
	Name   string            `yaml:"name"`
	Stages []StageDefinition `yaml:"stages"`
}

// PipelineDefinition is the root of the pipeline YAML.
type PipelineDefinition struct {
	Chains []ChainDefinition `yaml:"chains"`
}

// LoadPipelineDefinition parses and validates an embedded pipeline YAML.
func LoadPipelineDefinition(raw EmbeddedPipeline) (*PipelineDefinition, error) {
	var def PipelineDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, exception.New(moduleName, exception.KindConfig, "failed to unmarshal pipeline definition", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the structural invariants of the definition:
// stage names are unique, every target table has exactly one writing stage,
// the evolve policy appears only on file-ingest stages, and fixed-policy
// stages declare their schema.
func (d *PipelineDefinition) Validate() error {
	if len(d.Chains) == 0 {
		return exception.Newf(moduleName, exception.KindConfig, "pipeline defines no chains")
	}

	stageNames := map[string]string{}
	tableWriters := map[string]string{}

	for _, chain := range d.Chains {
		if chain.Name == "" {
			return exception.Newf(moduleName, exception.KindConfig, "chain without a name")
		}
		if len(chain.Stages) == 0 {
			return exception.Newf(moduleName, exception.KindConfig, "chain %q defines no stages", chain.Name)
		}
		for i := range chain.Stages {
			st := &chain.Stages[i]
			if st.Kind == "" {
				st.Kind = StageKindIngest
			}
			if st.Name == "" {
				return exception.Newf(moduleName, exception.KindConfig, "chain %q has a stage without a name", chain.Name)
			}
			if prev, dup := stageNames[st.Name]; dup {
				return exception.Newf(moduleName, exception.KindConfig,
					"stage name %q used by chains %q and %q", st.Name, prev, chain.Name)
			}
			stageNames[st.Name] = chain.Name

			if st.Target == "" {
				return exception.Newf(moduleName, exception.KindConfig, "stage %q has no target table", st.Name)
			}
			if prev, dup := tableWriters[st.Target]; dup {
				return exception.Newf(moduleName, exception.KindConfig,
					"table %q written by both stage %q and stage %q", st.Target, prev, st.Name)
			}
			tableWriters[st.Target] = st.Name

			if err := validateStage(st); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateStage(st *StageDefinition) error {
	switch st.Kind {
	case StageKindIngest:
		switch st.Source.Kind {
		case StageSourceFiles:
			if st.Source.Location == "" {
				return exception.Newf(moduleName, exception.KindConfig, "stage %q file source has no location", st.Name)
			}
			switch st.Source.Format {
			case FormatJSON, FormatCSV, FormatLines:
			default:
				return exception.Newf(moduleName, exception.KindConfig,
					"stage %q has unknown source format %q", st.Name, st.Source.Format)
			}
		case StageSourceTable:
			if st.Source.Table == "" {
				return exception.Newf(moduleName, exception.KindConfig, "stage %q table source has no table", st.Name)
			}
		default:
			return exception.Newf(moduleName, exception.KindConfig,
				"stage %q has unknown source kind %q", st.Name, st.Source.Kind)
		}

		switch st.SchemaPolicy {
		case model.SchemaPolicyEvolve:
			// Evolution is permitted only at the raw ingestion boundary.
			if st.Source.Kind != StageSourceFiles {
				return exception.Newf(moduleName, exception.KindConfig,
					"stage %q uses the evolve policy on a non-file source", st.Name)
			}
		case model.SchemaPolicyFixed:
			if len(st.Schema) == 0 {
				return exception.Newf(moduleName, exception.KindConfig,
					"stage %q uses the fixed policy but declares no schema", st.Name)
			}
			for _, f := range st.Schema {
				if !f.Type.IsValid() {
					return exception.Newf(moduleName, exception.KindConfig,
						"stage %q declares field %q with unknown type %q", st.Name, f.Name, f.Type)
				}
			}
		default:
			return exception.Newf(moduleName, exception.KindConfig,
				"stage %q has unknown schema policy %q", st.Name, st.SchemaPolicy)
		}
	case StageKindRebuild:
		if st.Builder == "" {
			return exception.Newf(moduleName, exception.KindConfig, "rebuild stage %q names no builder", st.Name)
		}
	default:
		return exception.Newf(moduleName, exception.KindConfig, "stage %q has unknown kind %q", st.Name, st.Kind)
	}
	return nil
}
