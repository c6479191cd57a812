// Package transform turns raw discovered batches into typed batches ready to
// commit. Rows are never dropped and batches never fail on bad data: every
// value that cannot be placed in the target schema lands in the row's rescue
// bucket instead.
package transform

import (
	"context"
	"sort"

	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	port "github.com/coraldata/medley/pkg/pipeline/core/port"
	"github.com/coraldata/medley/pkg/pipeline/support/exception"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

// Transformer applies a stage's declarative op list and reconciles the result
// against the target schema under the stage's schema policy.
type Transformer struct {
	stageName string
	target    string
	policy    model.SchemaPolicy
	declared  []model.Field
	ops       []Op
	layout    string
}

var _ port.Transformer = (*Transformer)(nil)

// NewTransformer builds the transformer for an ingest stage definition.
func NewTransformer(def config.StageDefinition) (*Transformer, error) {
	ops, err := buildOps(def.Name, def.Transform)
	if err != nil {
		return nil, err
	}
	for _, f := range def.Schema {
		if !model.ValidColumnName(f.Name) {
			return nil, exception.Newf(def.Name, exception.KindConfig,
				"declared field %q is not a valid column name", f.Name)
		}
	}
	return &Transformer{
		stageName: def.Name,
		target:    def.Target,
		policy:    def.SchemaPolicy,
		declared:  def.Schema,
		ops:       ops,
		layout:    def.TimestampLayout,
	}, nil
}

// Apply runs the op list over every row and types the result against the
// target schema. Under the evolve policy the returned batch may carry an
// extended schema; under the fixed policy the schema never grows and
// non-conforming fields land in the rescue buckets.
func (t *Transformer) Apply(ctx context.Context, batch *model.RecordBatch, current *model.Schema) (*model.TypedBatch, error) {
	worked := make([]model.Row, len(batch.Rows))
	rescues := make([]model.RescueBucket, len(batch.Rows))
	for i, row := range batch.Rows {
		working := row.Clone()
		rescue := model.RescueBucket{}
		for _, op := range t.ops {
			op.Apply(working, rescue)
		}
		worked[i] = working
		rescues[i] = rescue
	}

	schema, err := t.resolveSchema(worked, current)
	if err != nil {
		return nil, err
	}

	out := &model.TypedBatch{
		Target: t.target,
		Schema: schema,
		Rows:   make([]model.TypedRow, len(worked)),
		Origin: batch.Origin,
	}
	for i, working := range worked {
		values := model.Row{}
		for name, raw := range working {
			ft, known := schema.TypeOf(name)
			if !known {
				rescues[i][name] = raw
				continue
			}
			cast, ok := model.CastValue(raw, ft, t.layout)
			if !ok {
				rescues[i][name] = raw
				continue
			}
			if cast != nil {
				values[name] = cast
			}
		}
		out.Rows[i] = model.TypedRow{Values: values, Rescued: rescues[i]}
	}

	if n := out.RescueCount(); n > 0 {
		logger.Debugf("Stage %s rescued values in %d of %d rows.", t.stageName, n, len(out.Rows))
	}
	return out, nil
}

// resolveSchema reconciles the transformed rows against the registered schema.
func (t *Transformer) resolveSchema(rows []model.Row, current *model.Schema) (*model.Schema, error) {
	if t.policy == model.SchemaPolicyFixed {
		if current == nil {
			return model.NewSchema(t.target, t.declared), nil
		}
		for _, f := range t.declared {
			if got, ok := current.TypeOf(f.Name); ok && got != f.Type {
				return nil, exception.Newf(t.stageName, exception.KindSchemaConflict,
					"field %q declared as %s but registered as %s in %s", f.Name, f.Type, got, t.target)
			}
		}
		return current.WithFields(t.declared), nil
	}

	observed := observeFields(rows)
	if current == nil {
		return model.NewSchema(t.target, observed), nil
	}
	next := current.WithFields(observed)
	if next.Version != current.Version {
		logger.Infof("Stage %s evolving schema of %s to version %d.", t.stageName, t.target, next.Version)
	}
	return next, nil
}

// observeFields infers a field list from the rows, in name order. Fields whose
// names cannot be table columns are left out; their values get rescued when
// the rows are typed. Fields only ever seen as null default to string.
func observeFields(rows []model.Row) []model.Field {
	types := map[string]model.FieldType{}
	seen := map[string]bool{}
	for _, row := range rows {
		for name, value := range row {
			if !model.ValidColumnName(name) {
				continue
			}
			seen[name] = true
			if value == nil {
				continue
			}
			inferred := model.InferFieldType(value)
			if existing, ok := types[name]; ok {
				types[name] = model.WidenFieldType(existing, inferred)
			} else {
				types[name] = inferred
			}
		}
	}

	fields := make([]model.Field, 0, len(seen))
	for name := range seen {
		ft, ok := types[name]
		if !ok {
			ft = model.FieldTypeString
		}
		fields = append(fields, model.Field{Name: name, Type: ft})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}
