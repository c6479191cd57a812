// Package orchestrator drives the pipeline: it runs each chain's stages in
// order, walks every stage through its discover/transform/commit cycle and
// records the run bookkeeping. All durability lives below it; the orchestrator
// itself is stateless and safe to restart at any point.
package orchestrator

import (
	"context"

	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	metrics "github.com/coraldata/medley/pkg/pipeline/core/metrics"
	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	port "github.com/coraldata/medley/pkg/pipeline/core/port"
	query "github.com/coraldata/medley/pkg/pipeline/query"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

// StageRunner executes one stage. Ingest stages discover, transform and
// commit; rebuild stages build their table from upstream tables and commit the
// replacement. A failed run settles the execution as FAILED and leaves every
// durable artifact untouched.
type StageRunner struct {
	def         config.StageDefinition
	watcher     port.SourceWatcher
	transformer port.Transformer
	builder     query.FeatureBuilder
	writer      port.Writer
	store       port.TableStore
	runs        port.RunRepository
	recorder    metrics.MetricRecorder
	tracer      metrics.Tracer
}

// Run executes the stage once and returns its settled execution record.
// Failures are settled into the record, never returned: a chain decides from
// the exit status whether to continue.
func (r *StageRunner) Run(ctx context.Context, chainRunID string) *model.StageExecution {
	se := model.NewStageExecution(chainRunID, r.def.Name, r.def.Target)
	ctx, span := r.tracer.StartSpan(ctx, "stage "+r.def.Name, map[string]string{
		"stage": r.def.Name,
		"table": r.def.Target,
	})
	defer span.End()

	r.recorder.RecordStageStart(ctx, se)
	r.saveExecution(ctx, se)

	if err := r.execute(ctx, se); err != nil {
		logger.Errorf("Stage %s failed: %v", r.def.Name, err)
		se.MarkAsFailed(err)
	}

	r.saveExecution(ctx, se)
	r.recorder.RecordStageEnd(ctx, se)
	logger.Infof("Stage %s finished with status %s (read=%d written=%d rescued=%d).",
		r.def.Name, se.ExitStatus, se.ReadCount, se.WriteCount, se.RescueCount)
	return se
}

func (r *StageRunner) execute(ctx context.Context, se *model.StageExecution) error {
	if err := se.TransitionTo(model.StageStateDiscovering); err != nil {
		return err
	}
	r.saveExecution(ctx, se)

	batch, err := r.discover(ctx)
	if err != nil {
		return err
	}
	se.ReadCount = batch.rowCount()
	r.recorder.RecordRowsRead(ctx, r.def.Name, se.ReadCount)

	if batch.IsEmpty() {
		se.MarkAsNoOp()
		return nil
	}

	if err := se.TransitionTo(model.StageStateTransforming); err != nil {
		return err
	}
	r.saveExecution(ctx, se)

	typed, err := r.transform(ctx, batch)
	if err != nil {
		return err
	}

	if err := se.TransitionTo(model.StageStateCommitting); err != nil {
		return err
	}
	r.saveExecution(ctx, se)

	result, err := r.writer.Commit(ctx, r.def.Name, typed)
	if err != nil {
		return err
	}

	r.recorder.RecordCommit(ctx, r.def.Name, result.NoOp)
	if result.NoOp {
		se.MarkAsNoOp()
		return nil
	}
	se.WriteCount = int(result.Appended)
	se.RescueCount = int(result.Rescued)
	r.recorder.RecordRowsWritten(ctx, r.def.Name, se.WriteCount)
	r.recorder.RecordRowsRescued(ctx, r.def.Name, se.RescueCount)
	se.MarkAsAdvanced()
	return nil
}

// discover produces the batch to commit. For rebuild stages building the
// replacement contents is the discovery; the batch comes back already typed
// and transform is the identity.
func (r *StageRunner) discover(ctx context.Context) (*batchPair, error) {
	if r.def.Kind == config.StageKindRebuild {
		typed, err := r.builder.Build(ctx, r.store, r.def.Target)
		if err != nil {
			return nil, err
		}
		return &batchPair{typed: typed}, nil
	}

	cp, err := r.store.LoadCheckpoint(ctx, r.def.Name)
	if err != nil {
		return nil, err
	}
	raw, err := r.watcher.DiscoverNew(ctx, cp)
	if err != nil {
		return nil, err
	}
	return &batchPair{raw: raw}, nil
}

func (r *StageRunner) transform(ctx context.Context, batch *batchPair) (*model.TypedBatch, error) {
	if batch.typed != nil {
		return batch.typed, nil
	}
	current, err := r.store.SchemaFor(ctx, r.def.Target)
	if err != nil {
		return nil, err
	}
	return r.transformer.Apply(ctx, batch.raw, current)
}

func (r *StageRunner) saveExecution(ctx context.Context, se *model.StageExecution) {
	se.Version++
	if err := r.runs.SaveStageExecution(ctx, se); err != nil {
		// Bookkeeping must never fail a stage whose data work is sound.
		logger.Warnf("Stage %s: failed to save execution record: %v", r.def.Name, err)
	}
}

// batchPair carries either a raw discovered batch or an already-typed rebuild
// batch through the stage cycle.
type batchPair struct {
	raw   *model.RecordBatch
	typed *model.TypedBatch
}

func (b *batchPair) IsEmpty() bool {
	if b.typed != nil {
		return b.typed.Origin.IsEmpty() && len(b.typed.Rows) == 0
	}
	return b.raw.IsEmpty()
}

func (b *batchPair) rowCount() int {
	if b.typed != nil {
		return len(b.typed.Rows)
	}
	return len(b.raw.Rows)
}
