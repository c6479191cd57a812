package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	storage "github.com/coraldata/medley/pkg/pipeline/adapter/storage"
	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	metrics "github.com/coraldata/medley/pkg/pipeline/core/metrics"
	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	port "github.com/coraldata/medley/pkg/pipeline/core/port"
	query "github.com/coraldata/medley/pkg/pipeline/query"
	source "github.com/coraldata/medley/pkg/pipeline/source"
	"github.com/coraldata/medley/pkg/pipeline/support/exception"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
	transform "github.com/coraldata/medley/pkg/pipeline/transform"
	writer "github.com/coraldata/medley/pkg/pipeline/writer"
)

// Exporter is run after each successful cycle, e.g. to publish finished
// tables as parquet files.
type Exporter interface {
	Export(ctx context.Context) error
}

// Engine owns the chains built from the pipeline definition and runs them on
// the configured trigger. Chains are independent of each other and run
// concurrently within a cycle; stages within a chain run in order.
type Engine struct {
	cfg      *config.Config
	chains   []*ChainRunner
	exporter Exporter
}

// Params collects the engine's dependencies.
type Params struct {
	fx.In

	Config     *config.Config
	Definition *config.PipelineDefinition
	Store      port.TableStore
	Runs       port.RunRepository
	Objects    storage.ObjectStore
	Recorder   metrics.MetricRecorder
	Tracer     metrics.Tracer
	Exporter   Exporter `optional:"true"`
}

// NewEngine builds the chain runners declared by the pipeline definition.
func NewEngine(p Params) (*Engine, error) {
	e := &Engine{cfg: p.Config, exporter: p.Exporter}
	for _, chainDef := range p.Definition.Chains {
		chain := &ChainRunner{
			name:     chainDef.Name,
			runs:     p.Runs,
			recorder: p.Recorder,
			tracer:   p.Tracer,
		}
		for _, stageDef := range chainDef.Stages {
			runner, err := buildStage(stageDef, p)
			if err != nil {
				return nil, err
			}
			chain.stages = append(chain.stages, runner)
		}
		e.chains = append(e.chains, chain)
	}
	return e, nil
}

func buildStage(def config.StageDefinition, p Params) (*StageRunner, error) {
	runner := &StageRunner{
		def:      def,
		store:    p.Store,
		runs:     p.Runs,
		recorder: p.Recorder,
		tracer:   p.Tracer,
	}

	if def.Kind == config.StageKindRebuild {
		builder, err := query.Lookup(def.Builder)
		if err != nil {
			return nil, err
		}
		runner.builder = builder
		runner.writer = writer.NewRebuildWriter(p.Store)
		return runner, nil
	}

	switch def.Source.Kind {
	case config.StageSourceFiles:
		runner.watcher = source.NewFileWatcher(def.Name, p.Objects,
			def.Source.Location, def.Source.Format, p.Config.Medley.Batch.MaxFiles)
	case config.StageSourceTable:
		runner.watcher = source.NewTableWatcher(def.Name, p.Store,
			def.Source.Table, p.Config.Medley.Batch.ReadLimit)
	default:
		return nil, exception.Newf(def.Name, exception.KindConfig,
			"unknown source kind %q", def.Source.Kind)
	}

	tr, err := transform.NewTransformer(def)
	if err != nil {
		return nil, err
	}
	runner.transformer = tr
	runner.writer = writer.NewCheckpointedWriter(p.Store)
	return runner, nil
}

// RunOnce runs every chain once, concurrently, and aggregates failures.
// A failed chain never blocks the others.
func (e *Engine) RunOnce(ctx context.Context) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, chain := range e.chains {
		wg.Add(1)
		go func(c *ChainRunner) {
			defer wg.Done()
			run := c.Run(ctx)
			if run.ExitStatus == model.ExitStatusFailed {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf(
					"chain %s failed at stage %s: %v", run.ChainName, run.FailedStage, run.Failures))
				mu.Unlock()
			}
		}(chain)
	}
	wg.Wait()

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	if e.exporter != nil {
		if err := e.exporter.Export(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run executes cycles on the configured trigger: a single cycle in once mode,
// or repeated cycles until the context is canceled in interval mode.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.Medley.Trigger.Mode == config.TriggerOnce {
		return e.RunOnce(ctx)
	}

	interval := time.Duration(e.cfg.Medley.Trigger.IntervalSeconds) * time.Second
	logger.Infof("Running every %s until stopped.", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := e.RunOnce(ctx); err != nil {
			// Failed cycles are logged and retried on the next tick; transient
			// source or commit failures heal without operator action.
			logger.Errorf("Cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			logger.Infof("Trigger loop stopped.")
			return nil
		case <-ticker.C:
		}
	}
}

// Module provides the engine to the fx application graph.
var Module = fx.Options(
	fx.Provide(NewEngine),
)
