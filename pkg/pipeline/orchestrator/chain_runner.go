package orchestrator

import (
	"context"

	metrics "github.com/coraldata/medley/pkg/pipeline/core/metrics"
	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	port "github.com/coraldata/medley/pkg/pipeline/core/port"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

// ChainRunner runs one chain's stages in declaration order. A failed stage
// stops the chain: downstream stages would only re-read what the failed stage
// never committed.
type ChainRunner struct {
	name     string
	stages   []*StageRunner
	runs     port.RunRepository
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

// Run executes the chain once and returns the settled run record.
func (c *ChainRunner) Run(ctx context.Context) *model.ChainRun {
	run := model.NewChainRun(c.name)
	ctx, span := c.tracer.StartSpan(ctx, "chain "+c.name, map[string]string{"chain": c.name})
	defer span.End()

	c.recorder.RecordChainStart(ctx, run)
	c.saveRun(ctx, run)
	logger.Infof("Chain %s starting (%d stages).", c.name, len(c.stages))

	for _, stage := range c.stages {
		if ctx.Err() != nil {
			break
		}
		se := stage.Run(ctx, run.ID)
		run.StageExecutions = append(run.StageExecutions, se)
		if se.ExitStatus == model.ExitStatusFailed {
			break
		}
	}

	run.Complete()
	c.saveRun(ctx, run)
	c.recorder.RecordChainEnd(ctx, run)
	logger.Infof("Chain %s finished with status %s.", c.name, run.ExitStatus)
	return run
}

func (c *ChainRunner) saveRun(ctx context.Context, run *model.ChainRun) {
	if err := c.runs.SaveChainRun(ctx, run); err != nil {
		logger.Warnf("Chain %s: failed to save run record: %v", c.name, err)
	}
}
