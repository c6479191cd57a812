package metrics

import (
	"context"
	"time"

	model "github.com/coraldata/medley/pkg/pipeline/core/model"
)

// Span represents a single operation or unit of work in distributed tracing.
type Span interface {
	// End sets the end time of the current span and finishes the span.
	End()
}

// Tracer starts spans for chain runs and stage runs.
type Tracer interface {
	// StartSpan starts a new span under the context's current span, if any.
	// The returned context carries the new span.
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, Span)
}

// MetricRecorder is an abstract interface for recording metrics of pipeline
// execution: chain runs, stage runs and per-commit row counts.
// This facilitates integration with different metrics backends
// (e.g., Prometheus, OpenTelemetry Metrics).
type MetricRecorder interface {
	// RecordChainStart records the start of a ChainRun.
	RecordChainStart(ctx context.Context, run *model.ChainRun)

	// RecordChainEnd records the end of a ChainRun.
	RecordChainEnd(ctx context.Context, run *model.ChainRun)

	// RecordStageStart records the start of a StageExecution.
	RecordStageStart(ctx context.Context, execution *model.StageExecution)

	// RecordStageEnd records the end of a StageExecution.
	RecordStageEnd(ctx context.Context, execution *model.StageExecution)

	// RecordRowsRead records rows discovered for a stage.
	RecordRowsRead(ctx context.Context, stageName string, count int)

	// RecordRowsWritten records rows committed to a stage's target table.
	RecordRowsWritten(ctx context.Context, stageName string, count int)

	// RecordRowsRescued records rows that carried rescued fields in a commit.
	RecordRowsRescued(ctx context.Context, stageName string, count int)

	// RecordCommit records one successful checkpointed commit.
	RecordCommit(ctx context.Context, stageName string, noOp bool)

	// RecordDuration records the execution time of a specific operation.
	//
	// name: The name of the duration to record (e.g., "source_listing", "gold_rebuild").
	// tags: Additional attributes, e.g. `{"table": "churn_features"}`.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
