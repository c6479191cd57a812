package metrics

import (
	"context"
	"time"

	model "github.com/coraldata/medley/pkg/pipeline/core/model"
)

// NoopRecorder discards every metric. Used when no backend is configured and
// as the default in tests.
type NoopRecorder struct{}

func NewNoopRecorder() MetricRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordChainStart(ctx context.Context, run *model.ChainRun)           {}
func (n *NoopRecorder) RecordChainEnd(ctx context.Context, run *model.ChainRun)             {}
func (n *NoopRecorder) RecordStageStart(ctx context.Context, se *model.StageExecution)      {}
func (n *NoopRecorder) RecordStageEnd(ctx context.Context, se *model.StageExecution)        {}
func (n *NoopRecorder) RecordRowsRead(ctx context.Context, stageName string, count int)     {}
func (n *NoopRecorder) RecordRowsWritten(ctx context.Context, stageName string, count int)  {}
func (n *NoopRecorder) RecordRowsRescued(ctx context.Context, stageName string, count int)  {}
func (n *NoopRecorder) RecordCommit(ctx context.Context, stageName string, noOp bool)       {}
func (n *NoopRecorder) RecordDuration(ctx context.Context, name string, d time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoopRecorder)(nil)

// NoopSpan is a Span that does nothing.
type NoopSpan struct{}

func (NoopSpan) End() {}

// NoopTracer returns no-op spans.
type NoopTracer struct{}

func NewNoopTracer() Tracer { return &NoopTracer{} }

func (NoopTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, Span) {
	return ctx, NoopSpan{}
}

var _ Tracer = (*NoopTracer)(nil)
