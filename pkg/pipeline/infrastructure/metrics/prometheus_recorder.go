// Package metrics provides the Prometheus implementation of the pipeline's
// metric recorder and the optional /metrics exposition endpoint.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	coremetrics "github.com/coraldata/medley/pkg/pipeline/core/metrics"
	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	chainDurationSeconds *prometheus.HistogramVec
	chainStatusCounter   *prometheus.CounterVec

	stageDurationSeconds *prometheus.HistogramVec
	stageStatusCounter   *prometheus.CounterVec
	stageReadCount       *prometheus.CounterVec
	stageWriteCount      *prometheus.CounterVec
	stageRescueCount     *prometheus.CounterVec
	stageCommitCount     *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		chainDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_chain_duration_seconds",
			Help:    "Duration of chain runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"chain_name", "exit_status"}),
		chainStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_chain_status_total",
			Help: "Total number of chain runs by exit status.",
		}, []string{"chain_name", "exit_status"}),
		stageDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of stage executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage_name", "exit_status"}),
		stageStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_status_total",
			Help: "Total number of stage executions by exit status.",
		}, []string{"stage_name", "exit_status"}),
		stageReadCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_rows_read_total",
			Help: "Total rows discovered by stage.",
		}, []string{"stage_name"}),
		stageWriteCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_rows_written_total",
			Help: "Total rows committed by stage.",
		}, []string{"stage_name"}),
		stageRescueCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_rows_rescued_total",
			Help: "Total rows committed with rescued fields by stage.",
		}, []string{"stage_name"}),
		stageCommitCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_commit_total",
			Help: "Total checkpointed commits by stage and no-op flag.",
		}, []string{"stage_name", "no_op"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_operation_duration_seconds",
			Help:    "Duration of named internal operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name", "table"}),
	}

	registry.MustRegister(r.chainDurationSeconds)
	registry.MustRegister(r.chainStatusCounter)
	registry.MustRegister(r.stageDurationSeconds)
	registry.MustRegister(r.stageStatusCounter)
	registry.MustRegister(r.stageReadCount)
	registry.MustRegister(r.stageWriteCount)
	registry.MustRegister(r.stageRescueCount)
	registry.MustRegister(r.stageCommitCount)
	registry.MustRegister(r.operationDuration)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordChainStart records the start of a ChainRun.
func (r *PrometheusRecorder) RecordChainStart(ctx context.Context, run *model.ChainRun) {
	logger.Debugf("Metrics: Chain '%s' started.", run.ChainName)
}

// RecordChainEnd records the end of a ChainRun.
func (r *PrometheusRecorder) RecordChainEnd(ctx context.Context, run *model.ChainRun) {
	if run.EndTime == nil {
		return
	}
	duration := run.EndTime.Sub(run.StartTime).Seconds()
	r.chainDurationSeconds.WithLabelValues(run.ChainName, run.ExitStatus.String()).Observe(duration)
	r.chainStatusCounter.WithLabelValues(run.ChainName, run.ExitStatus.String()).Inc()
	logger.Debugf("Metrics: Chain '%s' ended. Duration: %.3fs", run.ChainName, duration)
}

// RecordStageStart records the start of a StageExecution.
func (r *PrometheusRecorder) RecordStageStart(ctx context.Context, se *model.StageExecution) {
	logger.Debugf("Metrics: Stage '%s' started.", se.StageName)
}

// RecordStageEnd records the end of a StageExecution.
func (r *PrometheusRecorder) RecordStageEnd(ctx context.Context, se *model.StageExecution) {
	if se.EndTime == nil {
		return
	}
	duration := se.EndTime.Sub(se.StartTime).Seconds()
	r.stageDurationSeconds.WithLabelValues(se.StageName, se.ExitStatus.String()).Observe(duration)
	r.stageStatusCounter.WithLabelValues(se.StageName, se.ExitStatus.String()).Inc()
	logger.Debugf("Metrics: Stage '%s' ended. Duration: %.3fs", se.StageName, duration)
}

// RecordRowsRead records rows discovered for a stage.
func (r *PrometheusRecorder) RecordRowsRead(ctx context.Context, stageName string, count int) {
	r.stageReadCount.WithLabelValues(stageName).Add(float64(count))
}

// RecordRowsWritten records rows committed to a stage's target table.
func (r *PrometheusRecorder) RecordRowsWritten(ctx context.Context, stageName string, count int) {
	r.stageWriteCount.WithLabelValues(stageName).Add(float64(count))
}

// RecordRowsRescued records rows that carried rescued fields in a commit.
func (r *PrometheusRecorder) RecordRowsRescued(ctx context.Context, stageName string, count int) {
	r.stageRescueCount.WithLabelValues(stageName).Add(float64(count))
}

// RecordCommit records one successful checkpointed commit.
func (r *PrometheusRecorder) RecordCommit(ctx context.Context, stageName string, noOp bool) {
	flag := "false"
	if noOp {
		flag = "true"
	}
	r.stageCommitCount.WithLabelValues(stageName, flag).Inc()
}

// RecordDuration records the execution time of a specific operation.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDuration.WithLabelValues(name, tags["table"]).Observe(duration.Seconds())
}

var _ coremetrics.MetricRecorder = (*PrometheusRecorder)(nil)
