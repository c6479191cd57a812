package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	coremetrics "github.com/coraldata/medley/pkg/pipeline/core/metrics"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

// NewMetricRecorder returns the Prometheus recorder when metrics are enabled
// and a no-op recorder otherwise. With metrics enabled, the registry is served
// on the configured listen address for the lifetime of the application.
func NewMetricRecorder(lc fx.Lifecycle, cfg *config.Config) coremetrics.MetricRecorder {
	if !cfg.Medley.Metrics.Enabled {
		return coremetrics.NewNoopRecorder()
	}

	recorder := NewPrometheusRecorder()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(recorder.GetRegistry(), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.Medley.Metrics.ListenAddr, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Infof("Serving metrics on %s/metrics.", server.Addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Errorf("Metrics server stopped: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	})
	return recorder
}

// Module provides the metric recorder to the fx application graph.
var Module = fx.Options(
	fx.Provide(NewMetricRecorder),
)
