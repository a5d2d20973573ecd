// Package metrics exposes prometheus instruments for pipeline runs and serves them with a
// health endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eiacast_runs_total",
		Help: "Total number of pipeline invocations by script and status.",
	}, []string{"script", "status"})
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eiacast_run_duration_seconds",
		Help:    "Duration of a pipeline invocation.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
	}, []string{"script"})
	ObservationsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eiacast_observations_upserted_total",
		Help: "Total number of observations applied to the store.",
	})
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eiacast_provider_requests_total",
		Help: "Total number of provider requests by outcome.",
	}, []string{"outcome"})
	ForecastsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eiacast_forecasts_appended_total",
		Help: "Total number of forecast records appended by model.",
	}, []string{"model"})
	ForecastsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eiacast_forecasts_published_total",
		Help: "Total number of forecast records published to Redis.",
	})
	LastObserved = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eiacast_model_last_observed_timestamp_seconds",
		Help: "First instant of the most recent period absorbed by a model.",
	}, []string{"model"})
)

// ObserveDuration records how long an invocation of script took since started.
func ObserveDuration(script string, started time.Time) {
	RunDuration.WithLabelValues(script).Observe(time.Since(started).Seconds())
}

// Handler serves /metrics from the default registry and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	return mux
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}()

	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("unable to serve metrics, %w", err)
	}
	return nil
}
