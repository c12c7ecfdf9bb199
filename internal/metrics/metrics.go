// Package metrics provides Prometheus metrics for the ARGO pipeline.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Fetch metrics
	FilesFetched  prometheus.Counter
	FilesSkipped  prometheus.Counter
	FilesFailed   *prometheus.CounterVec
	RetryAttempts *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	FetchBytes    prometheus.Counter
	InFlight      prometheus.Gauge

	// Parse metrics
	FilesParsed       prometheus.Counter
	FilesParseFailed  prometheus.Counter
	ProfilesParsed    prometheus.Counter
	MeasurementsFound prometheus.Counter

	// Load metrics
	RowsLoaded    *prometheus.CounterVec
	BatchDuration *prometheus.HistogramVec

	// Stage metrics
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "argo_pipeline"
	}

	m := &Metrics{
		FilesFetched: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_fetched_total",
				Help:      "Total number of profile files downloaded",
			},
		),
		FilesSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_skipped_total",
				Help:      "Total number of profile files skipped (already present and verified)",
			},
		),
		FilesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_failed_total",
				Help:      "Total number of profile files that could not be fetched",
			},
			[]string{"reason"},
		),
		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		FetchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time to download one profile file",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
		),
		FetchBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_bytes_total",
				Help:      "Total bytes downloaded",
			},
		),
		InFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fetch_in_flight",
				Help:      "Number of downloads currently in progress",
			},
		),
		FilesParsed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_parsed_total",
				Help:      "Total number of profile files parsed",
			},
		),
		FilesParseFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_parse_failed_total",
				Help:      "Total number of profile files that failed to parse",
			},
		),
		ProfilesParsed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profiles_parsed_total",
				Help:      "Total number of profiles decoded",
			},
		),
		MeasurementsFound: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "measurements_parsed_total",
				Help:      "Total number of measurements decoded",
			},
		),
		RowsLoaded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_loaded_total",
				Help:      "Rows written to the store by table and outcome",
			},
			[]string{"table", "outcome"},
		),
		BatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "load_batch_duration_seconds",
				Help:      "Time to commit one load batch",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
			},
			[]string{"table"},
		),
		StageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall time of each pipeline stage",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~30m
			},
			[]string{"stage"},
		),
		StageFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_failures_total",
				Help:      "Total number of aborted stages",
			},
			[]string{"stage"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// NewHandler returns the mux served by StartServer.
func NewHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// StartServer listens on address and serves NewHandler until ctx is
// cancelled. A cancelled context is a clean shutdown and returns nil.
func StartServer(ctx context.Context, address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", address, err)
	}
	return Serve(ctx, ln)
}

// Serve runs the metrics server on ln until ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           NewHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// IncFilesFetched records a completed download.
func (m *Metrics) IncFilesFetched(bytes int64, took time.Duration) {
	m.FilesFetched.Inc()
	m.FetchBytes.Add(float64(bytes))
	m.FetchDuration.Observe(took.Seconds())
}

// IncFilesSkipped increments the skipped files counter.
func (m *Metrics) IncFilesSkipped() {
	m.FilesSkipped.Inc()
}

// IncFilesFailed increments the failed files counter.
func (m *Metrics) IncFilesFailed(reason string) {
	m.FilesFailed.WithLabelValues(reason).Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(operation string) {
	m.RetryAttempts.WithLabelValues(operation).Inc()
}

// SetInFlight sets the number of in-flight downloads.
func (m *Metrics) SetInFlight(n float64) {
	m.InFlight.Set(n)
}

// ObserveParsed records the outcome of parsing one file.
func (m *Metrics) ObserveParsed(profiles, measurements int, failed bool) {
	if failed {
		m.FilesParseFailed.Inc()
		return
	}
	m.FilesParsed.Inc()
	m.ProfilesParsed.Add(float64(profiles))
	m.MeasurementsFound.Add(float64(measurements))
}

// AddRowsLoaded adds to the rows loaded counter.
func (m *Metrics) AddRowsLoaded(table, outcome string, n int) {
	if n == 0 {
		return
	}
	m.RowsLoaded.WithLabelValues(table, outcome).Add(float64(n))
}

// ObserveBatchDuration records the time of one load batch.
func (m *Metrics) ObserveBatchDuration(table string, took time.Duration) {
	m.BatchDuration.WithLabelValues(table).Observe(took.Seconds())
}

// ObserveStage records the wall time of a stage and whether it aborted.
func (m *Metrics) ObserveStage(stage string, took time.Duration, failed bool) {
	m.StageDuration.WithLabelValues(stage).Observe(took.Seconds())
	if failed {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}
