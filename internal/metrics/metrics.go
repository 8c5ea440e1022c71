// Package metrics records build metrics for the forex-centuries pipeline on a private
// Prometheus registry. A build is a batch job, so the registry is not served over HTTP;
// it is written once per run to a node_exporter compatible textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Recorder manages the metrics of one build run
type Recorder struct {
	config   config.MetricsConfig
	logger   *logger.ComponentLogger
	registry *prometheus.Registry
	start    time.Time

	rowsWritten      *prometheus.CounterVec
	sourceFailures   *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	tableEntities    *prometheus.GaugeVec
	findings         *prometheus.GaugeVec
	buildInfo        *prometheus.GaugeVec
	lastSuccess      prometheus.Gauge
	buildDuration    prometheus.Gauge
	retriesPerformed prometheus.Counter

	mu     sync.Mutex
	counts map[string]float64
}

// NewRecorder creates a recorder bound to a fresh registry
func NewRecorder(cfg config.MetricsConfig, loggerMgr *logger.LoggerManager) *Recorder {
	ns := cfg.Namespace
	if ns == "" {
		ns = "forex"
	}

	r := &Recorder{
		config:   cfg,
		logger:   loggerMgr.GetComponentLogger("metrics"),
		registry: prometheus.NewRegistry(),
		start:    time.Now(),
		counts:   make(map[string]float64),

		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "output",
			Name:      "rows_written_total",
			Help:      "Rows written per published table",
		}, []string{"table"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "build",
			Name:      "issues_total",
			Help:      "Isolated build issues by component and error type",
		}, []string{"component", "type"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "build",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		tableEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "output",
			Name:      "entities",
			Help:      "Distinct entities per published table",
		}, []string{"table"}),
		findings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "validate",
			Name:      "findings",
			Help:      "Quality check findings by severity",
		}, []string{"severity"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "build_info",
			Help:      "Build run metadata",
		}, []string{"run_id", "version"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "build",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last build without fatal issues",
		}),
		buildDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "Wall time of the whole build",
		}),
		retriesPerformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "build",
			Name:      "io_retries_total",
			Help:      "Retried source file reads",
		}),
	}

	r.registry.MustRegister(
		r.rowsWritten, r.sourceFailures, r.stageDuration, r.tableEntities,
		r.findings, r.buildInfo, r.lastSuccess, r.buildDuration, r.retriesPerformed,
		collectors.NewGoCollector(),
	)
	return r
}

// Registry exposes the underlying registry, mainly for tests
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// SetBuildInfo labels the run
func (r *Recorder) SetBuildInfo(runID, version string) {
	r.buildInfo.WithLabelValues(runID, version).Set(1)
}

// RecordRows adds rows written to a table
func (r *Recorder) RecordRows(table string, rows int) {
	r.rowsWritten.WithLabelValues(table).Add(float64(rows))
	r.bump("rows:"+table, float64(rows))
}

// RecordEntities sets the number of entities in a table
func (r *Recorder) RecordEntities(table string, n int) {
	r.tableEntities.WithLabelValues(table).Set(float64(n))
}

// RecordIssue counts an isolated failure or warning
func (r *Recorder) RecordIssue(component, errorType string) {
	r.sourceFailures.WithLabelValues(component, errorType).Inc()
	r.bump("issue:"+errorType, 1)
}

// RecordRetries counts retried reads
func (r *Recorder) RecordRetries(n int64) {
	if n > 0 {
		r.retriesPerformed.Add(float64(n))
	}
}

// ObserveStage records the duration of a stage
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// TimeStage runs fn and records its duration under stage
func (r *Recorder) TimeStage(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.ObserveStage(stage, time.Since(start))
	return err
}

// RecordFindings sets the quality check finding counts
func (r *Recorder) RecordFindings(bySeverity map[string]int) {
	for severity, n := range bySeverity {
		r.findings.WithLabelValues(severity).Set(float64(n))
	}
}

// Finish stamps the build duration and, when the build succeeded, the success time
func (r *Recorder) Finish(success bool) {
	r.buildDuration.Set(time.Since(r.start).Seconds())
	if success {
		r.lastSuccess.SetToCurrentTime()
	}
}

// Count returns a locally tracked total, used for the build summary
func (r *Recorder) Count(key string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func (r *Recorder) bump(key string, v float64) {
	r.mu.Lock()
	r.counts[key] += v
	r.mu.Unlock()
}

// WriteTextfile writes the registry in the text exposition format to path.
// Disabled metrics make this a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if !r.config.Enabled {
		r.logger.Debug("metrics disabled, skipping textfile")
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	r.logger.Info("metrics written", "path", path)
	return nil
}
