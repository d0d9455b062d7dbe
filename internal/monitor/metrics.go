package monitor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters for one invocation. mucsmake exits after each
// attempt, so metrics are flushed to a node_exporter textfile instead of
// being scraped.
type Metrics struct {
	Registry *prometheus.Registry

	AttemptsTotal   *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	FindingsTotal   *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	SubmissionBytes prometheus.Histogram
	OutputBytes     prometheus.Histogram
}

// NewMetrics creates and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mucs",
				Name:      "attempts_total",
				Help:      "Submission attempts by assignment and outcome.",
			},
			[]string{"assignment", "outcome"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mucs",
				Subsystem: "sandbox",
				Name:      "stage_duration_seconds",
				Help:      "Duration of sandbox stages in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),

		FindingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mucs",
				Name:      "findings_total",
				Help:      "Sandbox findings by kind.",
			},
			[]string{"kind"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mucs",
				Name:      "errors_total",
				Help:      "Pipeline aborts by error kind.",
			},
			[]string{"kind"},
		),

		SubmissionBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "mucs",
				Name:      "submission_size_bytes",
				Help:      "Size of submitted files in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "mucs",
				Subsystem: "sandbox",
				Name:      "output_size_bytes",
				Help:      "Size of captured program output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.AttemptsTotal,
		m.StageDuration,
		m.FindingsTotal,
		m.ErrorsTotal,
		m.SubmissionBytes,
		m.OutputBytes,
	)

	return m
}

func (m *Metrics) RecordAttempt(assignment, outcome string) {
	m.AttemptsTotal.WithLabelValues(assignment, outcome).Inc()
}

func (m *Metrics) RecordStage(stage string, durationSec float64) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSec)
}

func (m *Metrics) RecordFinding(kind string) {
	m.FindingsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// WriteTextfile writes the registry in text exposition format. An empty
// path disables the write.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
