package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the judge.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	ExecutionErrors    *prometheus.CounterVec
	ActiveExecutions   prometheus.Gauge
	SubmissionsTotal   *prometheus.CounterVec
	SubmissionScore    prometheus.Histogram
	SecurityRejections *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	CleanupFailures    prometheus.Counter
	RequestsInFlight   prometheus.Gauge
	CodeSizeBytes      prometheus.Histogram
	OutputSizeBytes    prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "executions_total",
				Help:      "Total program executions by mode (run or submit) and status.",
			},
			[]string{"mode", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "judge",
				Name:      "execution_duration_seconds",
				Help:      "Wall-clock duration of program executions in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"mode"},
		),

		ExecutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "execution_errors_total",
				Help:      "Total execution failures by type.",
			},
			[]string{"type"},
		),

		ActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "judge",
				Name:      "active_executions",
				Help:      "Number of run or submit requests currently being judged.",
			},
		),

		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "submissions_total",
				Help:      "Total recorded submissions by verdict.",
			},
			[]string{"verdict"},
		),

		SubmissionScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "judge",
				Name:      "submission_score_ratio",
				Help:      "Score divided by maximum score for recorded submissions.",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),

		SecurityRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "security_rejections_total",
				Help:      "Total sources rejected by the static guard, by category.",
			},
			[]string{"category"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Experiment cache lookups by result.",
			},
			[]string{"result"},
		),

		CleanupFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "workspace_cleanup_failures_total",
				Help:      "Scratch workspaces that could not be removed.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "judge",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "judge",
				Name:      "code_size_bytes",
				Help:      "Size of submitted code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "judge",
				Name:      "output_size_bytes",
				Help:      "Size of program output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ExecutionErrors,
		m.ActiveExecutions,
		m.SubmissionsTotal,
		m.SubmissionScore,
		m.SecurityRejections,
		m.CacheLookups,
		m.CleanupFailures,
		m.RequestsInFlight,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
	)

	return m
}

// RecordExecution records metrics for one program run.
func (m *Metrics) RecordExecution(mode, status string, durationSec float64, outputBytes int) {
	m.ExecutionsTotal.WithLabelValues(mode, status).Inc()
	m.ExecutionDuration.WithLabelValues(mode).Observe(durationSec)
	m.OutputSizeBytes.Observe(float64(outputBytes))
}

// RecordError records an execution error by type.
func (m *Metrics) RecordError(errType string) {
	m.ExecutionErrors.WithLabelValues(errType).Inc()
}

// RecordSubmission records a ledger entry's verdict and score ratio.
func (m *Metrics) RecordSubmission(verdict string, score, maxScore int) {
	m.SubmissionsTotal.WithLabelValues(verdict).Inc()
	if maxScore > 0 {
		m.SubmissionScore.Observe(float64(score) / float64(maxScore))
	}
}

// RecordSecurityRejection records a static guard rejection.
func (m *Metrics) RecordSecurityRejection(category string) {
	m.SecurityRejections.WithLabelValues(category).Inc()
}

// RecordCacheLookup records a cache hit, miss or error.
func (m *Metrics) RecordCacheLookup(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}
