package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pipewatch/pipewatch/pkg/resilience"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Check metrics
	CheckRunsTotal *prometheus.CounterVec
	CheckDuration  *prometheus.HistogramVec
	CheckLag       *prometheus.GaugeVec
	VolumeZScore   *prometheus.GaugeVec

	// Connector metrics
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec

	// Resilience metrics
	CircuitBreakerState    *prometheus.GaugeVec
	CircuitBreakerRejected *prometheus.GaugeVec
	RetryAttempts          *prometheus.GaugeVec
	OperationTimeouts      *prometheus.GaugeVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "pipewatch",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		CheckRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "check_runs_total",
				Help:      "Total number of monitoring check runs",
			},
			[]string{"check", "status"},
		),
		CheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "check_duration_seconds",
				Help:      "Monitoring check duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"check"},
		),
		CheckLag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "table_freshness_lag_seconds",
				Help:      "Observed freshness lag per monitored table",
			},
			[]string{"connector", "table"},
		),
		VolumeZScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "volume_z_score",
				Help:      "Z-score of the most recent volume sample against its baseline",
			},
			[]string{"connector", "table"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "connector_query_duration_seconds",
				Help:      "Connector query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"connector", "operation"},
		),
		QueryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "connector_query_errors_total",
				Help:      "Total number of failed connector queries",
			},
			[]string{"connector", "operation"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		CircuitBreakerRejected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "circuit_breaker_rejected_calls",
				Help:      "Calls rejected while a circuit breaker was open",
			},
			[]string{"name"},
		),
		RetryAttempts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "retry_total_attempts",
				Help:      "Total attempts made by a retry policy",
			},
			[]string{"name"},
		),
		OperationTimeouts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "operation_timeouts_total",
				Help:      "Operations that exceeded their overall deadline",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.CheckRunsTotal,
		m.CheckDuration,
		m.CheckLag,
		m.VolumeZScore,
		m.QueryDuration,
		m.QueryErrors,
		m.CircuitBreakerState,
		m.CircuitBreakerRejected,
		m.RetryAttempts,
		m.OperationTimeouts,
	)

	return m
}

// RecordCheckRun records the outcome of one check execution
func (m *Metrics) RecordCheckRun(check, status string, duration time.Duration) {
	if m.CheckRunsTotal == nil {
		return
	}
	m.CheckRunsTotal.WithLabelValues(check, status).Inc()
	m.CheckDuration.WithLabelValues(check).Observe(duration.Seconds())
}

// RecordQuery records one connector query
func (m *Metrics) RecordQuery(connector, operation string, duration time.Duration, err error) {
	if m.QueryDuration == nil {
		return
	}
	m.QueryDuration.WithLabelValues(connector, operation).Observe(duration.Seconds())
	if err != nil {
		m.QueryErrors.WithLabelValues(connector, operation).Inc()
	}
}

// ExportBreakerStats publishes the current state of every registered breaker
func (m *Metrics) ExportBreakerStats(registry *resilience.CircuitBreakerRegistry) {
	if m.CircuitBreakerState == nil {
		return
	}

	for name, stats := range registry.GetAllStats() {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(stats.State))
		m.CircuitBreakerRejected.WithLabelValues(name).Set(float64(stats.RejectedCalls))
	}
}

// ExportRetryStats publishes retry attempt counters for a named policy
func (m *Metrics) ExportRetryStats(name string, stats resilience.RetryStats) {
	if m.RetryAttempts == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(name).Set(float64(stats.TotalAttempts))
}

// ExportTimeoutStats publishes timeout counters for a named manager
func (m *Metrics) ExportTimeoutStats(name string, stats resilience.TimeoutStats) {
	if m.OperationTimeouts == nil {
		return
	}
	m.OperationTimeouts.WithLabelValues(name).Set(float64(stats.TimeoutCount))
}
