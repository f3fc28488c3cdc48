package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Simulation Metrics
	SimulationRunsTotal    *prometheus.CounterVec
	SimulationRunDuration  prometheus.Histogram
	SimulationStepDuration prometheus.Histogram
	SimulationStepsSkipped prometheus.Counter
	ResultBatchSize        prometheus.Histogram
	RunningScenarios       prometheus.Gauge

	// Baseline Metrics
	BaselineCacheTotal      *prometheus.CounterVec
	BaselineLookupDuration  prometheus.Histogram
	SyntheticBaselinesTotal prometheus.Counter

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec

	// Event Metrics
	EventsPublishedTotal *prometheus.CounterVec
}

// NewCollector creates a new metrics collector
func NewCollector(namespace string) *Collector {
	return &Collector{
		APIRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		SimulationRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "simulation_runs_total",
				Help:      "Total number of simulation runs by outcome",
			},
			[]string{"outcome"}, // "completed", "failed", "cancelled"
		),

		SimulationRunDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "simulation_run_duration_seconds",
				Help:      "End-to-end duration of simulation runs in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		SimulationStepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "simulation_step_duration_seconds",
				Help:      "Duration of individual time-step computations in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),

		SimulationStepsSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "simulation_steps_skipped_total",
				Help:      "Total number of time steps skipped due to computation errors",
			},
		),

		ResultBatchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "simulation_result_batch_size",
				Help:      "Number of result rows persisted per completed run",
				Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
			},
		),

		RunningScenarios: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "running_scenarios",
				Help:      "Number of scenario simulations currently executing",
			},
		),

		BaselineCacheTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "baseline_cache_total",
				Help:      "Baseline profile cache lookups by result",
			},
			[]string{"result"}, // "hit", "miss"
		),

		BaselineLookupDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "baseline_lookup_duration_seconds",
				Help:      "Duration of baseline profile resolution in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
			},
		),

		SyntheticBaselinesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "synthetic_baselines_total",
				Help:      "Total number of runs that fell back to a synthetic baseline",
			},
		),

		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		EventsPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of events published by topic and status",
			},
			[]string{"topic", "status"},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordRunOutcome increments the simulation run counter for an outcome
func (c *Collector) RecordRunOutcome(outcome string) {
	c.SimulationRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordBaselineCache records a baseline cache hit or miss
func (c *Collector) RecordBaselineCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.BaselineCacheTotal.WithLabelValues(result).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordEventPublished records an event publish attempt by topic
func (c *Collector) RecordEventPublished(topic string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.EventsPublishedTotal.WithLabelValues(topic, status).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
