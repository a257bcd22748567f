// Package metrics provides Prometheus metrics for the lootbox gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Spin outcome label values.
const (
	OutcomeSuccess           = "success"
	OutcomeFulfillmentFailed = "fulfillment_failed"
	OutcomeInsufficient      = "insufficient_credits"
	OutcomeStoreUnavailable  = "store_unavailable"
	OutcomeInvalid           = "invalid"
	OutcomeReplayed          = "replayed"
	OutcomeInProgress        = "in_progress"
)

const (
	defaultNamespace     = "lootbox"
	defaultSubsystem     = "gateway"
	latencyBucketStartMs = 1
	latencyBucketFactor  = 2
	latencyBucketCount   = 14
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Spin transaction
	spins               *prometheus.CounterVec
	creditsDebited      prometheus.Counter
	fulfillmentFailures prometheus.Counter
	spinLatency         prometheus.Histogram
	lockWait            prometheus.Histogram

	// External store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// Ledger and reconciliation
	ledgerErrors       *prometheus.CounterVec
	reconcileAttempts  prometheus.Counter
	reconcileSuccesses prometheus.Counter
	reconcileFailures  prometheus.Counter

	// Queue and workers
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	queueDropped  prometheus.Counter
	workerCount   prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // avoids default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
	// Runtime gauges come from the system updater; only build info is taken
	// from the stock collectors.
	customRegistry.MustRegister(collectors.NewBuildInfoCollector())
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        defaultNamespace,
		subsystem:        defaultSubsystem,
		histogramBuckets: prometheus.ExponentialBuckets(latencyBucketStartMs, latencyBucketFactor, latencyBucketCount),
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.spins = auto.NewCounterVec(m.counterOpts("spins_total", "Spin calls by box and outcome"), []string{"box", "outcome"})
	m.creditsDebited = auto.NewCounter(m.counterOpts("credits_debited_total", "Credits debited by committed spins"))
	m.fulfillmentFailures = auto.NewCounter(m.counterOpts("fulfillment_failures_total", "Spins whose order creation failed after the debit"))
	m.spinLatency = auto.NewHistogram(m.histogramOpts("spin_latency_milliseconds", "End-to-end spin latency in milliseconds"))
	m.lockWait = auto.NewHistogram(m.histogramOpts("lock_wait_milliseconds", "Time spent waiting for the per-customer lock"))

	m.storeLatency = auto.NewHistogramVec(m.histogramOpts("store_latency_milliseconds", "Commerce backend call latency by operation"), []string{"op"})
	m.storeErrors = auto.NewCounterVec(m.counterOpts("store_errors_total", "Commerce backend call failures by operation"), []string{"op"})

	m.ledgerErrors = auto.NewCounterVec(m.counterOpts("ledger_errors_total", "Ledger write failures by operation"), []string{"op"})
	m.reconcileAttempts = auto.NewCounter(m.counterOpts("reconcile_attempts_total", "Fulfillment retries attempted by the reconciler"))
	m.reconcileSuccesses = auto.NewCounter(m.counterOpts("reconcile_successes_total", "Fulfillment retries that produced an order"))
	m.reconcileFailures = auto.NewCounter(m.counterOpts("reconcile_failures_total", "Fulfillment retries that failed again"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("reconcile_queue_size", "Ledger entries waiting for a fulfillment retry"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("reconcile_queue_capacity", "Capacity of the reconciliation queue"))
	m.queueDropped = auto.NewCounter(m.counterOpts("reconcile_queue_dropped_total", "Entries not enqueued because the queue was full or closed"))
	m.workerCount = auto.NewGauge(m.gaugeOpts("reconcile_worker_count", "Running reconciliation workers"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds"), []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Allocated heap bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_milliseconds", "Average GC pause in milliseconds"))
}

// RecordSpin counts one spin call by box and outcome.
func RecordSpin(box, outcome string) {
	globalManager.spins.WithLabelValues(box, outcome).Inc()
}

// RecordCreditsDebited adds committed debits.
func RecordCreditsDebited(amount int64) {
	if amount > 0 {
		globalManager.creditsDebited.Add(float64(amount))
	}
}

func RecordFulfillmentFailure() {
	globalManager.fulfillmentFailures.Inc()
}

func RecordSpinLatency(latencyMs float64) {
	globalManager.spinLatency.Observe(latencyMs)
}

func RecordLockWait(latencyMs float64) {
	globalManager.lockWait.Observe(latencyMs)
}

// RecordStoreCall observes one commerce backend call; failed marks an error.
func RecordStoreCall(op string, latencyMs float64, failed bool) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
	if failed {
		globalManager.storeErrors.WithLabelValues(op).Inc()
	}
}

func RecordLedgerError(op string) {
	globalManager.ledgerErrors.WithLabelValues(op).Inc()
}

func RecordReconcileAttempt() {
	globalManager.reconcileAttempts.Inc()
}

func RecordReconcileSuccess() {
	globalManager.reconcileSuccesses.Inc()
}

func RecordReconcileFailure() {
	globalManager.reconcileFailures.Inc()
}

func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

func RecordQueueDropped() {
	globalManager.queueDropped.Inc()
}

func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the registry served on /healthz.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
