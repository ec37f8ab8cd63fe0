// Package metrics provides Prometheus metrics for the dreamscore scoring service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default bucket layout: 1ms .. ~32s.
const (
	defaultBucketStart  = 1
	defaultBucketFactor = 2
	defaultBucketCount  = 16
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	constLabels    map[string]string
	registry       prometheus.Registerer

	// Submission lifecycle
	submissionsReceived  *prometheus.CounterVec
	submissionsDuplicate prometheus.Counter
	submissionsValidated *prometheus.CounterVec
	submissionsInvalid   *prometheus.CounterVec
	submissionsScored    *prometheus.CounterVec
	submissionsFailed    *prometheus.CounterVec

	// Scoring engine
	scoringLatency        *prometheus.HistogramVec
	permutationIterations prometheus.Counter
	permutationLatency    prometheus.Histogram

	// Leaderboard
	leaderboardUpserts *prometheus.CounterVec
	leaderboardRows    *prometheus.GaugeVec
	rankingRuns        *prometheus.CounterVec

	// Gold standard cache
	goldCacheHits          prometheus.Counter
	goldCacheMisses        prometheus.Counter
	goldCacheInvalidations prometheus.Counter

	// Queue and workers
	queueSize               prometheus.Gauge
	queueCapacity           prometheus.Gauge
	queueEnqueued           prometheus.Counter
	queueRejected           *prometheus.CounterVec
	workerCount             prometheus.Gauge
	workerBusy              prometheus.Gauge
	workerProcessingLatency prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // service registry without default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "dreamscore",
		subsystem:      "scoring",
		latencyBuckets: prometheus.ExponentialBuckets(defaultBucketStart, defaultBucketFactor, defaultBucketCount),
		constLabels:    map[string]string{},
		registry:       prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: m.latencyBuckets}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	auto := promauto.With(m.registry)

	m.submissionsReceived = auto.NewCounterVec(m.counterOpts("submissions_received_total", "Submissions accepted for processing"), []string{"evaluation"})
	m.submissionsDuplicate = auto.NewCounter(m.counterOpts("submissions_duplicate_total", "Submissions rejected because their id was already seen"))
	m.submissionsValidated = auto.NewCounterVec(m.counterOpts("submissions_validated_total", "Submissions that passed validation"), []string{"evaluation"})
	m.submissionsInvalid = auto.NewCounterVec(m.counterOpts("submissions_invalid_total", "Submissions that failed validation, by failed check"), []string{"evaluation", "check"})
	m.submissionsScored = auto.NewCounterVec(m.counterOpts("submissions_scored_total", "Submissions scored successfully"), []string{"evaluation", "question"})
	m.submissionsFailed = auto.NewCounterVec(m.counterOpts("submissions_failed_total", "Submissions that ended in the ERROR state"), []string{"evaluation"})

	m.scoringLatency = auto.NewHistogramVec(m.histogramOpts("scoring_latency_milliseconds", "End-to-end scoring latency, permutation test included"), []string{"question"})
	m.permutationIterations = auto.NewCounter(m.counterOpts("permutation_iterations_total", "Label-shuffle permutations evaluated"))
	m.permutationLatency = auto.NewHistogram(m.histogramOpts("permutation_latency_milliseconds", "Duration of a full permutation test"))

	m.leaderboardUpserts = auto.NewCounterVec(m.counterOpts("leaderboard_upserts_total", "Leaderboard rows inserted or updated"), []string{"evaluation"})
	m.leaderboardRows = auto.NewGaugeVec(m.gaugeOpts("leaderboard_rows", "Rows currently on a leaderboard"), []string{"evaluation"})
	m.rankingRuns = auto.NewCounterVec(m.counterOpts("ranking_runs_total", "Rank aggregation passes"), []string{"evaluation"})

	m.goldCacheHits = auto.NewCounter(m.counterOpts("gold_cache_hits_total", "Gold standard loads served from cache"))
	m.goldCacheMisses = auto.NewCounter(m.counterOpts("gold_cache_misses_total", "Gold standard loads read from disk"))
	m.goldCacheInvalidations = auto.NewCounter(m.counterOpts("gold_cache_invalidations_total", "Gold standard cache entries dropped after a file change"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Submissions waiting in the queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum queue capacity"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueued_total", "Submissions enqueued"))
	m.queueRejected = auto.NewCounterVec(m.counterOpts("queue_rejected_total", "Enqueue attempts rejected, by reason"), []string{"reason"})
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Configured scoring workers"))
	m.workerBusy = auto.NewGauge(m.gaugeOpts("worker_busy", "Workers currently processing a submission"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds", "Time a worker spends on one submission"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration"), []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_total", "Errors by component and type"), []string{"component", "type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Allocated heap bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_milliseconds", "Average GC pause"))
}

// Submission lifecycle.

func RecordSubmissionReceived(evaluation string) {
	globalManager.submissionsReceived.WithLabelValues(evaluation).Inc()
}

func RecordSubmissionDuplicate() {
	globalManager.submissionsDuplicate.Inc()
}

func RecordSubmissionValidated(evaluation string) {
	globalManager.submissionsValidated.WithLabelValues(evaluation).Inc()
}

func RecordSubmissionInvalid(evaluation, check string) {
	globalManager.submissionsInvalid.WithLabelValues(evaluation, check).Inc()
}

func RecordSubmissionScored(evaluation, question string) {
	globalManager.submissionsScored.WithLabelValues(evaluation, question).Inc()
}

func RecordSubmissionFailed(evaluation string) {
	globalManager.submissionsFailed.WithLabelValues(evaluation).Inc()
}

// Scoring engine.

func RecordScoringLatency(question string, latencyMs float64) {
	globalManager.scoringLatency.WithLabelValues(question).Observe(latencyMs)
}

func RecordPermutationIterations(n int) {
	globalManager.permutationIterations.Add(float64(n))
}

func RecordPermutationLatency(latencyMs float64) {
	globalManager.permutationLatency.Observe(latencyMs)
}

// Leaderboard.

func RecordLeaderboardUpsert(evaluation string) {
	globalManager.leaderboardUpserts.WithLabelValues(evaluation).Inc()
}

func UpdateLeaderboardRows(evaluation string, rows int) {
	globalManager.leaderboardRows.WithLabelValues(evaluation).Set(float64(rows))
}

func RecordRankingRun(evaluation string) {
	globalManager.rankingRuns.WithLabelValues(evaluation).Inc()
}

// Gold standard cache.

func RecordGoldCacheHit() {
	globalManager.goldCacheHits.Inc()
}

func RecordGoldCacheMiss() {
	globalManager.goldCacheMisses.Inc()
}

func RecordGoldCacheInvalidation() {
	globalManager.goldCacheInvalidations.Inc()
}

// Queue and workers.

func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

func RecordQueueRejected(reason string) {
	globalManager.queueRejected.WithLabelValues(reason).Inc()
}

func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

func IncWorkerBusy() {
	globalManager.workerBusy.Inc()
}

func DecWorkerBusy() {
	globalManager.workerBusy.Dec()
}

func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// HTTP.

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// Errors.

func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System.

func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the registry the global manager registers on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
