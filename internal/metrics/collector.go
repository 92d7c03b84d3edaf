// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the Prometheus series of the core: backend
// dispatches, translation rejections, applied batches, asset transfers,
// cache effectiveness, and the sidecar's HTTP surface.
type Collector struct {
	backendRequestsTotal   *prometheus.CounterVec
	backendRequestDuration *prometheus.HistogramVec

	translateRejectsTotal *prometheus.CounterVec

	applyBatchesTotal   *prometheus.CounterVec
	applyCommandsTotal  prometheus.Counter
	applyBatchDuration  prometheus.Histogram
	applyUndoneCommands prometheus.Counter

	fetchTotal    *prometheus.CounterVec
	fetchBytes    prometheus.Histogram
	fetchDuration prometheus.Histogram
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	cacheEvicted  prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a Collector registered on reg. A nil reg falls back
// to the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.backendRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of model backend dispatches",
		},
		[]string{"backend", "outcome"},
	)
	c.backendRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Model backend dispatch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	c.translateRejectsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translate_rejects_total",
			Help:      "Completions rejected during translation, by reason",
		},
		[]string{"reason"},
	)

	c.applyBatchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_batches_total",
			Help:      "Command batches applied against the scene, by outcome",
		},
		[]string{"outcome"},
	)
	c.applyCommandsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_commands_total",
			Help:      "Individual scene mutations issued",
		},
	)
	c.applyUndoneCommands = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_undone_commands_total",
			Help:      "Compensating undo calls issued after a batch failure",
		},
	)
	c.applyBatchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_batch_duration_seconds",
			Help:      "Batch apply duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.fetchTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_fetch_total",
			Help:      "Asset fetch attempts, by outcome",
		},
		[]string{"outcome"},
	)
	c.fetchBytes = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "asset_fetch_bytes",
			Help:      "Downloaded asset sizes in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)
	c.fetchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "asset_fetch_duration_seconds",
			Help:      "Asset transfer duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
	c.cacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_cache_hits_total",
			Help:      "Fetches served from the content-addressed cache",
		},
	)
	c.cacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_cache_misses_total",
			Help:      "Fetches that required a network transfer",
		},
	)
	c.cacheEvicted = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_cache_evicted_total",
			Help:      "Cache entries evicted to honor the size cap",
		},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

// RecordBackendRequest records one backend dispatch.
func (c *Collector) RecordBackendRequest(backend, outcome string, duration time.Duration) {
	c.backendRequestsTotal.WithLabelValues(backend, outcome).Inc()
	c.backendRequestDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordTranslateReject records one rejected completion.
func (c *Collector) RecordTranslateReject(reason string) {
	c.translateRejectsTotal.WithLabelValues(reason).Inc()
}

// RecordApply records one batch apply.
func (c *Collector) RecordApply(outcome string, applied, undone int, duration time.Duration) {
	c.applyBatchesTotal.WithLabelValues(outcome).Inc()
	c.applyCommandsTotal.Add(float64(applied))
	c.applyUndoneCommands.Add(float64(undone))
	c.applyBatchDuration.Observe(duration.Seconds())
}

// RecordFetch records one asset fetch attempt.
func (c *Collector) RecordFetch(outcome string, bytes int64, duration time.Duration) {
	c.fetchTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		c.fetchBytes.Observe(float64(bytes))
	}
	c.fetchDuration.Observe(duration.Seconds())
}

// RecordCacheHit records a fetch served without a transfer.
func (c *Collector) RecordCacheHit() { c.cacheHits.Inc() }

// RecordCacheMiss records a fetch that needed a transfer.
func (c *Collector) RecordCacheMiss() { c.cacheMisses.Inc() }

// RecordCacheEviction records entries evicted by the size cap.
func (c *Collector) RecordCacheEviction(n int) { c.cacheEvicted.Add(float64(n)) }

// RecordHTTPRequest records one sidecar HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
