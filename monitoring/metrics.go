// Package monitoring provides metrics and observability for the price feed backend
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream price API metrics
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_upstream_requests_total",
			Help: "Total number of upstream price API requests",
		},
		[]string{"endpoint", "status"},
	)

	upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricefeed_upstream_request_duration_seconds",
			Help:    "Duration of upstream price API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)

	// Outbound rate limiter metrics
	limiterQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricefeed_limiter_queue_depth",
			Help: "Number of requests waiting for rate limiter admission",
		},
	)

	limiterInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricefeed_limiter_in_flight",
			Help: "Number of upstream requests currently in flight",
		},
	)

	limiterWindowRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pricefeed_limiter_window_requests",
			Help: "Requests dispatched within the trailing rate windows",
		},
		[]string{"window"},
	)

	// Circuit breaker metrics
	breakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricefeed_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"to"},
	)

	// Work queue metrics
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pricefeed_queue_depth",
			Help: "Number of work items by status",
		},
		[]string{"status"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_jobs_total",
			Help: "Total number of work-queue jobs processed",
		},
		[]string{"outcome"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricefeed_job_duration_seconds",
			Help:    "Duration of work-queue job processing",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// Scrape metrics
	scrapesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_scrapes_total",
			Help: "Total number of per-entity history scrapes",
		},
		[]string{"status"},
	)

	scrapePoints = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricefeed_scrape_points",
			Help:    "Number of history points returned per scrape",
			Buckets: []float64{0, 10, 30, 60, 90, 120, 180, 365},
		},
	)

	// Cache metrics
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_cache_hits_total",
			Help: "Total number of stale-cache hits",
		},
		[]string{"operation"},
	)

	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_cache_misses_total",
			Help: "Total number of stale-cache misses",
		},
		[]string{"operation"},
	)

	// Datastore metrics
	datastoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_datastore_operations_total",
			Help: "Total number of datastore operations",
		},
		[]string{"operation", "status"},
	)

	datastoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricefeed_datastore_operation_duration_seconds",
			Help:    "Duration of datastore operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricefeed_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// Aggregate collector metrics
	collectorPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_collector_polls_total",
			Help: "Total number of aggregate snapshot polls",
		},
		[]string{"interval", "status"},
	)

	collectorPollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricefeed_collector_poll_duration_seconds",
			Help:    "Duration of aggregate snapshot polls including persistence",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"interval", "status"},
	)

	// System metrics
	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricefeed_active_workers",
			Help: "Number of active queue-processor workers",
		},
	)
)

// RecordUpstreamRequest records metrics for an upstream price API call
func RecordUpstreamRequest(endpoint, status string, duration float64) {
	upstreamRequestsTotal.WithLabelValues(endpoint, status).Inc()
	upstreamRequestDuration.WithLabelValues(endpoint, status).Observe(duration)
}

// UpdateLimiterQueueDepth updates the limiter admission queue gauge
func UpdateLimiterQueueDepth(depth int) {
	limiterQueueDepth.Set(float64(depth))
}

// UpdateLimiterInFlight updates the in-flight request gauge
func UpdateLimiterInFlight(n int) {
	limiterInFlight.Set(float64(n))
}

// UpdateLimiterWindows updates the trailing-window request gauges
func UpdateLimiterWindows(lastMinute, lastHour int) {
	limiterWindowRequests.WithLabelValues("minute").Set(float64(lastMinute))
	limiterWindowRequests.WithLabelValues("hour").Set(float64(lastHour))
}

// UpdateBreakerState updates the circuit breaker state gauge
func UpdateBreakerState(state float64) {
	breakerState.Set(state)
}

// RecordBreakerTransition records a circuit breaker state transition
func RecordBreakerTransition(to string) {
	breakerTransitions.WithLabelValues(to).Inc()
}

// UpdateQueueDepth updates the work-queue depth gauge for a status
func UpdateQueueDepth(status string, depth int) {
	queueDepth.WithLabelValues(status).Set(float64(depth))
}

// RecordJob records metrics for a processed work-queue job
func RecordJob(outcome string, duration float64) {
	jobsTotal.WithLabelValues(outcome).Inc()
	jobDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordScrape records metrics for a per-entity history scrape
func RecordScrape(status string, points int) {
	scrapesTotal.WithLabelValues(status).Inc()
	if points >= 0 {
		scrapePoints.Observe(float64(points))
	}
}

// RecordCacheHit records a stale-cache hit
func RecordCacheHit(operation string) {
	cacheHits.WithLabelValues(operation).Inc()
}

// RecordCacheMiss records a stale-cache miss
func RecordCacheMiss(operation string) {
	cacheMisses.WithLabelValues(operation).Inc()
}

// RecordDatastoreOperation records datastore operation metrics
func RecordDatastoreOperation(operation, status string, duration float64) {
	datastoreOperations.WithLabelValues(operation, status).Inc()
	datastoreOperationDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration)
}

// RecordCollectorPoll records one aggregate snapshot poll
func RecordCollectorPoll(interval, status string, duration float64) {
	collectorPolls.WithLabelValues(interval, status).Inc()
	collectorPollDuration.WithLabelValues(interval, status).Observe(duration)
}

// UpdateActiveWorkers updates the active workers gauge
func UpdateActiveWorkers(count int) {
	activeWorkers.Set(float64(count))
}
