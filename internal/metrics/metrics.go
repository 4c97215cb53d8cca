package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gantry_sessions_opened_total",
			Help: "Total number of client sessions opened",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_sessions_active",
			Help: "Number of currently open sessions",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_sessions_closed_total",
			Help: "Total number of sessions closed",
		},
		[]string{"reason"},
	)

	// RPC metrics
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_rpc_requests_total",
			Help: "Total number of JSON-RPC requests",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gantry_rpc_request_duration_seconds",
			Help:    "JSON-RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RPCInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_rpc_in_flight",
			Help: "Number of JSON-RPC requests currently being served",
		},
	)

	RPCCancellations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gantry_rpc_cancellations_total",
			Help: "Total number of client-requested cancellations",
		},
	)

	// Upstream client metrics
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_upstream_requests_total",
			Help: "Total number of upstream GraphQL requests",
		},
		[]string{"operation", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gantry_upstream_request_duration_seconds",
			Help:    "Upstream GraphQL request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	UpstreamRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gantry_upstream_retries_total",
			Help: "Total number of upstream request retries",
		},
	)

	UpstreamInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_upstream_in_flight",
			Help: "Number of upstream requests currently in flight",
		},
	)

	UpstreamRateLimitRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_upstream_rate_limit_remaining",
			Help: "Remaining upstream rate-limit budget",
		},
	)

	UpstreamRateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gantry_upstream_rate_limit_waits_total",
			Help: "Total number of sends delayed by the rate budget",
		},
	)

	// Search metrics
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_searches_total",
			Help: "Total number of unified searches",
		},
		[]string{"status"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gantry_search_duration_seconds",
			Help:    "Unified search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SearchFanOutSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gantry_search_fan_out_size",
			Help:    "Number of resource types queried per search",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8},
		},
	)

	// Result cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gantry_cache_hits_total",
			Help: "Total number of result cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gantry_cache_misses_total",
			Help: "Total number of result cache misses",
		},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_cache_evictions_total",
			Help: "Total number of result cache evictions",
		},
		[]string{"reason"},
	)

	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_cache_size",
			Help: "Current number of result cache entries",
		},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_cache_invalidations_total",
			Help: "Total number of resource-scoped cache invalidations",
		},
		[]string{"resource_type"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_circuit_breaker_state",
			Help: "Upstream circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	CircuitBreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gantry_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips to open",
		},
	)

	// Auth metrics
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_auth_failures_total",
			Help: "Total number of rejected credentials",
		},
		[]string{"token_type"},
	)

	// Rate-limit metrics
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_rate_limit_rejections_total",
			Help: "Total number of requests shed by the rate limiter",
		},
		[]string{"limiter"},
	)

	// Policy metrics
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_policy_decisions_total",
			Help: "Total number of policy decisions",
		},
		[]string{"decision", "mode"},
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_events_published_total",
			Help: "Total number of events published on the in-process bus",
		},
		[]string{"topic"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_events_dropped_total",
			Help: "Total number of events dropped on slow subscribers",
		},
		[]string{"topic"},
	)

	// Audit metrics
	AuditEventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_audit_events_total",
			Help: "Total number of audit events emitted",
		},
		[]string{"event_type", "severity"},
	)

	AuditEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gantry_audit_events_dropped_total",
			Help: "Total number of audit events dropped due to a full buffer",
		},
	)

	// Health metrics
	HealthCheckStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gantry_health_check_status",
			Help: "Latest health check status per component (0=healthy, 1=degraded, 2=unhealthy)",
		},
		[]string{"check"},
	)
)

// RecordRPCMetrics records metrics for one served JSON-RPC request.
func RecordRPCMetrics(method, status string, durationSeconds float64) {
	RPCRequestsTotal.WithLabelValues(method, status).Inc()
	RPCRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordUpstreamMetrics records metrics for one upstream GraphQL call.
func RecordUpstreamMetrics(operation, status string, durationSeconds float64) {
	UpstreamRequestsTotal.WithLabelValues(operation, status).Inc()
	if durationSeconds > 0 {
		UpstreamRequestDuration.WithLabelValues(operation).Observe(durationSeconds)
	}
}

// RecordSearchMetrics records metrics for one unified search.
func RecordSearchMetrics(status string, fanOut int, durationSeconds float64) {
	SearchesTotal.WithLabelValues(status).Inc()
	SearchDuration.Observe(durationSeconds)
	if fanOut > 0 {
		SearchFanOutSize.Observe(float64(fanOut))
	}
}
