package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Service name for metrics
	ServiceName = "osmstore"
)

var (
	// MCP request metrics
	MCPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmstore_mcp_requests_total",
			Help: "Total number of MCP requests processed",
		},
		[]string{"tool", "status"},
	)

	MCPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osmstore_mcp_request_duration_seconds",
			Help:    "MCP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"tool"},
	)

	// External service metrics
	ExternalServiceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmstore_external_service_requests_total",
			Help: "Total number of external service requests",
		},
		[]string{"service", "operation", "status"},
	)

	ExternalServiceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osmstore_external_service_request_duration_seconds",
			Help:    "External service request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"service", "operation"},
	)

	// Rate limiting metrics
	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osmstore_rate_limit_wait_duration_seconds",
			Help:    "Time spent waiting for rate limits",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"service"},
	)

	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmstore_rate_limit_exceeded_total",
			Help: "Total number of requests rejected by a rate limiter",
		},
		[]string{"service"},
	)

	// Response cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmstore_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmstore_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Store metrics
	StoreEntities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "osmstore_store_entities",
			Help: "Number of entities currently registered, by kind",
		},
		[]string{"kind"},
	)

	StorePOIs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osmstore_store_pois",
			Help: "Number of nodes currently indexed as points of interest",
		},
	)

	ParsedElementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmstore_parsed_elements_total",
			Help: "Total number of document elements registered by the parser",
		},
		[]string{"element"},
	)

	SkippedElementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmstore_skipped_elements_total",
			Help: "Total number of document elements skipped as malformed",
		},
		[]string{"element"},
	)

	PlaceholdersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "osmstore_placeholders_total",
			Help: "Total number of placeholder entities synthesized for relation members",
		},
	)

	LocalCreationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmstore_local_creations_total",
			Help: "Total number of entities created locally under negative ids",
		},
		[]string{"kind"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmstore_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "osmstore_system_info",
			Help: "System information",
		},
		[]string{"version", "go_version", "build_commit", "build_date"},
	)

	GoRoutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osmstore_goroutines",
			Help: "Number of goroutines",
		},
	)

	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osmstore_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)
)

// Service health and info structures
type ServiceHealth struct {
	Service       string                 `json:"service"`
	Version       string                 `json:"version"`
	Status        string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime        time.Duration          `json:"uptime"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	StartTime     time.Time              `json:"start_time,omitempty"`
	Connections   map[string]ConnStatus  `json:"connections"`
	Metrics       map[string]interface{} `json:"metrics,omitempty"`
}

type ConnStatus struct {
	Status    string `json:"status"`               // "connected", "disconnected", "error"
	Latency   int64  `json:"latency_ms,omitempty"` // milliseconds
	LastError string `json:"last_error,omitempty"`
}

// Helper functions for common metric updates
func RecordMCPRequest(tool string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	MCPRequestsTotal.WithLabelValues(tool, status).Inc()
	MCPRequestDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordExternalServiceRequest(service, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	ExternalServiceRequestsTotal.WithLabelValues(service, operation, status).Inc()
	ExternalServiceRequestDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func RecordCacheHit(cacheType string) {
	CacheHits.WithLabelValues(cacheType).Inc()
}

func RecordCacheMiss(cacheType string) {
	CacheMisses.WithLabelValues(cacheType).Inc()
}

func RecordRateLimitWait(service string, duration time.Duration) {
	RateLimitWaitTime.WithLabelValues(service).Observe(duration.Seconds())
}

func RecordRateLimitExceeded(service string) {
	RateLimitExceeded.WithLabelValues(service).Inc()
}

func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// UpdateStoreSize publishes the registry size for one entity kind.
func UpdateStoreSize(kind string, n int) {
	StoreEntities.WithLabelValues(kind).Set(float64(n))
}

func UpdatePOICount(n int) {
	StorePOIs.Set(float64(n))
}

func RecordParsedElement(element string) {
	ParsedElementsTotal.WithLabelValues(element).Inc()
}

func RecordSkippedElement(element string) {
	SkippedElementsTotal.WithLabelValues(element).Inc()
}

func RecordPlaceholder() {
	PlaceholdersTotal.Inc()
}

func RecordLocalCreation(kind string) {
	LocalCreationsTotal.WithLabelValues(kind).Inc()
}
