package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	metrics := []prometheus.Collector{
		MCPRequestsTotal,
		MCPRequestDuration,
		ExternalServiceRequestsTotal,
		ExternalServiceRequestDuration,
		RateLimitWaitTime,
		RateLimitExceeded,
		CacheHits,
		CacheMisses,
		StoreEntities,
		StorePOIs,
		ParsedElementsTotal,
		SkippedElementsTotal,
		PlaceholdersTotal,
		LocalCreationsTotal,
		ErrorsTotal,
		SystemInfo,
		GoRoutines,
		MemoryUsage,
	}

	for _, metric := range metrics {
		if metric == nil {
			t.Error("Metric is nil")
		}
	}
}

func TestRecordMCPRequest(t *testing.T) {
	MCPRequestsTotal.Reset()

	RecordMCPRequest("test_tool", 100*time.Millisecond, true)
	if got := testutil.ToFloat64(MCPRequestsTotal.WithLabelValues("test_tool", "success")); got != 1 {
		t.Errorf("Expected 1 successful request, got %v", got)
	}

	RecordMCPRequest("test_tool", 200*time.Millisecond, false)
	if got := testutil.ToFloat64(MCPRequestsTotal.WithLabelValues("test_tool", "error")); got != 1 {
		t.Errorf("Expected 1 failed request, got %v", got)
	}
}

func TestRecordExternalServiceRequest(t *testing.T) {
	ExternalServiceRequestsTotal.Reset()

	RecordExternalServiceRequest("osm_api", "map", 500*time.Millisecond, true)
	if got := testutil.ToFloat64(ExternalServiceRequestsTotal.WithLabelValues("osm_api", "map", "success")); got != 1 {
		t.Errorf("Expected 1 successful external request, got %v", got)
	}

	RecordExternalServiceRequest("osm_api", "map", 300*time.Millisecond, false)
	if got := testutil.ToFloat64(ExternalServiceRequestsTotal.WithLabelValues("osm_api", "map", "error")); got != 1 {
		t.Errorf("Expected 1 failed external request, got %v", got)
	}
}

func TestCacheMetrics(t *testing.T) {
	CacheHits.Reset()
	CacheMisses.Reset()

	RecordCacheHit("document")
	if got := testutil.ToFloat64(CacheHits.WithLabelValues("document")); got != 1 {
		t.Errorf("Expected 1 cache hit, got %v", got)
	}

	RecordCacheMiss("document")
	if got := testutil.ToFloat64(CacheMisses.WithLabelValues("document")); got != 1 {
		t.Errorf("Expected 1 cache miss, got %v", got)
	}
}

func TestStoreMetrics(t *testing.T) {
	StoreEntities.Reset()
	ParsedElementsTotal.Reset()
	SkippedElementsTotal.Reset()
	LocalCreationsTotal.Reset()

	UpdateStoreSize("node", 12)
	UpdateStoreSize("way", 3)
	if got := testutil.ToFloat64(StoreEntities.WithLabelValues("node")); got != 12 {
		t.Errorf("Expected 12 nodes, got %v", got)
	}
	if got := testutil.ToFloat64(StoreEntities.WithLabelValues("way")); got != 3 {
		t.Errorf("Expected 3 ways, got %v", got)
	}

	UpdatePOICount(4)
	if got := testutil.ToFloat64(StorePOIs); got != 4 {
		t.Errorf("Expected 4 POIs, got %v", got)
	}

	RecordParsedElement("node")
	RecordParsedElement("node")
	RecordSkippedElement("way")
	if got := testutil.ToFloat64(ParsedElementsTotal.WithLabelValues("node")); got != 2 {
		t.Errorf("Expected 2 parsed nodes, got %v", got)
	}
	if got := testutil.ToFloat64(SkippedElementsTotal.WithLabelValues("way")); got != 1 {
		t.Errorf("Expected 1 skipped way, got %v", got)
	}

	before := testutil.ToFloat64(PlaceholdersTotal)
	RecordPlaceholder()
	if got := testutil.ToFloat64(PlaceholdersTotal); got != before+1 {
		t.Errorf("Expected placeholder counter to grow by 1, got %v -> %v", before, got)
	}

	RecordLocalCreation("relation")
	if got := testutil.ToFloat64(LocalCreationsTotal.WithLabelValues("relation")); got != 1 {
		t.Errorf("Expected 1 local relation, got %v", got)
	}
}

func TestRateLimitMetrics(t *testing.T) {
	RateLimitWaitTime.Reset()

	RecordRateLimitWait("osm_api", 1*time.Second)
	if got := testutil.CollectAndCount(RateLimitWaitTime); got != 1 {
		t.Errorf("Expected 1 rate limit series, got %d", got)
	}

	RateLimitExceeded.Reset()
	RecordRateLimitExceeded("http")
	RecordRateLimitExceeded("http")
	if got := testutil.ToFloat64(RateLimitExceeded.WithLabelValues("http")); got != 2 {
		t.Errorf("Expected 2 rejections, got %v", got)
	}
}

func TestErrorMetrics(t *testing.T) {
	ErrorsTotal.Reset()

	RecordError("osm", "NETWORK_ERROR")
	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("osm", "NETWORK_ERROR")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
}

func BenchmarkRecordMCPRequest(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RecordMCPRequest("benchmark_tool", 100*time.Millisecond, true)
	}
}

func BenchmarkRecordExternalServiceRequest(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RecordExternalServiceRequest("benchmark_service", "benchmark_op", 100*time.Millisecond, true)
	}
}

func BenchmarkRecordParsedElement(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RecordParsedElement("node")
	}
}
