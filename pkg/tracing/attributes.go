package tracing

import "go.opentelemetry.io/otel/attribute"

// Attribute keys
const (
	AttrMCPToolName     = "mcp.tool.name"
	AttrMCPToolStatus   = "mcp.tool.status"
	AttrMCPToolDuration = "mcp.tool.duration_ms"
	AttrMCPResultSize   = "mcp.tool.result_size"

	AttrServiceName      = "osm.service.name"
	AttrServiceOperation = "osm.service.operation"
	AttrServiceURL       = "osm.service.url"
	AttrServiceStatus    = "osm.service.status"

	AttrCacheType = "osm.cache.type"
	AttrCacheHit  = "osm.cache.hit"
	AttrCacheKey  = "osm.cache.key"

	AttrRateLimitService = "osm.ratelimit.service"
	AttrRateLimitWaitMs  = "osm.ratelimit.wait_ms"

	// document parsing
	AttrParseNodes        = "osm.parse.nodes"
	AttrParseWays         = "osm.parse.ways"
	AttrParseRelations    = "osm.parse.relations"
	AttrParsePlaceholders = "osm.parse.placeholders"
	AttrParseSkipped      = "osm.parse.skipped"

	AttrBboxLeft   = "osm.bbox.left"
	AttrBboxRight  = "osm.bbox.right"
	AttrBboxTop    = "osm.bbox.top"
	AttrBboxBottom = "osm.bbox.bottom"

	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPPath       = "http.path"
	AttrHTTPSessionID  = "http.session_id"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Status values
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusRateLimited = "rate_limited"
)

// Service names
const (
	ServiceOSMAPI = "osm_api"
)

// Cache types
const (
	CacheTypeDocument = "document"
)

// MCPToolAttributes returns attributes for MCP tool execution
func MCPToolAttributes(toolName string, status string, durationMs int64, resultSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrMCPToolName, toolName),
		attribute.String(AttrMCPToolStatus, status),
		attribute.Int64(AttrMCPToolDuration, durationMs),
		attribute.Int(AttrMCPResultSize, resultSize),
	}
}

// ServiceAttributes returns attributes for external service calls
func ServiceAttributes(service, operation, url string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrServiceName, service),
		attribute.String(AttrServiceOperation, operation),
		attribute.String(AttrServiceURL, url),
		attribute.Int(AttrServiceStatus, status),
	}
}

// CacheAttributes returns attributes for cache operations
func CacheAttributes(cacheType string, hit bool, key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCacheType, cacheType),
		attribute.Bool(AttrCacheHit, hit),
		attribute.String(AttrCacheKey, key),
	}
}

// ParseAttributes describes the outcome of applying one document.
func ParseAttributes(nodes, ways, relations, placeholders, skipped int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrParseNodes, nodes),
		attribute.Int(AttrParseWays, ways),
		attribute.Int(AttrParseRelations, relations),
		attribute.Int(AttrParsePlaceholders, placeholders),
		attribute.Int(AttrParseSkipped, skipped),
	}
}

// BboxAttributes describes a query box.
func BboxAttributes(left, right, top, bottom float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64(AttrBboxLeft, left),
		attribute.Float64(AttrBboxRight, right),
		attribute.Float64(AttrBboxTop, top),
		attribute.Float64(AttrBboxBottom, bottom),
	}
}

// ErrorAttributes returns attributes for errors
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, "error"),
		attribute.String(AttrErrorMessage, err.Error()),
	}
}
