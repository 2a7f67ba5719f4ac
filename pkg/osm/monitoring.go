package osm

import (
	"time"

	"github.com/NERVsystems/osmstore/pkg/monitoring"
)

// MonitoringHooks observe the requests a Client makes. Any hook may be nil.
type MonitoringHooks struct {
	// OnRequest is called before an HTTP request is attempted
	OnRequest func(service, operation string)

	// OnResponse is called once the request finished, successful or not
	OnResponse func(service, operation string, duration time.Duration, success bool)

	// OnRateLimit is called when the limiter made the request wait
	OnRateLimit func(service string, waitTime time.Duration)

	// OnError is called for failures that produced no HTTP status
	OnError func(service, errorType string)
}

// MetricsHooks reports to the Prometheus collectors of the monitoring
// package.
func MetricsHooks() *MonitoringHooks {
	return &MonitoringHooks{
		OnResponse:  monitoring.RecordExternalServiceRequest,
		OnRateLimit: monitoring.RecordRateLimitWait,
		OnError: func(service, errorType string) {
			monitoring.RecordError(service, errorType)
		},
	}
}

func (h *MonitoringHooks) request(service, operation string) {
	if h != nil && h.OnRequest != nil {
		h.OnRequest(service, operation)
	}
}

func (h *MonitoringHooks) response(service, operation string, d time.Duration, success bool) {
	if h != nil && h.OnResponse != nil {
		h.OnResponse(service, operation, d, success)
	}
}

func (h *MonitoringHooks) rateLimit(service string, wait time.Duration) {
	if h != nil && h.OnRateLimit != nil {
		h.OnRateLimit(service, wait)
	}
}

func (h *MonitoringHooks) fail(service, errorType string) {
	if h != nil && h.OnError != nil {
		h.OnError(service, errorType)
	}
}
