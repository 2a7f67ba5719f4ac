package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/osmstore/pkg/monitoring"
)

const strongToken = "k3v9Qz7rLm2Xw8Np4Hs6"

func newTestTransport(t *testing.T, mutate func(*HTTPTransportConfig)) (*HTTPTransport, *httptest.Server) {
	t.Helper()
	config := DefaultHTTPTransportConfig()
	config.Addr = ":0"
	if mutate != nil {
		mutate(&config)
	}
	transport := NewHTTPTransport(mcpserver.NewMCPServer("test-server", "1.0.0"), config, discardLogger())
	srv := httptest.NewServer(transport.Handler())
	t.Cleanup(srv.Close)
	return transport, srv
}

func TestHTTPTransport_ServiceDiscovery(t *testing.T) {
	_, srv := newTestTransport(t, nil)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var discovery map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&discovery); err != nil {
		t.Fatal(err)
	}

	if discovery["service"] != "osmstore" {
		t.Errorf("service = %v", discovery["service"])
	}
	if discovery["transport"] != "HTTP+SSE" {
		t.Errorf("transport = %v", discovery["transport"])
	}
	endpoints, ok := discovery["endpoints"].(map[string]any)
	if !ok {
		t.Fatal("Expected endpoints to be a map")
	}
	if endpoints["sse"] != srv.URL+"/sse" || endpoints["message"] != srv.URL+"/message" {
		t.Errorf("endpoints = %v", endpoints)
	}
	auth := discovery["auth"].(map[string]any)
	if auth["required"] != false {
		t.Errorf("auth required = %v", auth["required"])
	}
}

func TestHTTPTransport_HealthEndpoint(t *testing.T) {
	transport, srv := newTestTransport(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if health["status"] != "ok" {
		t.Errorf("Expected status 'ok' without a checker, got %v", health["status"])
	}

	hc := monitoring.NewHealthChecker(monitoring.ServiceName, "test")
	defer hc.Shutdown()
	hc.SetStats(func() map[string]int { return map[string]int{"nodes": 7} })
	transport.SetHealthChecker(hc)

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var full monitoring.ServiceHealth
	if err := json.NewDecoder(resp.Body).Decode(&full); err != nil {
		t.Fatal(err)
	}
	if full.Status != "healthy" {
		t.Errorf("status = %s", full.Status)
	}
	store, ok := full.Metrics["store"].(map[string]any)
	if !ok || store["nodes"] != float64(7) {
		t.Errorf("store stats = %v", full.Metrics["store"])
	}

	for _, path := range []string{"/ready", "/live"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s = %d", path, resp.StatusCode)
		}
	}
}

func TestHTTPTransport_MessageEndpointWithoutSession(t *testing.T) {
	_, srv := newTestTransport(t, nil)

	resp, err := http.Post(srv.URL+"/message", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","method":"initialize","id":1}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestHTTPTransport_SSEHandshake(t *testing.T) {
	_, srv := newTestTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %s", ct)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id on the SSE response")
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			if !strings.Contains(line, "/message?sessionId=") {
				t.Errorf("endpoint event = %q", line)
			}
			return
		}
	}
	t.Fatal("no endpoint event received")
}

func TestHTTPTransport_BearerAuth(t *testing.T) {
	_, srv := newTestTransport(t, func(c *HTTPTransportConfig) {
		c.AuthType = "bearer"
		c.AuthToken = strongToken
	})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing", "/message", "", http.StatusBadRequest},
		{"wrong scheme", "/message", "Basic " + strongToken, http.StatusBadRequest},
		{"wrong token", "/message", "Bearer nope", http.StatusBadRequest},
		{"health is open", "/health", "", http.StatusOK},
		{"debug is open", "/sse/debug", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusBadRequest && resp.Header.Get("WWW-Authenticate") != "Bearer" {
				t.Error("expected a WWW-Authenticate challenge")
			}
		})
	}

	// A valid token reaches the message handler, which then wants a session.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/message", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+strongToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	rpcErr, _ := body["error"].(map[string]any)
	if msg, _ := rpcErr["message"].(string); msg == "Authentication required" {
		t.Error("valid token was rejected")
	}
}

func TestHTTPTransport_RateLimit(t *testing.T) {
	_, srv := newTestTransport(t, func(c *HTTPTransportConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})

	codes := make([]int, 3)
	for i := range codes {
		resp, err := http.Get(srv.URL + "/live")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		codes[i] = resp.StatusCode
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, expected [200 200 429]", codes)
	}
}

func TestHTTPTransport_SecurityHeaders(t *testing.T) {
	_, srv := newTestTransport(t, nil)

	resp, err := http.Get(srv.URL + "/live")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options")
	}
}

func TestHTTPTransport_DebugEndpoints(t *testing.T) {
	_, srv := newTestTransport(t, nil)

	for path, endpoint := range map[string]string{"/sse/debug": "/sse", "/message/debug": "/message"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		var debug map[string]any
		err = json.NewDecoder(resp.Body).Decode(&debug)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if debug["endpoint"] != endpoint {
			t.Errorf("%s endpoint = %v", path, debug["endpoint"])
		}
	}
}

func TestHTTPTransport_HTTPSRedirect(t *testing.T) {
	_, srv := newTestTransport(t, func(c *HTTPTransportConfig) { c.ForceHTTPS = true })

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(srv.URL + "/sse")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMovedPermanently {
		t.Errorf("Expected 301 redirect, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "https://") {
		t.Errorf("Expected HTTPS redirect, got %s", loc)
	}
}

func TestHTTPTransport_Shutdown(t *testing.T) {
	config := DefaultHTTPTransportConfig()
	config.Addr = "127.0.0.1:0"
	transport := NewHTTPTransport(mcpserver.NewMCPServer("test-server", "1.0.0"), config, discardLogger())

	errCh := make(chan error, 1)
	go func() {
		errCh <- transport.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := transport.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			t.Errorf("Unexpected error from Start(): %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Server did not stop within timeout")
	}
}
