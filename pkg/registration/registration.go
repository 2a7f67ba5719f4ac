// Package registration announces the service to a service registry and
// keeps the entry alive with heartbeats. Registration is optional: the
// server works the same when the registry is unreachable.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/NERVsystems/osmstore/pkg/core"
	"github.com/NERVsystems/osmstore/pkg/monitoring"
	"github.com/NERVsystems/osmstore/pkg/tracing"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultTimeout           = 5 * time.Second

	serviceRegistry = "registry"
)

// Config holds the configuration for service registration.
type Config struct {
	Enabled     bool
	RegistryURL string

	ServiceName string
	ServiceType string // defaults to "mcp"
	ServiceURL  string
	HealthURL   string

	// Internal URLs for container networks; optional.
	InternalURL       string
	InternalHealthURL string

	Version      string
	Capabilities []string
	Tools        []string
	Metadata     map[string]any

	// Stats, when set, is sent with every heartbeat under metadata.store.
	Stats func() map[string]int

	HeartbeatInterval time.Duration
	Timeout           time.Duration
}

// Request is the body of a registration or heartbeat.
type Request struct {
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	URL            string         `json:"url"`
	HealthURL      string         `json:"health_url"`
	InternalURL    string         `json:"internal_url,omitempty"`
	InternalHealth string         `json:"internal_health_url,omitempty"`
	Version        string         `json:"version"`
	Capabilities   []string       `json:"capabilities,omitempty"`
	Tools          []string       `json:"tools,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Response is the registry's answer to a heartbeat.
type Response struct {
	Status          string    `json:"status"`
	Name            string    `json:"name"`
	TTLSeconds      int       `json:"ttl_seconds"`
	NextHeartbeatBy time.Time `json:"next_heartbeat_by"`
}

// Client keeps the service registered.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
	retry      core.RetryOptions

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	registered bool
	lastTTL    time.Duration
}

// NewClient creates a registration client. A disabled config yields a
// client whose Start and Stop do nothing.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ServiceType == "" {
		cfg.ServiceType = "mcp"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:        cfg,
		logger:     logger.With("component", "registration"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry: core.RetryOptions{
			MaxAttempts:  2,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2,
		},
	}
}

// Start registers in the background and keeps heartbeating until ctx ends
// or Stop is called.
func (c *Client) Start(ctx context.Context) {
	if !c.cfg.Enabled {
		c.logger.Info("service registration disabled")
		return
	}
	if c.cfg.RegistryURL == "" {
		c.logger.Warn("service registration enabled but no registry URL configured")
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.heartbeatLoop(ctx)
}

// Stop deregisters and waits for the heartbeat loop to exit.
func (c *Client) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	c.deregister(ctx)
}

// IsRegistered reports whether the last heartbeat was accepted.
func (c *Client) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

// TTL returns the time-to-live granted by the last accepted heartbeat.
func (c *Client) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastTTL
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	c.register(ctx)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.register(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) request() Request {
	metadata := make(map[string]any, len(c.cfg.Metadata)+1)
	for k, v := range c.cfg.Metadata {
		metadata[k] = v
	}
	if c.cfg.Stats != nil {
		metadata["store"] = c.cfg.Stats()
	}

	return Request{
		Name:           c.cfg.ServiceName,
		Type:           c.cfg.ServiceType,
		URL:            c.cfg.ServiceURL,
		HealthURL:      c.cfg.HealthURL,
		InternalURL:    c.cfg.InternalURL,
		InternalHealth: c.cfg.InternalHealthURL,
		Version:        c.cfg.Version,
		Capabilities:   c.cfg.Capabilities,
		Tools:          c.cfg.Tools,
		Metadata:       metadata,
	}
}

// register sends one heartbeat. Failures only mark the client unregistered.
func (c *Client) register(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "registry.heartbeat")
	defer span.End()

	start := time.Now()
	resp, err := c.send(ctx, c.request())
	monitoring.RecordExternalServiceRequest(serviceRegistry, "register", time.Since(start), err == nil)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Debug("registration failed", "error", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.setRegistered(false, 0)
		return
	}

	ttl := time.Duration(resp.TTLSeconds) * time.Second
	span.SetAttributes(attribute.Int("registry.ttl_seconds", resp.TTLSeconds))
	if !c.IsRegistered() {
		c.logger.Info("registered with service registry",
			"name", c.cfg.ServiceName,
			"ttl", ttl)
	}
	if ttl > 0 && ttl <= c.cfg.HeartbeatInterval {
		c.logger.Warn("registry ttl is not longer than the heartbeat interval",
			"ttl", ttl,
			"interval", c.cfg.HeartbeatInterval)
	}
	c.setRegistered(true, ttl)
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding registration: %w", err)
	}

	endpoint := c.cfg.RegistryURL + "/api/register"
	resp, err := core.WithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	}, c.httpClient, c.retry)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("registry answered %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding registry response: %w", err)
	}
	return &out, nil
}

func (c *Client) deregister(ctx context.Context) {
	if !c.IsRegistered() {
		return
	}

	endpoint := c.cfg.RegistryURL + "/api/register/" + url.PathEscape(c.cfg.ServiceName)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		c.logger.Debug("failed to create deregistration request", "error", err)
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("deregistration failed", "error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		c.logger.Info("deregistered from service registry", "name", c.cfg.ServiceName)
	}
	c.setRegistered(false, 0)
}

func (c *Client) setRegistered(registered bool, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = registered
	c.lastTTL = ttl
}
