// Package osm talks to the OpenStreetMap map API and feeds the responses
// into a store.
package osm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/osmstore/pkg/core"
	"github.com/NERVsystems/osmstore/pkg/entity"
	"github.com/NERVsystems/osmstore/pkg/monitoring"
	"github.com/NERVsystems/osmstore/pkg/osmdoc"
	"github.com/NERVsystems/osmstore/pkg/tracing"
)

const (
	// DefaultAPIURL serves the XAPI-compatible map call.
	DefaultAPIURL = "https://overpass-api.de/api/xapi"

	// DefaultUserAgent is the default User-Agent string
	DefaultUserAgent = "osmstore/0.1.0"

	// DefaultMaxBodySize caps a single response.
	DefaultMaxBodySize = 256 << 20

	service = tracing.ServiceOSMAPI
)

// Extent is a pair of opposite box corners as lon/lat points: the
// north-west corner first, then the south-east one.
type Extent [2]orb.Point

// ExtentOf converts bounds to an Extent.
func ExtentOf(b entity.Bounds) Extent {
	return Extent{{b.Left, b.Top}, {b.Right, b.Bottom}}
}

// Bounds converts the extent back to bounds.
func (e Extent) Bounds() entity.Bounds {
	return entity.Bounds{Left: e[0][0], Top: e[0][1], Right: e[1][0], Bottom: e[1][1]}
}

// QueryError is returned for a response other than 200 OK.
type QueryError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *QueryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("osm api %s: %s", e.URL, e.Status)
	}
	return fmt.Sprintf("osm api %s: %s: %s", e.URL, e.Status, e.Body)
}

// DecodeError is returned when a response body is not a usable document.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Client fetches map documents. It is safe for concurrent use.
type Client struct {
	baseURL     string
	userAgent   string
	httpClient  *http.Client
	limiter     *rate.Limiter
	retry       core.RetryOptions
	maxBodySize int64
	cache       *expirable.LRU[string, []byte]
	group       singleflight.Group
	hooks       *MonitoringHooks
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "?") }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit limits outgoing requests. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithRetry(opts core.RetryOptions) Option {
	return func(c *Client) { c.retry = opts }
}

// WithCache keeps up to size response bodies for ttl. size <= 0 disables
// the cache.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		if size <= 0 {
			c.cache = nil
			return
		}
		c.cache = expirable.NewLRU[string, []byte](size, nil, ttl)
	}
}

func WithMaxBodySize(n int64) Option {
	return func(c *Client) { c.maxBodySize = n }
}

func WithHooks(h *MonitoringHooks) Option {
	return func(c *Client) { c.hooks = h }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for DefaultAPIURL limited to one request per
// second, without a response cache.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultAPIURL,
		userAgent:   DefaultUserAgent,
		httpClient:  core.DefaultClient,
		limiter:     rate.NewLimiter(rate.Limit(1), 1),
		retry:       core.DefaultRetryOptions,
		maxBodySize: DefaultMaxBodySize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// APIURL builds the map call for a box:
// base?map?bbox=west,south,east,north.
func (c *Client) APIURL(box Extent) string {
	coords := []float64{box[0][0], box[1][1], box[1][0], box[0][1]}
	parts := make([]string, len(coords))
	for i, v := range coords {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return c.baseURL + "?map?bbox=" + strings.Join(parts, ",")
}

// Fetch downloads and decodes the document at url.
//
// Concurrent fetches of the same url share one request. The call returns
// when ctx ends even if the request is still outstanding.
func (c *Client) Fetch(ctx context.Context, url string) (*osmdoc.Document, error) {
	ctx, span := tracing.StartSpan(ctx, "osm.fetch",
		trace.WithAttributes(attribute.String(tracing.AttrServiceURL, url)),
	)
	defer span.End()

	body, err := c.body(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	doc, err := osmdoc.Decode(bytes.NewReader(body))
	if err != nil {
		c.hooks.fail(service, "decode_error")
		err = &DecodeError{URL: url, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return doc, nil
}

func (c *Client) body(ctx context.Context, url string) ([]byte, error) {
	if c.cache != nil {
		if body, ok := c.cache.Get(url); ok {
			monitoring.RecordCacheHit(tracing.CacheTypeDocument)
			tracing.SetAttributes(ctx, tracing.CacheAttributes(tracing.CacheTypeDocument, true, url)...)
			return body, nil
		}
		monitoring.RecordCacheMiss(tracing.CacheTypeDocument)
	}

	// The shared request is detached from the first caller's cancellation;
	// it is bounded by the HTTP client timeout instead.
	ch := c.group.DoChan(url, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if c.httpClient.Timeout == 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, 2*time.Minute)
			defer cancel()
		}
		body, err := c.download(fetchCtx, url)
		if err == nil && c.cache != nil {
			c.cache.Add(url, body)
		}
		return body, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		c.hooks.fail(service, "rate_limit_wait_error")
		return nil, err
	}

	c.hooks.request(service, "map")
	start := time.Now()

	resp, err := core.WithRetry(ctx, c.newRequest(url), c.httpClient, c.retry)
	if err != nil {
		c.hooks.fail(service, "request_error")
		c.hooks.response(service, "map", time.Since(start), false)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := c.readBody(resp)
	c.hooks.response(service, "map", time.Since(start), err == nil && resp.StatusCode == http.StatusOK)
	if err != nil {
		c.hooks.fail(service, "read_error")
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		qe := &QueryError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
		if len(body) > 512 {
			body = body[:512]
		}
		qe.Body = strings.TrimSpace(string(body))
		c.logger.Warn("map request failed", "url", url, "status", resp.StatusCode)
		return nil, qe
	}

	c.logger.Info("downloaded map data",
		"url", url,
		"size", humanize.Bytes(uint64(len(body))),
		"duration", time.Since(start))
	return body, nil
}

func (c *Client) newRequest(url string) core.RequestFactory {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/xml, text/xml")
		req.Header.Set("Accept-Encoding", "gzip")
		// never send X-Requested-With
		req.Header.Del("X-Requested-With")
		return req, nil
	}
}

var errBodyTooLarge = errors.New("response body too large")

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip body: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	limit := c.maxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %s", errBodyTooLarge, humanize.Bytes(uint64(limit)))
	}
	return body, nil
}

// wait blocks on the rate limiter, reporting waits to the span and hooks.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil || c.limiter.Allow() {
		return nil
	}

	start := time.Now()
	tracing.AddEvent(ctx, "rate_limit_wait",
		trace.WithAttributes(attribute.String(tracing.AttrRateLimitService, service)),
	)

	err := c.limiter.Wait(ctx)

	waited := time.Since(start)
	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrRateLimitService, service),
		attribute.Int64(tracing.AttrRateLimitWaitMs, waited.Milliseconds()),
	)
	c.hooks.rateLimit(service, waited)
	return err
}

// Ping checks that the API answers at all. Any status below 500 counts as
// reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("creating health check request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("osm api health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("osm api health check returned status %d", resp.StatusCode)
	}
	return nil
}
