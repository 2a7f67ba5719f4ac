package osm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/NERVsystems/osmstore/pkg/core"
	"github.com/NERVsystems/osmstore/pkg/entity"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
  <node id="1" lat="51.50" lon="-0.12"><tag k="amenity" v="cafe"/></node>
  <node id="2" lat="51.51" lon="-0.11"/>
  <node id="3" lat="51.52" lon="-0.10"/>
  <way id="10"><nd ref="2"/><nd ref="3"/><tag k="highway" v="footway"/></way>
</osm>`

var noRetry = core.RetryOptions{MaxAttempts: 1}

func testClient(srv *httptest.Server, opts ...Option) *Client {
	base := []Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRateLimit(0, 0),
		WithRetry(noRetry),
	}
	return NewClient(append(base, opts...)...)
}

func TestAPIURL(t *testing.T) {
	c := NewClient(WithBaseURL("https://example.org/api/xapi"))

	box := Extent{{-0.5, 51.6}, {0.25, 51.4}}
	want := "https://example.org/api/xapi?map?bbox=-0.5,51.4,0.25,51.6"
	if got := c.APIURL(box); got != want {
		t.Errorf("APIURL() = %s, expected %s", got, want)
	}

	b := entity.Bounds{Left: -0.5, Right: 0.25, Top: 51.6, Bottom: 51.4}
	if got := ExtentOf(b); got != box {
		t.Errorf("ExtentOf() = %v, expected %v", got, box)
	}
	if got := box.Bounds(); got != b {
		t.Errorf("Bounds() = %v, expected %v", got, b)
	}
}

func TestFetchSendsHeaders(t *testing.T) {
	var got http.Header
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		query = r.URL.RawQuery
		fmt.Fprint(w, sampleXML)
	}))
	defer srv.Close()

	c := testClient(srv, WithUserAgent("osmstore-test"))
	doc, err := c.Fetch(context.Background(), c.APIURL(Extent{{0, 1}, {1, 0}}))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if doc.Root == nil || doc.Root.Name != "osm" {
		t.Fatalf("unexpected root %+v", doc.Root)
	}

	if query != "map?bbox=0,0,1,1" {
		t.Errorf("unexpected query %q", query)
	}
	if ua := got.Get("User-Agent"); ua != "osmstore-test" {
		t.Errorf("User-Agent = %q", ua)
	}
	if _, ok := got["X-Requested-With"]; ok {
		t.Error("X-Requested-With must not be sent")
	}
}

func TestFetchGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "gzip" {
			t.Errorf("Accept-Encoding = %q", r.Header.Get("Accept-Encoding"))
		}
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		fmt.Fprint(zw, sampleXML)
		zw.Close()
	}))
	defer srv.Close()

	c := testClient(srv)
	doc, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if n := len(doc.Root.ChildrenNamed("node")); n != 3 {
		t.Errorf("expected 3 nodes, got %d", n)
	}
}

func TestFetchQueryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "You requested too many nodes", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(srv)
	_, err := c.Fetch(context.Background(), srv.URL)

	var qe *QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryError, got %v", err)
	}
	if qe.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d", qe.StatusCode)
	}
	if qe.Body != "You requested too many nodes" {
		t.Errorf("Body = %q", qe.Body)
	}
}

func TestFetchDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<osm><node></osm>")
	}))
	defer srv.Close()

	c := testClient(srv)
	_, err := c.Fetch(context.Background(), srv.URL)

	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestFetchBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleXML)
	}))
	defer srv.Close()

	c := testClient(srv, WithMaxBodySize(16))
	_, err := c.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, errBodyTooLarge) {
		t.Fatalf("expected body limit error, got %v", err)
	}
}

func TestFetchCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, sampleXML)
	}))
	defer srv.Close()

	c := testClient(srv, WithCache(8, time.Minute))
	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
			t.Fatalf("Fetch %d failed: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("expected 1 upstream request, got %d", got)
	}
}

func TestFetchSharesInflightRequests(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		fmt.Fprint(w, sampleXML)
	}))
	defer srv.Close()

	c := testClient(srv)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(context.Background(), srv.URL)
			errs <- err
		}()
	}

	// let every caller join the in-flight request
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Fetch failed: %v", err)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("expected 1 upstream request, got %d", got)
	}
}

func TestFetchRateLimitHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleXML)
	}))
	defer srv.Close()

	var waited time.Duration
	var responses int32
	hooks := &MonitoringHooks{
		OnRateLimit: func(service string, d time.Duration) { waited = d },
		OnResponse: func(service, operation string, d time.Duration, success bool) {
			if success {
				atomic.AddInt32(&responses, 1)
			}
		},
	}
	c := testClient(srv, WithRateLimit(10, 1), WithHooks(hooks))

	for i := 0; i < 2; i++ {
		if _, err := c.Fetch(context.Background(), fmt.Sprintf("%s/?n=%d", srv.URL, i)); err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
	}

	if waited < 50*time.Millisecond {
		t.Errorf("second request should have waited for the limiter, waited %v", waited)
	}
	if got := atomic.LoadInt32(&responses); got != 2 {
		t.Errorf("expected 2 successful responses, got %d", got)
	}
}

func TestPing(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c := testClient(srv)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	status.Store(http.StatusBadGateway)
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected Ping to fail on 502")
	}
}
