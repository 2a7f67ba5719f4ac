// Command osmstore serves an in-memory OpenStreetMap entity store over MCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/NERVsystems/osmstore/pkg/monitoring"
	"github.com/NERVsystems/osmstore/pkg/osm"
	"github.com/NERVsystems/osmstore/pkg/registration"
	"github.com/NERVsystems/osmstore/pkg/server"
	"github.com/NERVsystems/osmstore/pkg/store"
	"github.com/NERVsystems/osmstore/pkg/tools"
	"github.com/NERVsystems/osmstore/pkg/tracing"
	ver "github.com/NERVsystems/osmstore/pkg/version"
)

type options struct {
	showVersion bool
	debug       bool
	logFormat   string

	apiURL      string
	userAgent   string
	apiRPS      float64
	apiBurst    int
	cacheSize   int
	cacheTTL    time.Duration
	maxBody     int64
	loadTimeout time.Duration
	preload     []string

	enableHTTP    bool
	httpOnly      bool
	httpAddr      string
	httpBaseURL   string
	httpAuthType  string
	httpAuthToken string
	httpRateLimit float64
	httpRateBurst int
	tlsCert       string
	tlsKey        string
	forceHTTPS    bool

	enableMonitoring bool
	monitoringAddr   string

	enableRegistration bool
	registryURL        string
	serviceURL         string
	internalURL        string
}

func parseFlags() *options {
	o := &options{}
	defaults := server.DefaultHTTPTransportConfig()

	flag.BoolVar(&o.showVersion, "version", false, "Display version information")
	flag.BoolVar(&o.debug, "debug", envBool("debug", false), "Enable debug logging")
	flag.StringVar(&o.logFormat, "log-format", envString("log-format", "text"), "Log format: text or json")

	flag.StringVar(&o.apiURL, "api-url", envString("api-url", osm.DefaultAPIURL), "Base URL of the map API")
	flag.StringVar(&o.userAgent, "user-agent", envString("user-agent", osm.DefaultUserAgent), "User-Agent string for map API requests")
	flag.Float64Var(&o.apiRPS, "api-rps", envFloat("api-rps", 1), "Map API rate limit in requests per second (0 disables)")
	flag.IntVar(&o.apiBurst, "api-burst", envInt("api-burst", 1), "Map API rate limit burst size")
	flag.IntVar(&o.cacheSize, "cache-size", envInt("cache-size", 64), "Number of map responses to cache (0 disables)")
	flag.DurationVar(&o.cacheTTL, "cache-ttl", envDuration("cache-ttl", 5*time.Minute), "How long cached map responses stay valid")
	flag.Int64Var(&o.maxBody, "max-body", int64(envInt("max-body", osm.DefaultMaxBodySize)), "Largest map response accepted, in bytes")
	flag.DurationVar(&o.loadTimeout, "load-timeout", envDuration("load-timeout", tools.DefaultLoadTimeout), "Timeout for a single load tool call")
	flag.StringSliceVar(&o.preload, "preload", nil, "Area to load at startup as west,south,east,north (repeatable)")

	flag.BoolVar(&o.enableHTTP, "enable-http", envBool("enable-http", false), "Enable HTTP+SSE transport (in addition to stdio)")
	flag.BoolVar(&o.httpOnly, "http-only", envBool("http-only", false), "Run HTTP transport only, skip stdio (requires --enable-http)")
	flag.StringVar(&o.httpAddr, "http-addr", envString("http-addr", defaults.Addr), "HTTP server address")
	flag.StringVar(&o.httpBaseURL, "http-base-url", envString("http-base-url", ""), "Base URL for HTTP transport (auto-detected if empty)")
	flag.StringVar(&o.httpAuthType, "http-auth-type", envString("http-auth-type", defaults.AuthType), "HTTP authentication type: none or bearer")
	flag.StringVar(&o.httpAuthToken, "http-auth-token", envString("http-auth-token", ""), "HTTP authentication token")
	flag.Float64Var(&o.httpRateLimit, "http-rate-limit", envFloat("http-rate-limit", defaults.RateLimit), "HTTP requests per second per client IP (0 disables)")
	flag.IntVar(&o.httpRateBurst, "http-rate-burst", envInt("http-rate-burst", defaults.RateBurst), "HTTP rate limit burst size")
	flag.StringVar(&o.tlsCert, "tls-cert", envString("tls-cert", ""), "TLS certificate file")
	flag.StringVar(&o.tlsKey, "tls-key", envString("tls-key", ""), "TLS private key file")
	flag.BoolVar(&o.forceHTTPS, "force-https", envBool("force-https", false), "Redirect plain HTTP requests to HTTPS")

	flag.BoolVar(&o.enableMonitoring, "enable-monitoring", envBool("enable-monitoring", true), "Enable Prometheus metrics and health endpoints")
	flag.StringVar(&o.monitoringAddr, "monitoring-addr", envString("monitoring-addr", ":9090"), "Monitoring server address")

	flag.BoolVar(&o.enableRegistration, "enable-registration", envBool("enable-registration", false), "Register with a service registry")
	flag.StringVar(&o.registryURL, "registry-url", envString("registry-url", ""), "Service registry URL")
	flag.StringVar(&o.serviceURL, "service-url", envString("service-url", ""), "External URL where this service is accessible")
	flag.StringVar(&o.internalURL, "internal-url", envString("internal-url", ""), "Internal URL for container environments")

	flag.Parse()
	return o
}

func newLogger(o *options) *slog.Logger {
	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	// stdout belongs to the stdio transport.
	if o.logFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func main() {
	if err := godotenv.Load(".env", ".env.local"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, err)
	}

	o := parseFlags()
	if o.showVersion {
		fmt.Println(ver.String())
		return
	}

	logger := newLogger(o)
	slog.SetDefault(logger)

	if err := run(o, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(o *options, logger *slog.Logger) error {
	if o.httpOnly && !o.enableHTTP {
		return errors.New("--http-only requires --enable-http")
	}
	boxes, err := parseBoxes(o.preload)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitTracing(ctx, ver.BuildVersion)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()
	}

	logger.Info("starting OpenStreetMap entity store",
		"version", ver.BuildVersion,
		"api_url", o.apiURL,
		"api_rps", o.apiRPS,
		"api_burst", o.apiBurst,
		"cache_size", o.cacheSize,
		"max_body", humanize.IBytes(uint64(o.maxBody)),
		"http_enabled", o.enableHTTP,
		"monitoring_enabled", o.enableMonitoring)

	client := osm.NewClient(
		osm.WithBaseURL(o.apiURL),
		osm.WithUserAgent(o.userAgent),
		osm.WithRateLimit(o.apiRPS, o.apiBurst),
		osm.WithCache(o.cacheSize, o.cacheTTL),
		osm.WithMaxBodySize(o.maxBody),
		osm.WithHooks(osm.MetricsHooks()),
		osm.WithLogger(logger),
	)
	st := store.New(store.WithLogger(logger))
	conn := osm.NewConnection(client, st, logger)
	ws := tools.NewWorkspace(conn,
		tools.WithLoadTimeout(o.loadTimeout),
		tools.WithWorkspaceLogger(logger))
	registry := tools.NewRegistry(logger, ws)

	s, err := server.NewServer(registry, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if len(boxes) > 0 {
		preload(ctx, conn, boxes, logger)
	}

	var healthChecker *monitoring.HealthChecker
	if o.enableMonitoring {
		healthChecker = monitoring.NewHealthChecker(monitoring.ServiceName, ver.BuildVersion)
		defer healthChecker.Shutdown()
		healthChecker.SetStats(ws.Stats)

		apiMonitor := monitoring.NewConnectionMonitor(tracing.ServiceOSMAPI, healthChecker, conn.CheckHealth, 30*time.Second)
		apiMonitor.Start()
		defer apiMonitor.Stop()

		startMonitoringServer(ctx, o.monitoringAddr, healthChecker, logger)
	}

	if o.enableRegistration {
		svcURL, healthURL := serviceURLs(o.serviceURL, o.httpAddr, o.enableHTTP)
		internalHealth := ""
		if o.internalURL != "" {
			internalHealth = o.internalURL + "/health"
		}
		regClient := registration.NewClient(registration.Config{
			Enabled:           true,
			RegistryURL:       o.registryURL,
			ServiceName:       server.ServerName,
			ServiceURL:        svcURL,
			HealthURL:         healthURL,
			InternalURL:       o.internalURL,
			InternalHealthURL: internalHealth,
			Version:           ver.BuildVersion,
			Capabilities:      []string{"entity-store", "map-loading", "poi", "editing"},
			Tools:             registry.GetToolNames(),
			Metadata: map[string]any{
				"transport": map[string]bool{"stdio": !o.httpOnly, "http": o.enableHTTP},
			},
			Stats: ws.Stats,
		}, logger)
		regClient.Start(ctx)
		defer regClient.Stop()
	}

	if o.enableHTTP {
		cfg := server.DefaultHTTPTransportConfig()
		cfg.Addr = o.httpAddr
		cfg.BaseURL = o.httpBaseURL
		cfg.AuthType = o.httpAuthType
		cfg.AuthToken = o.httpAuthToken
		cfg.RateLimit = o.httpRateLimit
		cfg.RateBurst = o.httpRateBurst
		cfg.TLSCertFile = o.tlsCert
		cfg.TLSKeyFile = o.tlsKey
		cfg.ForceHTTPS = o.forceHTTPS

		transport := server.NewHTTPTransport(s.GetMCPServer(), cfg, logger)
		if healthChecker != nil {
			transport.SetHealthChecker(healthChecker)
		}

		go func() {
			logger.Info("transport_enabled", "type", "http", "addr", cfg.Addr)
			if err := transport.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP transport error", "error", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := transport.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown HTTP transport", "error", err)
			}
		}()
	}

	switch {
	case !o.enableHTTP:
		logger.Info("transport_enabled", "type", "stdio", "mode", "blocking")
		return s.RunWithContext(ctx)
	case o.httpOnly:
		logger.Info("server_ready", "transports", []string{"http"}, "http_only", true)
	default:
		go func() {
			logger.Info("transport_enabled", "type", "stdio", "mode", "background")
			if err := s.RunWithContext(ctx); err != nil {
				logger.Error("stdio transport error", "error", err)
			}
		}()
		logger.Info("server_ready", "transports", []string{"stdio", "http"})
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// preload fills the store before any transport starts. A failed download
// is logged and the server starts with whatever was applied.
func preload(ctx context.Context, conn *osm.Connection, boxes []osm.Extent, logger *slog.Logger) {
	start := time.Now()
	reports, err := conn.LoadAreas(ctx, boxes)
	for i, rep := range reports {
		logger.Info("preloaded area",
			"box", boxes[i].Bounds().String(),
			"nodes", len(rep.Nodes),
			"ways", rep.Ways,
			"relations", rep.Relations)
	}
	if err != nil {
		logger.Error("preload failed", "error", err, "loaded", len(reports), "requested", len(boxes))
		return
	}
	logger.Info("preload complete", "areas", len(boxes), "duration", time.Since(start))
}

func startMonitoringServer(ctx context.Context, addr string, hc *monitoring.HealthChecker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", hc.HealthHandler())
	mux.HandleFunc("/ready", hc.ReadinessHandler())
	mux.HandleFunc("/live", hc.LivenessHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting monitoring server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("monitoring server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown monitoring server", "error", err)
		}
	}()
}
