// Package api is the HTTP observability surface of the daemon. It
// serves read-only node state over REST, relays the daemon's event bus
// to WebSocket clients, and exposes Prometheus metrics. Everything
// that mutates node state stays on the unix socket, guarded by
// filesystem permissions; this server never accepts a write.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/samizdat-net/samizdat/internal/client"
	"github.com/samizdat-net/samizdat/internal/config"
	"github.com/samizdat-net/samizdat/internal/events"
	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/internal/metrics"
	"github.com/samizdat-net/samizdat/internal/util"
)

// Server is the HTTP API server.
type Server struct {
	config     *ServerConfig
	httpServer *http.Server
	listener   net.Listener
	mu         sync.RWMutex
	running    bool

	// Daemon bridge for reading node state
	daemonBridge *DaemonBridge

	// WebSocket hub and the daemon bus it relays
	wsHub      *WebSocketHub
	bus        *events.Bus
	wsUpgrader websocket.Upgrader

	// Metrics collector
	metricsCollector *metrics.PrometheusCollector

	version string

	// Per-IP rate limiters
	rateLimiters sync.Map

	// Cancels the hub, relay, and limiter cleanup goroutines
	runCtx    context.Context
	runCancel context.CancelFunc
}

// rateLimiterEntry holds a rate limiter and the last time it was used
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	// Listen settings
	ListenAddr string `yaml:"listen_addr"` // e.g. "127.0.0.1:7700"

	// Daemon connection
	DaemonSocketPath string `yaml:"daemon_socket_path"`
	DaemonPoolSize   int    `yaml:"daemon_pool_size"`

	// Rate limiting, per client IP
	RateLimit       int           `yaml:"rate_limit"` // requests per window
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`

	// Connection and body limits
	MaxConcurrentConns int   `yaml:"max_concurrent_conns"`
	MaxRequestSize     int64 `yaml:"max_request_size"`

	// Proxy trust (only enable behind a trusted reverse proxy)
	TrustProxy bool `yaml:"trust_proxy"`

	// CORS
	EnableCORS     bool     `yaml:"enable_cors"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Timeouts
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`

	// WebSocket event feed
	EnableWebSocket bool `yaml:"enable_websocket"`

	// Profiling. Exposes goroutine stacks and heap dumps, off by default.
	EnablePprof bool `yaml:"enable_pprof"`
}

// DefaultServerConfig returns the default server configuration. The
// listen address is loopback-only; operators who expose the API put a
// reverse proxy in front and enable TrustProxy.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:         "127.0.0.1:7700",
		DaemonSocketPath:   client.DefaultSocketPath(),
		DaemonPoolSize:     4,
		RateLimit:          100,
		RateLimitWindow:    time.Minute,
		RateLimitBurst:     20,
		MaxConcurrentConns: 100,
		MaxRequestSize:     1 << 20,
		EnableCORS:         true,
		AllowedOrigins:     []string{},
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        120 * time.Second,
		EnableWebSocket:    true,
	}
}

// LoadConfigFromDaemon builds a server configuration from the daemon's
// config file.
func LoadConfigFromDaemon(cfg *config.Config) *ServerConfig {
	serverCfg := DefaultServerConfig()

	serverCfg.DaemonSocketPath = cfg.Daemon.SocketPath
	if cfg.API.ListenAddress != "" {
		serverCfg.ListenAddr = cfg.API.ListenAddress
	}
	if cfg.API.RateLimitRequests > 0 {
		serverCfg.RateLimit = cfg.API.RateLimitRequests
	}
	if cfg.API.RateLimitWindowSecs > 0 {
		serverCfg.RateLimitWindow = time.Duration(cfg.API.RateLimitWindowSecs) * time.Second
	}
	if cfg.API.MaxConcurrentConns > 0 {
		serverCfg.MaxConcurrentConns = cfg.API.MaxConcurrentConns
	}
	if cfg.API.MaxRequestSize > 0 {
		serverCfg.MaxRequestSize = int64(cfg.API.MaxRequestSize)
	}
	if cfg.API.ReadTimeoutSecs > 0 {
		serverCfg.ReadTimeout = time.Duration(cfg.API.ReadTimeoutSecs) * time.Second
	}
	if cfg.API.WriteTimeoutSecs > 0 {
		serverCfg.WriteTimeout = time.Duration(cfg.API.WriteTimeoutSecs) * time.Second
	}
	if cfg.API.IdleTimeoutSecs > 0 {
		serverCfg.IdleTimeout = time.Duration(cfg.API.IdleTimeoutSecs) * time.Second
	}

	return serverCfg
}

// NewServer creates a new HTTP API server
func NewServer(cfg *ServerConfig) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}

	s := &Server{
		config:  cfg,
		version: "dev",
	}

	if cfg.DaemonSocketPath != "" {
		s.daemonBridge = NewDaemonBridge(cfg.DaemonSocketPath, cfg.DaemonPoolSize)
	}

	if cfg.EnableWebSocket {
		s.wsHub = NewWebSocketHub()
	}

	// Browser clients must come from an allowed origin. Non-browser
	// clients send no Origin header and pass.
	s.wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return s.originAllowed(origin)
		},
	}

	return s
}

// SetEventBus sets the daemon event bus relayed to WebSocket clients.
func (s *Server) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

// SetVersion sets the version string reported by the health endpoint.
func (s *Server) SetVersion(version string) {
	if version != "" {
		s.version = version
	}
}

// SetDaemonBridge sets the daemon bridge
func (s *Server) SetDaemonBridge(bridge *DaemonBridge) {
	s.daemonBridge = bridge
}

// GetDaemonBridge returns the daemon bridge
func (s *Server) GetDaemonBridge() *DaemonBridge {
	return s.daemonBridge
}

// GetWebSocketHub returns the WebSocket hub
func (s *Server) GetWebSocketHub() *WebSocketHub {
	return s.wsHub
}

// Addr returns the bound listen address, or empty when not running.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listener and starts serving. The bind happens
// synchronously so a taken port fails here, not in a goroutine's log.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("api server already running")
	}
	s.running = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
	}
	if s.config.MaxConcurrentConns > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConcurrentConns)
	}

	s.mu.Lock()
	s.listener = ln
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.mu.Unlock()

	if s.config.RateLimit > 0 {
		s.startRateLimiterCleanup(runCtx)
	}

	if s.wsHub != nil {
		util.SafeGoWithName("api-ws-hub", func() {
			s.wsHub.Run(runCtx)
		})
		if s.bus != nil {
			util.SafeGoWithName("api-event-relay", func() {
				s.relayEvents(runCtx)
			})
		}
	}

	router := s.buildRouter()

	// ReadHeaderTimeout bounds header parsing without killing long-lived
	// WebSocket connections the way ReadTimeout would. WriteTimeout stays
	// zero; the event feed sets its own per-message write deadlines and
	// the REST handlers are fast.
	readHdrTimeout := s.config.ReadHeaderTimeout
	if readHdrTimeout == 0 {
		readHdrTimeout = s.config.ReadTimeout
	}
	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: readHdrTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	util.SafeGoWithName("api-http-serve", func() {
		logging.Info("http api listening",
			"addr", ln.Addr().String(),
			logging.Component("api"))

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Error("http api server error",
				"error", err.Error(),
				logging.Component("api"))
		}
	})

	return nil
}

// Stop drains in-flight requests and shuts the server down. Stopping a
// server that never started is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	var shutdownErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("http shutdown: %w", err)
		}
	}

	if s.runCancel != nil {
		s.runCancel()
	}

	if s.daemonBridge != nil {
		s.daemonBridge.Close()
	}

	logging.Info("http api stopped", logging.Component("api"))
	return shutdownErr
}

// buildRouter builds the HTTP router with all handlers
func (s *Server) buildRouter() http.Handler {
	mux := http.NewServeMux()

	// Read-only daemon state
	mux.HandleFunc("/v1/status", s.withMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/peers", s.withMiddleware(s.handlePeers))
	mux.HandleFunc("/v1/networks", s.withMiddleware(s.handleNetworks))
	mux.HandleFunc("/v1/anonymity", s.withMiddleware(s.handleAnonymity))

	// WebSocket event feed
	if s.config.EnableWebSocket && s.wsHub != nil {
		mux.HandleFunc("/v1/events", s.withMiddleware(s.handleWebSocket))
	}

	// Prometheus scrape endpoint. Not rate limited so a scraper sharing
	// an IP with a polling dashboard never misses a scrape.
	mux.HandleFunc("/metrics", s.withCORS(s.handleMetrics))

	// Probes (no middleware)
	mux.HandleFunc("/healthz", s.handleHealthCheck)
	mux.HandleFunc("/readyz", s.handleReadyz)

	if s.config.EnablePprof {
		mux.HandleFunc("/debug/pprof/", s.withMiddleware(pprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", s.withMiddleware(pprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", s.withMiddleware(pprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", s.withMiddleware(pprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", s.withMiddleware(pprof.Trace))
		logging.Info("pprof endpoints enabled", logging.Component("api"))
	}

	var handler http.Handler = mux
	if s.config.MaxRequestSize > 0 {
		handler = http.MaxBytesHandler(handler, s.config.MaxRequestSize)
	}

	// Wrap the entire mux with global CORS so even unmatched routes get
	// CORS headers. Without this, preflight OPTIONS to unknown paths
	// returns 404 without CORS, which browsers report as a CORS error
	// masking the real 404.
	if s.config.EnableCORS {
		handler = s.globalCORSMiddleware(handler)
	}
	return handler
}

// globalCORSMiddleware wraps an entire handler tree with CORS headers.
func (s *Server) globalCORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withCORS wraps a handler with CORS support only (no rate limiting)
func (s *Server) withCORS(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.EnableCORS {
			s.setCORSHeaders(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		handler(w, r)
	}
}

// withMiddleware wraps a handler with CORS and per-IP rate limiting.
// There is no authentication tier: every route is read-only and the
// default bind is loopback.
func (s *Server) withMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.EnableCORS {
			s.setCORSHeaders(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		if s.config.RateLimit > 0 {
			ip := s.extractClientIP(r)
			limiter := s.getRateLimiter(ip)
			if !limiter.Allow() {
				logging.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
					logging.Component("api"))
				retryAfter := int(s.config.RateLimitWindow / time.Second)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": "rate limit exceeded"}`))
				return
			}
		}

		handler(w, r)
	}
}

// getRateLimiter returns the rate limiter for the given IP address.
// It creates a new limiter if one does not already exist.
func (s *Server) getRateLimiter(ip string) *rate.Limiter {
	now := time.Now()

	if val, ok := s.rateLimiters.Load(ip); ok {
		entry := val.(*rateLimiterEntry)
		entry.lastSeen = now
		return entry.limiter
	}

	rps := rate.Limit(float64(s.config.RateLimit) / s.config.RateLimitWindow.Seconds())
	limiter := rate.NewLimiter(rps, s.config.RateLimitBurst)

	entry := &rateLimiterEntry{
		limiter:  limiter,
		lastSeen: now,
	}
	actual, _ := s.rateLimiters.LoadOrStore(ip, entry)
	return actual.(*rateLimiterEntry).limiter
}

// extractClientIP extracts the client IP address from the request.
// Proxy headers (X-Forwarded-For, X-Real-IP) are only trusted when
// TrustProxy is enabled.
func (s *Server) extractClientIP(r *http.Request) string {
	if s.config.TrustProxy {
		// X-Forwarded-For: use the first (leftmost) IP
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.IndexByte(xff, ','); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	// Default: use TCP remote address (not spoofable)
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// startRateLimiterCleanup starts a goroutine that periodically removes
// stale rate limiters
func (s *Server) startRateLimiterCleanup(ctx context.Context) {
	util.SafeGoWithName("api-ratelimit-cleanup", func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupRateLimiters()
			}
		}
	})
}

// cleanupRateLimiters removes rate limiter entries that have not been
// seen recently
func (s *Server) cleanupRateLimiters() {
	staleThreshold := time.Now().Add(-10 * time.Minute)
	var cleaned int

	s.rateLimiters.Range(func(key, value any) bool {
		entry := value.(*rateLimiterEntry)
		if entry.lastSeen.Before(staleThreshold) {
			s.rateLimiters.Delete(key)
			cleaned++
		}
		return true
	})

	if cleaned > 0 {
		logging.Debug("cleaned up stale rate limiters",
			"count", cleaned,
			logging.Component("api"))
	}
}

// originAllowed reports whether the origin is in the allowed list.
func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// setCORSHeaders sets CORS headers on the response. The API is
// read-only, so only GET ever needs allowing.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}

	if s.originAllowed(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")
	}
}
