// Package daemon serves the node's control API over a unix socket.
//
// The protocol is JSON-RPC shaped: one JSON request object per call,
// one JSON response object back, over a connection the CLI keeps open
// for its lifetime. Requests are size-capped and rate-limited both per
// connection and globally.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/samizdat-net/samizdat/internal/anonymity"
	"github.com/samizdat-net/samizdat/internal/community"
	"github.com/samizdat-net/samizdat/internal/content"
	"github.com/samizdat-net/samizdat/internal/events"
	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/internal/metrics"
	"github.com/samizdat-net/samizdat/internal/node"
	"github.com/samizdat-net/samizdat/internal/peers"
	"github.com/samizdat-net/samizdat/internal/util"
)

const (
	// MaxRequestSize caps a single request at 1MB. Published content
	// travels base64-encoded inside the request, so this also bounds
	// what a single publish call can carry.
	MaxRequestSize = 1 * 1024 * 1024

	// TODO: wire the rate limit values to the daemon section of the
	// config file.
	rateLimitTokens    = 100
	rateLimitRefillSec = 60

	globalRateLimitTokens    = 1000
	globalRateLimitRefillSec = 60
)

var (
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrRequestTooLarge = errors.New("request exceeds maximum size")
)

// rateLimiter is a token bucket that refills completely once per period.
type rateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	lastRefill   time.Time
	refillPeriod time.Duration
}

func newRateLimiter(maxTokens int, refillPeriod time.Duration) *rateLimiter {
	return &rateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		lastRefill:   time.Now(),
		refillPeriod: refillPeriod,
	}
}

// allow consumes a token if one is available.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.lastRefill) >= r.refillPeriod {
		r.tokens = r.maxTokens
		r.lastRefill = now
	}

	if r.tokens > 0 {
		r.tokens--
		return true
	}
	return false
}

// Components bundles the managers the daemon exposes.
type Components struct {
	Node      *node.Manager
	Peers     *peers.Manager
	Content   *content.Exchange
	Community *community.Manager
	Anonymity *anonymity.Coordinator
	Seeder    *content.Seeder
	Bus       *events.Bus
	Version   string
}

// APIServer provides the unix socket API for CLI communication.
type APIServer struct {
	node      *node.Manager
	peers     *peers.Manager
	content   *content.Exchange
	community *community.Manager
	anonymity *anonymity.Coordinator
	seeder    *content.Seeder
	bus       *events.Bus
	version   string

	socketPath string
	listener   net.Listener
	startTime  time.Time
	mu         sync.RWMutex
	running    bool

	metrics       *metrics.PrometheusCollector
	globalLimiter *rateLimiter

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// APIRequest is one JSON-RPC style request.
type APIRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     int             `json:"id"`
}

// APIResponse is one JSON-RPC style response.
type APIResponse struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	ID     int         `json:"id"`
}

// NewAPIServer creates an API server over the given components. A nil
// collector gets a private one so tests need no wiring.
func NewAPIServer(c Components, socketPath string, collector *metrics.PrometheusCollector) *APIServer {
	if collector == nil {
		collector = metrics.NewPrometheusCollector(metrics.NewCollector())
	}
	version := c.Version
	if version == "" {
		version = "dev"
	}
	return &APIServer{
		node:          c.Node,
		peers:         c.Peers,
		content:       c.Content,
		community:     c.Community,
		anonymity:     c.Anonymity,
		seeder:        c.Seeder,
		bus:           c.Bus,
		version:       version,
		socketPath:    socketPath,
		metrics:       collector,
		globalLimiter: newRateLimiter(globalRateLimitTokens, globalRateLimitRefillSec*time.Second),
		shutdownCh:    make(chan struct{}),
	}
}

// Start begins accepting connections on the unix socket.
func (s *APIServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("API server already running")
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0700); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("create socket directory: %w", err)
	}

	// Remove a stale socket from a previous run.
	os.Remove(s.socketPath)

	// Restrict the umask while creating the socket so it is never
	// world-accessible, not even briefly.
	oldUmask := syscall.Umask(0077)
	listener, err := net.Listen("unix", s.socketPath)
	syscall.Umask(oldUmask)

	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("create unix socket: %w", err)
	}

	s.listener = listener
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	logging.Info("daemon API listening", "socket", s.socketPath)

	util.SafeGoWithName("daemon-accept-loop", func() {
		s.handleConnections(ctx)
	})

	return nil
}

// Stop closes the listener and removes the socket file.
func (s *APIServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.listener != nil {
		s.listener.Close()
	}
	os.Remove(s.socketPath)

	return nil
}

// ShutdownRequested is closed when a client asks the daemon to exit.
func (s *APIServer) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

func (s *APIServer) requestShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
}

func (s *APIServer) handleConnections(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				s.mu.RLock()
				running := s.running
				s.mu.RUnlock()
				if !running {
					return
				}
				continue
			}

			util.SafeGoWithName("daemon-connection", func() {
				s.handleConnection(ctx, conn)
			})
		}
	}
}

func (s *APIServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	s.metrics.IncrementConnections()
	defer s.metrics.DecrementConnections()

	limiter := newRateLimiter(rateLimitTokens, rateLimitRefillSec*time.Second)

	limitedReader := io.LimitReader(conn, MaxRequestSize)
	decoder := json.NewDecoder(limitedReader)
	encoder := json.NewEncoder(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			// The global limiter runs first so one chatty client cannot
			// starve the rest.
			if !s.globalLimiter.allow() {
				s.sendError(encoder, 0, ErrRateLimited.Error())
				return
			}
			if !limiter.allow() {
				s.sendError(encoder, 0, ErrRateLimited.Error())
				return
			}

			var req APIRequest
			if err := decoder.Decode(&req); err != nil {
				if err == io.EOF {
					return
				}
				if err.Error() == "unexpected EOF" {
					s.sendError(encoder, 0, ErrRequestTooLarge.Error())
					return
				}
				s.sendError(encoder, 0, "invalid request")
				return
			}

			response := s.handleRequest(ctx, &req)
			if err := encoder.Encode(response); err != nil {
				return
			}

			// LimitReader does not reset, so rebuild it per request.
			limitedReader = io.LimitReader(conn, MaxRequestSize)
			decoder = json.NewDecoder(limitedReader)
		}
	}
}

// handleRequest routes one request to its handler and records metrics.
func (s *APIServer) handleRequest(ctx context.Context, req *APIRequest) *APIResponse {
	start := time.Now()
	s.metrics.RecordRequest(req.Method)

	if s.peers != nil {
		s.metrics.SetPeerCount(s.peers.ConnectedCount())
	}
	if s.community != nil {
		s.metrics.SetNetworkCount(len(s.community.Memberships()))
	}

	var response *APIResponse

	switch req.Method {
	case "status":
		response = s.handleStatus(ctx, req)
	case "node_init":
		response = s.handleNodeInit(ctx, req)
	case "node_start":
		response = s.handleNodeStart(ctx, req)
	case "node_stop":
		response = s.handleNodeStop(ctx, req)
	case "bootstrap":
		response = s.handleBootstrap(ctx, req)
	case "peers_discover":
		response = s.handlePeersDiscover(ctx, req)
	case "peers_connect":
		response = s.handlePeersConnect(ctx, req)
	case "peers_disconnect":
		response = s.handlePeersDisconnect(ctx, req)
	case "peers_list":
		response = s.handlePeersList(ctx, req)
	case "content_publish":
		response = s.handleContentPublish(ctx, req)
	case "content_request":
		response = s.handleContentRequest(ctx, req)
	case "content_sync":
		response = s.handleContentSync(ctx, req)
	case "community_list":
		response = s.handleCommunityList(ctx, req)
	case "community_join":
		response = s.handleCommunityJoin(ctx, req)
	case "community_leave":
		response = s.handleCommunityLeave(ctx, req)
	case "community_share":
		response = s.handleCommunityShare(ctx, req)
	case "anonymity_status":
		response = s.handleAnonymityStatus(ctx, req)
	case "hidden_service":
		response = s.handleHiddenService(ctx, req)
	case "metrics":
		response = s.handleMetrics(ctx, req)
	case "shutdown":
		response = s.handleShutdown(ctx, req)
	default:
		response = &APIResponse{
			Error: fmt.Sprintf("unknown method: %s", req.Method),
			ID:    req.ID,
		}
	}

	s.metrics.RecordLatency(req.Method, time.Since(start))

	return response
}

func (s *APIServer) sendError(encoder *json.Encoder, id int, message string) error {
	if err := encoder.Encode(&APIResponse{Error: message, ID: id}); err != nil {
		return fmt.Errorf("send error response: %w", err)
	}
	return nil
}

// SocketPath returns the socket path.
func (s *APIServer) SocketPath() string {
	return s.socketPath
}
