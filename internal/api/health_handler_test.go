package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/samizdat-net/samizdat/internal/metrics"
)

// testServerConfig returns a config with no daemon bridge so handler
// tests never touch a socket.
func testServerConfig() *ServerConfig {
	cfg := DefaultServerConfig()
	cfg.DaemonSocketPath = ""
	return cfg
}

func TestHandleHealthCheck_Healthy(t *testing.T) {
	s := NewServer(testServerConfig())

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	collector := metrics.NewPrometheusCollector(metrics.NewCollector())
	collector.SetPeerCount(5)
	s.SetMetricsCollector(collector)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.handleHealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", resp.Status)
	}
	if resp.Version != "dev" {
		t.Errorf("expected version 'dev', got %q", resp.Version)
	}
	if resp.PeerCount != 5 {
		t.Errorf("expected peer_count 5, got %d", resp.PeerCount)
	}
	if resp.Uptime == "" {
		t.Error("expected non-empty uptime")
	}
	if resp.Reason != "" {
		t.Errorf("expected no reason when healthy, got %q", resp.Reason)
	}
}

func TestHandleHealthCheck_Unhealthy_NotRunning(t *testing.T) {
	s := NewServer(testServerConfig())

	// Server is not running (default running = false)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.handleHealthCheck(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %q", resp.Status)
	}
	if resp.Reason != "server not running" {
		t.Errorf("expected reason 'server not running', got %q", resp.Reason)
	}
}

func TestHandleHealthCheck_Unhealthy_DaemonUnreachable(t *testing.T) {
	cfg := testServerConfig()
	cfg.DaemonSocketPath = "/nonexistent/samizdat/daemon.sock"
	s := NewServer(cfg)

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.handleHealthCheck(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %q", resp.Status)
	}
	if resp.Reason != "daemon unreachable" {
		t.Errorf("expected reason 'daemon unreachable', got %q", resp.Reason)
	}
}

func TestHandleHealthCheck_NoMetricsCollector(t *testing.T) {
	s := NewServer(testServerConfig())

	// Running but no metrics collector; uptime falls back to the
	// package start time.
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.handleHealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", resp.Status)
	}
	if resp.Uptime == "" {
		t.Error("expected non-empty uptime even without metrics collector")
	}
}

func TestHandleHealthCheck_MethodNotAllowed(t *testing.T) {
	s := NewServer(testServerConfig())

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.handleHealthCheck(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

func TestHandleHealthCheck_JSONFields(t *testing.T) {
	s := NewServer(testServerConfig())

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	collector := metrics.NewPrometheusCollector(metrics.NewCollector())
	collector.SetPeerCount(10)
	s.SetMetricsCollector(collector)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.handleHealthCheck(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got %q", ct)
	}

	// Decode as raw map to verify JSON field names
	var raw map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	requiredFields := []string{"status", "uptime", "peer_count", "version"}
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			t.Errorf("expected field %q in response, got: %v", field, raw)
		}
	}

	// "reason" should not be present when healthy (omitempty)
	if _, ok := raw["reason"]; ok {
		t.Errorf("expected 'reason' to be omitted when healthy, got: %v", raw["reason"])
	}
}

func TestHandleReadyz_NotRunning(t *testing.T) {
	s := NewServer(testServerConfig())

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	s.handleReadyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if ready, _ := raw["ready"].(bool); ready {
		t.Error("expected ready=false when not running")
	}
}

func TestHandleReadyz_RunningWithoutDaemon(t *testing.T) {
	s := NewServer(testServerConfig())

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	s.handleReadyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if ready, _ := raw["ready"].(bool); !ready {
		t.Error("expected ready=true when running")
	}
	if connected, _ := raw["daemon_connected"].(bool); connected {
		t.Error("expected daemon_connected=false without a bridge")
	}
}
