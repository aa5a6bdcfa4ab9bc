package api

import (
	"net/http"
	"time"
)

// startTime records when the server package was initialized for uptime
// calculation when no metrics collector is wired.
var startTime = time.Now()

// HealthResponse is the JSON response for the /healthz endpoint
type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	PeerCount int64  `json:"peer_count"`
	Version   string `json:"version"`
	Reason    string `json:"reason,omitempty"`
}

// handleHealthCheck handles GET /healthz for load balancer health
// probes. No middleware runs in front of it.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	if !running {
		s.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:  "unhealthy",
			Reason:  "server not running",
			Version: s.version,
		})
		return
	}

	var uptime string
	var peerCount int64

	if s.metricsCollector != nil {
		m := s.metricsCollector.GetMetrics()
		uptime = m.Uptime
		peerCount = m.PeerCount
	} else {
		uptime = time.Since(startTime).Round(time.Second).String()
	}

	if s.daemonBridge != nil && !s.daemonBridge.IsConnected() {
		s.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "unhealthy",
			Uptime:    uptime,
			PeerCount: peerCount,
			Version:   s.version,
			Reason:    "daemon unreachable",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Uptime:    uptime,
		PeerCount: peerCount,
		Version:   s.version,
	})
}

// handleReadyz handles GET /readyz. Ready means the server is up; the
// response also reports whether daemon-backed routes will answer.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	if !running {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready":   false,
			"message": "server not running",
		})
		return
	}

	daemonConnected := false
	if s.daemonBridge != nil {
		daemonConnected = s.daemonBridge.IsConnected()
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":            true,
		"daemon_connected": daemonConnected,
		"timestamp":        time.Now().UTC(),
	})
}
