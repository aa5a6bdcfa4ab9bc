package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/samizdat-net/samizdat/internal/client"
	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/pkg/types"
)

// StatusResponse matches GET /v1/status. It mirrors the daemon's
// status summary minus the SOCKS listen address, which is a loopback
// detail not republished over HTTP.
type StatusResponse struct {
	NodeID         string    `json:"node_id,omitempty"`
	Running        bool      `json:"running"`
	NodeStatus     string    `json:"node_status"`
	PeerCount      int       `json:"peer_count"`
	NetworkCount   int       `json:"network_count"`
	SeededFiles    int       `json:"seeded_files"`
	NetworkHealth  int       `json:"network_health"`
	AnonymityState string    `json:"anonymity_state"`
	CircuitReady   bool      `json:"circuit_ready"`
	Uptime         string    `json:"uptime"`
	Version        string    `json:"version"`
	Timestamp      time.Time `json:"timestamp"`
}

// PeersResponse matches GET /v1/peers
type PeersResponse struct {
	Peers     []types.Peer `json:"peers"`
	Count     int          `json:"count"`
	Timestamp time.Time    `json:"timestamp"`
}

// NetworksResponse matches GET /v1/networks
type NetworksResponse struct {
	Networks  []types.CommunityNetwork     `json:"networks"`
	Joined    []types.NetworkParticipation `json:"joined"`
	Timestamp time.Time                    `json:"timestamp"`
}

// AnonymityResponse matches GET /v1/anonymity
type AnonymityResponse struct {
	State     string                `json:"state"`
	Status    types.AnonymityStatus `json:"status"`
	Timestamp time.Time             `json:"timestamp"`
}

// handleStatus handles GET /v1/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status, ok := s.daemonStatus(w)
	if !ok {
		return
	}

	s.writeJSON(w, http.StatusOK, StatusResponse{
		NodeID:         status.NodeID,
		Running:        status.Running,
		NodeStatus:     status.NodeStatus,
		PeerCount:      status.PeerCount,
		NetworkCount:   status.NetworkCount,
		SeededFiles:    status.SeededFiles,
		NetworkHealth:  status.NetworkHealth,
		AnonymityState: status.AnonymityState,
		CircuitReady:   status.CircuitReady,
		Uptime:         status.Uptime,
		Version:        status.Version,
		Timestamp:      time.Now().UTC(),
	})
}

// handlePeers handles GET /v1/peers
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.daemonBridge == nil {
		s.writeError(w, http.StatusServiceUnavailable, "daemon not configured")
		return
	}

	peers, err := s.daemonBridge.Peers()
	if err != nil {
		logging.Warn("daemon peer list unavailable",
			"error", err.Error(),
			logging.Component("api"))
		s.writeError(w, http.StatusBadGateway, "daemon unreachable")
		return
	}
	if peers == nil {
		peers = []types.Peer{}
	}

	s.writeJSON(w, http.StatusOK, PeersResponse{
		Peers:     peers,
		Count:     len(peers),
		Timestamp: time.Now().UTC(),
	})
}

// handleNetworks handles GET /v1/networks
func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.daemonBridge == nil {
		s.writeError(w, http.StatusServiceUnavailable, "daemon not configured")
		return
	}

	networks, err := s.daemonBridge.Networks()
	if err != nil {
		logging.Warn("daemon network list unavailable",
			"error", err.Error(),
			logging.Component("api"))
		s.writeError(w, http.StatusBadGateway, "daemon unreachable")
		return
	}

	resp := NetworksResponse{
		Networks:  networks.Networks,
		Joined:    networks.Joined,
		Timestamp: time.Now().UTC(),
	}
	if resp.Networks == nil {
		resp.Networks = []types.CommunityNetwork{}
	}
	if resp.Joined == nil {
		resp.Joined = []types.NetworkParticipation{}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleAnonymity handles GET /v1/anonymity
func (s *Server) handleAnonymity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.daemonBridge == nil {
		s.writeError(w, http.StatusServiceUnavailable, "daemon not configured")
		return
	}

	anon, err := s.daemonBridge.Anonymity()
	if err != nil {
		logging.Warn("daemon anonymity status unavailable",
			"error", err.Error(),
			logging.Component("api"))
		s.writeError(w, http.StatusBadGateway, "daemon unreachable")
		return
	}

	// Same rule as /v1/status: the SOCKS address stays local.
	status := anon.Status
	status.SocksAddress = ""

	s.writeJSON(w, http.StatusOK, AnonymityResponse{
		State:     anon.State,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

// daemonStatus fetches the daemon status summary, writing the error
// response itself when the daemon is missing or unreachable.
func (s *Server) daemonStatus(w http.ResponseWriter) (*client.StatusResponse, bool) {
	if s.daemonBridge == nil {
		s.writeError(w, http.StatusServiceUnavailable, "daemon not configured")
		return nil, false
	}

	status, err := s.daemonBridge.Status()
	if err != nil {
		logging.Warn("daemon status unavailable",
			"error", err.Error(),
			logging.Component("api"))
		s.writeError(w, http.StatusBadGateway, "daemon unreachable")
		return nil, false
	}
	return status, true
}

// writeJSON writes JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
