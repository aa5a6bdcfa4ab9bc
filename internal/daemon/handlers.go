package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/pkg/types"
)

// StatusResponse is the aggregate view the status method returns.
type StatusResponse struct {
	NodeID         string `json:"node_id,omitempty"`
	Running        bool   `json:"running"`
	NodeStatus     string `json:"node_status"`
	PeerCount      int    `json:"peer_count"`
	NetworkCount   int    `json:"network_count"`
	SeededFiles    int    `json:"seeded_files"`
	NetworkHealth  int    `json:"network_health"`
	AnonymityState string `json:"anonymity_state"`
	CircuitReady   bool   `json:"circuit_ready"`
	SocksAddress   string `json:"socks_address,omitempty"`
	Uptime         string `json:"uptime"`
	Version        string `json:"version"`
}

// ConnectRequest identifies the peer for connect and disconnect calls.
type ConnectRequest struct {
	PeerID string `json:"peer_id"`
	Retry  bool   `json:"retry,omitempty"`
}

// DiscoverRequest tunes a discovery round.
type DiscoverRequest struct {
	MaxPeers    int `json:"max_peers,omitempty"`
	TimeoutSecs int `json:"timeout_secs,omitempty"`
}

// PublishRequest carries content to publish. Data travels base64-encoded
// inside the JSON request.
type PublishRequest struct {
	Data     []byte                 `json:"data"`
	Cultural *types.CulturalContext `json:"cultural_context,omitempty"`
}

// RequestContent names the content to retrieve.
type RequestContent struct {
	Hash   string `json:"hash"`
	PeerID string `json:"peer_id,omitempty"`
}

// ShareRequest names content to share into a community network.
type ShareRequest struct {
	Hash      string `json:"hash"`
	NetworkID string `json:"network_id"`
}

// HiddenServiceRequest asks for an onion address in front of a local port.
type HiddenServiceRequest struct {
	LocalPort int `json:"local_port"`
}

// NetworksResponse pairs discoverable networks with current memberships.
type NetworksResponse struct {
	Networks []types.CommunityNetwork    `json:"networks"`
	Joined   []types.NetworkParticipation `json:"joined"`
}

// AnonymityResponse reports the anonymity layer's state and status.
type AnonymityResponse struct {
	State  string                `json:"state"`
	Status types.AnonymityStatus `json:"status"`
}

func (s *APIServer) handleStatus(ctx context.Context, req *APIRequest) *APIResponse {
	st, err := s.node.Status(ctx)
	if err != nil {
		// Status reporting degrades, it does not fail.
		logging.Debug("status degraded to offline", logging.Err(err))
		st = types.NetworkStatus{NodeStatus: types.NodeStatusOffline}
	}

	resp := StatusResponse{
		Running:        s.node.IsRunning(),
		NodeStatus:     string(st.NodeStatus),
		PeerCount:      s.peers.ConnectedCount(),
		NetworkCount:   len(s.community.Memberships()),
		NetworkHealth:  st.NetworkHealth,
		AnonymityState: s.anonymity.State().String(),
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		Version:        s.version,
	}

	if n := s.node.Node(); n != nil {
		resp.NodeID = n.ID
	}
	if s.seeder != nil {
		resp.SeededFiles = s.seeder.SeededCount()
	}

	cached := s.anonymity.CachedStatus()
	resp.CircuitReady = cached.CircuitEstablished
	resp.SocksAddress = cached.SocksAddress

	return &APIResponse{Result: resp, ID: req.ID}
}

func (s *APIServer) handleNodeInit(ctx context.Context, req *APIRequest) *APIResponse {
	var partial *types.NodeConfig
	if len(req.Params) > 0 {
		partial = new(types.NodeConfig)
		if err := json.Unmarshal(req.Params, partial); err != nil {
			return &APIResponse{
				Error: fmt.Sprintf("invalid node config: %v", err),
				ID:    req.ID,
			}
		}
	}

	n, err := s.node.Initialize(ctx, partial)
	if err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("initialize failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{Result: n, ID: req.ID}
}

func (s *APIServer) handleNodeStart(ctx context.Context, req *APIRequest) *APIResponse {
	if err := s.node.Start(ctx); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("start failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{
		Result: map[string]interface{}{"status": "started"},
		ID:     req.ID,
	}
}

func (s *APIServer) handleNodeStop(ctx context.Context, req *APIRequest) *APIResponse {
	if err := s.node.Stop(ctx); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("stop failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{
		Result: map[string]interface{}{"status": "stopped"},
		ID:     req.ID,
	}
}

func (s *APIServer) handleBootstrap(ctx context.Context, req *APIRequest) *APIResponse {
	var partial *types.NodeConfig
	if len(req.Params) > 0 {
		partial = new(types.NodeConfig)
		if err := json.Unmarshal(req.Params, partial); err != nil {
			return &APIResponse{
				Error: fmt.Sprintf("invalid node config: %v", err),
				ID:    req.ID,
			}
		}
	}
	if partial == nil {
		partial = new(types.NodeConfig)
	}

	result, err := s.anonymity.Bootstrap(ctx, partial)
	if err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("bootstrap failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{Result: result, ID: req.ID}
}

func (s *APIServer) handlePeersDiscover(ctx context.Context, req *APIRequest) *APIResponse {
	var params DiscoverRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return &APIResponse{
				Error: fmt.Sprintf("invalid discover params: %v", err),
				ID:    req.ID,
			}
		}
	}

	opts := types.DiscoveryOptions{MaxPeers: params.MaxPeers}
	if params.TimeoutSecs > 0 {
		opts.Timeout = time.Duration(params.TimeoutSecs) * time.Second
	}

	found, err := s.peers.Discover(ctx, opts)
	if err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("discovery failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{Result: found, ID: req.ID}
}

func (s *APIServer) handlePeersConnect(ctx context.Context, req *APIRequest) *APIResponse {
	var params ConnectRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("invalid connect params: %v", err),
			ID:    req.ID,
		}
	}
	if err := validatePeerID(params.PeerID); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("validation failed: %v", err),
			ID:    req.ID,
		}
	}

	var err error
	if params.Retry {
		err = s.peers.ConnectWithRetry(ctx, params.PeerID)
	} else {
		err = s.peers.Connect(ctx, params.PeerID)
	}
	if err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("connect failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{
		Result: map[string]interface{}{
			"status":  "connected",
			"peer_id": params.PeerID,
		},
		ID: req.ID,
	}
}

func (s *APIServer) handlePeersDisconnect(ctx context.Context, req *APIRequest) *APIResponse {
	var params ConnectRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("invalid disconnect params: %v", err),
			ID:    req.ID,
		}
	}
	if err := validatePeerID(params.PeerID); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("validation failed: %v", err),
			ID:    req.ID,
		}
	}

	if err := s.peers.Disconnect(ctx, params.PeerID); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("disconnect failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{
		Result: map[string]interface{}{
			"status":  "disconnected",
			"peer_id": params.PeerID,
		},
		ID: req.ID,
	}
}

func (s *APIServer) handlePeersList(ctx context.Context, req *APIRequest) *APIResponse {
	return &APIResponse{Result: s.peers.ConnectedPeers(), ID: req.ID}
}

func (s *APIServer) handleContentPublish(ctx context.Context, req *APIRequest) *APIResponse {
	var params PublishRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("invalid publish params: %v", err),
			ID:    req.ID,
		}
	}

	hash, err := s.content.Publish(ctx, params.Data, params.Cultural)
	if err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("publish failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{Result: hash, ID: req.ID}
}

func (s *APIServer) handleContentRequest(ctx context.Context, req *APIRequest) *APIResponse {
	var params RequestContent
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("invalid request params: %v", err),
			ID:    req.ID,
		}
	}

	hash, err := types.ParseContentHash(params.Hash)
	if err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("validation failed: %v", err),
			ID:    req.ID,
		}
	}
	if params.PeerID != "" {
		if err := validatePeerID(params.PeerID); err != nil {
			return &APIResponse{
				Error: fmt.Sprintf("validation failed: %v", err),
				ID:    req.ID,
			}
		}
	}

	result, err := s.content.Request(ctx, hash, params.PeerID)
	if err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("request failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{Result: result, ID: req.ID}
}

func (s *APIServer) handleContentSync(ctx context.Context, req *APIRequest) *APIResponse {
	var params types.SyncRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return &APIResponse{
				Error: fmt.Sprintf("invalid sync params: %v", err),
				ID:    req.ID,
			}
		}
	}

	if err := s.content.Sync(ctx, &params); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("sync failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{
		Result: map[string]interface{}{"status": "synchronized"},
		ID:     req.ID,
	}
}

func (s *APIServer) handleCommunityList(ctx context.Context, req *APIRequest) *APIResponse {
	networks, err := s.community.DiscoverNetworks(ctx)
	if err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("list networks failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{
		Result: NetworksResponse{
			Networks: networks,
			Joined:   s.community.Memberships(),
		},
		ID: req.ID,
	}
}

func (s *APIServer) handleCommunityJoin(ctx context.Context, req *APIRequest) *APIResponse {
	var params types.JoinRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("invalid join params: %v", err),
			ID:    req.ID,
		}
	}
	if err := validateNetworkID(params.NetworkID); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("validation failed: %v", err),
			ID:    req.ID,
		}
	}

	participation, err := s.community.Join(ctx, &params)
	if err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("join failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{Result: participation, ID: req.ID}
}

func (s *APIServer) handleCommunityLeave(ctx context.Context, req *APIRequest) *APIResponse {
	var params struct {
		NetworkID string `json:"network_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("invalid leave params: %v", err),
			ID:    req.ID,
		}
	}
	if err := validateNetworkID(params.NetworkID); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("validation failed: %v", err),
			ID:    req.ID,
		}
	}

	if err := s.community.Leave(ctx, params.NetworkID); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("leave failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{
		Result: map[string]interface{}{
			"status":     "left",
			"network_id": params.NetworkID,
		},
		ID: req.ID,
	}
}

func (s *APIServer) handleCommunityShare(ctx context.Context, req *APIRequest) *APIResponse {
	var params ShareRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("invalid share params: %v", err),
			ID:    req.ID,
		}
	}

	hash, err := types.ParseContentHash(params.Hash)
	if err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("validation failed: %v", err),
			ID:    req.ID,
		}
	}
	if err := validateNetworkID(params.NetworkID); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("validation failed: %v", err),
			ID:    req.ID,
		}
	}

	if err := s.community.ShareWith(ctx, hash, params.NetworkID); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("share failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{
		Result: map[string]interface{}{
			"status":     "shared",
			"hash":       hash.String(),
			"network_id": params.NetworkID,
		},
		ID: req.ID,
	}
}

func (s *APIServer) handleAnonymityStatus(ctx context.Context, req *APIRequest) *APIResponse {
	st, err := s.anonymity.Status(ctx)
	if err != nil {
		// Fall back to the cache so the status surface stays readable
		// while the anonymity runtime is down.
		logging.Debug("anonymity status degraded to cache", logging.Err(err))
		st = s.anonymity.CachedStatus()
	}

	return &APIResponse{
		Result: AnonymityResponse{
			State:  s.anonymity.State().String(),
			Status: st,
		},
		ID: req.ID,
	}
}

func (s *APIServer) handleHiddenService(ctx context.Context, req *APIRequest) *APIResponse {
	var params HiddenServiceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("invalid hidden service params: %v", err),
			ID:    req.ID,
		}
	}
	if err := validateLocalPort(params.LocalPort); err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("validation failed: %v", err),
			ID:    req.ID,
		}
	}

	onion, err := s.anonymity.CreateHiddenService(ctx, params.LocalPort)
	if err != nil {
		return &APIResponse{
			Error: fmt.Sprintf("hidden service failed: %v", err),
			ID:    req.ID,
		}
	}

	return &APIResponse{
		Result: map[string]interface{}{
			"onion_address": onion,
			"local_port":    params.LocalPort,
		},
		ID: req.ID,
	}
}

func (s *APIServer) handleMetrics(ctx context.Context, req *APIRequest) *APIResponse {
	return &APIResponse{Result: s.metrics.GetMetrics(), ID: req.ID}
}

func (s *APIServer) handleShutdown(ctx context.Context, req *APIRequest) *APIResponse {
	logging.Info("shutdown requested via API")
	s.requestShutdown()

	return &APIResponse{
		Result: map[string]interface{}{"status": "shutting_down"},
		ID:     req.ID,
	}
}
