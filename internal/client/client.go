// Package client is the typed unix socket client for the samizdat
// daemon. The CLI is its only consumer; every method maps to one
// daemon API method and shares the daemon's request and response
// shapes through their JSON tags.
package client

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/samizdat-net/samizdat/pkg/types"
)

// DaemonClient holds one connection to the daemon socket. Safe for
// concurrent use; calls are serialized on the connection.
type DaemonClient struct {
	socketPath string
	conn       net.Conn
	mu         sync.Mutex
	encoder    *json.Encoder
	decoder    *json.Decoder
	reqID      int
}

// APIRequest is one JSON-RPC style request.
type APIRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
	ID     int         `json:"id"`
}

// APIResponse is one JSON-RPC style response. Result stays raw so
// each method can decode its own shape.
type APIResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	ID     int             `json:"id"`
}

// StatusResponse is the daemon's status summary.
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

// NetworksResponse pairs discoverable community networks with the
// node's current memberships.
type NetworksResponse struct {
	Networks []types.CommunityNetwork     `json:"networks"`
	Joined   []types.NetworkParticipation `json:"joined"`
}

// AnonymityResponse is the anonymity subsystem's reported state.
type AnonymityResponse struct {
	State  string                `json:"state"`
	Status types.AnonymityStatus `json:"status"`
}

// NewDaemonClient creates a client for the given socket path, or the
// default path when empty.
func NewDaemonClient(socketPath string) *DaemonClient {
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}
	return &DaemonClient{socketPath: socketPath}
}

// DefaultSocketPath returns the socket path a default-configured
// daemon listens on.
func DefaultSocketPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// No home directory; fall back to the user runtime dir.
		return fmt.Sprintf("/var/run/user/%d/samizdat/daemon.sock", os.Getuid())
	}
	return filepath.Join(homeDir, ".samizdat", "daemon.sock")
}

// Connect establishes the connection to the daemon. Connecting an
// already connected client is a no-op.
func (c *DaemonClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}

	c.conn = conn
	c.encoder = json.NewEncoder(conn)
	c.decoder = json.NewDecoder(conn)
	return nil
}

// Close closes the connection. Closing a disconnected client is a
// no-op.
func (c *DaemonClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.encoder = nil
	c.decoder = nil
	return err
}

// SocketPath returns the socket path this client talks to.
func (c *DaemonClient) SocketPath() string {
	return c.socketPath
}

// IsDaemonRunning reports whether a daemon answers on the socket.
func (c *DaemonClient) IsDaemonRunning() bool {
	if err := c.Connect(); err != nil {
		return false
	}
	_, err := c.Status()
	return err == nil
}

// call sends one request and reads its response. Daemon-side errors
// come back as Go errors.
func (c *DaemonClient) call(method string, params interface{}) (*APIResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected to daemon")
	}

	c.reqID++
	req := APIRequest{Method: method, Params: params, ID: c.reqID}

	if err := c.encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp APIResponse
	if err := c.decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.Error != "" {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return &resp, nil
}

// Status retrieves the daemon's status summary.
func (c *DaemonClient) Status() (*StatusResponse, error) {
	resp, err := c.call("status", nil)
	if err != nil {
		return nil, err
	}

	var status StatusResponse
	if err := json.Unmarshal(resp.Result, &status); err != nil {
		return nil, fmt.Errorf("parse status: %w", err)
	}
	return &status, nil
}

// NodeInit initializes the node. A nil config initializes with the
// anti-censorship defaults.
func (c *DaemonClient) NodeInit(cfg *types.NodeConfig) (*types.Node, error) {
	var params interface{}
	if cfg != nil {
		params = cfg
	}

	resp, err := c.call("node_init", params)
	if err != nil {
		return nil, err
	}

	var node types.Node
	if err := json.Unmarshal(resp.Result, &node); err != nil {
		return nil, fmt.Errorf("parse node: %w", err)
	}
	return &node, nil
}

// NodeStart starts the initialized node.
func (c *DaemonClient) NodeStart() error {
	_, err := c.call("node_start", nil)
	return err
}

// NodeStop stops the running node.
func (c *DaemonClient) NodeStop() error {
	_, err := c.call("node_stop", nil)
	return err
}

// Bootstrap initializes the node, enables anonymous routing, and
// waits for the circuit. A nil config uses the defaults.
func (c *DaemonClient) Bootstrap(cfg *types.NodeConfig) (*types.BootstrapResult, error) {
	var params interface{}
	if cfg != nil {
		params = cfg
	}

	resp, err := c.call("bootstrap", params)
	if err != nil {
		return nil, err
	}

	var result types.BootstrapResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parse bootstrap result: %w", err)
	}
	return &result, nil
}

// PeersDiscover runs one discovery round. Zero values fall back to
// the daemon's discovery defaults.
func (c *DaemonClient) PeersDiscover(maxPeers, timeoutSecs int) ([]types.Peer, error) {
	params := map[string]int{}
	if maxPeers > 0 {
		params["max_peers"] = maxPeers
	}
	if timeoutSecs > 0 {
		params["timeout_secs"] = timeoutSecs
	}

	resp, err := c.call("peers_discover", params)
	if err != nil {
		return nil, err
	}

	var found []types.Peer
	if err := json.Unmarshal(resp.Result, &found); err != nil {
		return nil, fmt.Errorf("parse peers: %w", err)
	}
	return found, nil
}

// PeersConnect connects to a peer, optionally retrying transient
// failures daemon-side.
func (c *DaemonClient) PeersConnect(peerID string, retry bool) error {
	_, err := c.call("peers_connect", map[string]interface{}{
		"peer_id": peerID,
		"retry":   retry,
	})
	return err
}

// PeersDisconnect disconnects from a peer.
func (c *DaemonClient) PeersDisconnect(peerID string) error {
	_, err := c.call("peers_disconnect", map[string]string{"peer_id": peerID})
	return err
}

// PeersList lists currently connected peers.
func (c *DaemonClient) PeersList() ([]types.Peer, error) {
	resp, err := c.call("peers_list", nil)
	if err != nil {
		return nil, err
	}

	var connected []types.Peer
	if err := json.Unmarshal(resp.Result, &connected); err != nil {
		return nil, fmt.Errorf("parse peers: %w", err)
	}
	return connected, nil
}

// ContentPublish publishes data and returns its content hash.
func (c *DaemonClient) ContentPublish(data []byte, cultural *types.CulturalContext) (types.ContentHash, error) {
	params := map[string]interface{}{"data": data}
	if cultural != nil {
		params["cultural_context"] = cultural
	}

	resp, err := c.call("content_publish", params)
	if err != nil {
		return types.ContentHash{}, err
	}

	var hash types.ContentHash
	if err := json.Unmarshal(resp.Result, &hash); err != nil {
		return types.ContentHash{}, fmt.Errorf("parse hash: %w", err)
	}
	return hash, nil
}

// ContentRequest fetches content by hash. Content nobody provides yet
// comes back with zero providers, not as an error.
func (c *DaemonClient) ContentRequest(hash, peerID string) (*types.Content, error) {
	params := map[string]string{"hash": hash}
	if peerID != "" {
		params["peer_id"] = peerID
	}

	resp, err := c.call("content_request", params)
	if err != nil {
		return nil, err
	}

	var content types.Content
	if err := json.Unmarshal(resp.Result, &content); err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	return &content, nil
}

// ContentSync runs one synchronization round. A nil request syncs
// with the inclusive defaults.
func (c *DaemonClient) ContentSync(req *types.SyncRequest) error {
	var params interface{}
	if req != nil {
		params = req
	}
	_, err := c.call("content_sync", params)
	return err
}

// CommunityList lists discoverable networks and current memberships.
func (c *DaemonClient) CommunityList() (*NetworksResponse, error) {
	resp, err := c.call("community_list", nil)
	if err != nil {
		return nil, err
	}

	var networks NetworksResponse
	if err := json.Unmarshal(resp.Result, &networks); err != nil {
		return nil, fmt.Errorf("parse networks: %w", err)
	}
	return &networks, nil
}

// CommunityJoin joins a community network.
func (c *DaemonClient) CommunityJoin(req *types.JoinRequest) (*types.NetworkParticipation, error) {
	resp, err := c.call("community_join", req)
	if err != nil {
		return nil, err
	}

	var participation types.NetworkParticipation
	if err := json.Unmarshal(resp.Result, &participation); err != nil {
		return nil, fmt.Errorf("parse participation: %w", err)
	}
	return &participation, nil
}

// CommunityLeave leaves a community network.
func (c *DaemonClient) CommunityLeave(networkID string) error {
	_, err := c.call("community_leave", map[string]string{"network_id": networkID})
	return err
}

// CommunityShare shares published content with a community network.
func (c *DaemonClient) CommunityShare(hash, networkID string) error {
	_, err := c.call("community_share", map[string]string{
		"hash":       hash,
		"network_id": networkID,
	})
	return err
}

// AnonymityStatus retrieves the anonymity subsystem's state.
func (c *DaemonClient) AnonymityStatus() (*AnonymityResponse, error) {
	resp, err := c.call("anonymity_status", nil)
	if err != nil {
		return nil, err
	}

	var anon AnonymityResponse
	if err := json.Unmarshal(resp.Result, &anon); err != nil {
		return nil, fmt.Errorf("parse anonymity status: %w", err)
	}
	return &anon, nil
}

// HiddenService exposes a local port as an onion service and returns
// the onion address.
func (c *DaemonClient) HiddenService(localPort int) (string, error) {
	resp, err := c.call("hidden_service", map[string]int{"local_port": localPort})
	if err != nil {
		return "", err
	}

	var result struct {
		OnionAddress string `json:"onion_address"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("parse hidden service response: %w", err)
	}
	return result.OnionAddress, nil
}

// Metrics retrieves the daemon's metrics snapshot as raw JSON.
func (c *DaemonClient) Metrics() (json.RawMessage, error) {
	resp, err := c.call("metrics", nil)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Shutdown asks the daemon to exit.
func (c *DaemonClient) Shutdown() error {
	_, err := c.call("shutdown", nil)
	return err
}
