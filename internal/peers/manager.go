// Package peers owns the connected-peer set: discovery rounds,
// connection attempts with transient/permanent classification, and
// snapshot reads for everyone else. No other component mutates peer
// state.
package peers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/samizdat-net/samizdat/internal/bridge"
	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/internal/util"
	"github.com/samizdat-net/samizdat/pkg/types"
)

// discoveredCacheSize bounds how many non-connected peers are
// remembered across discovery rounds.
const discoveredCacheSize = 512

// Manager tracks peers over the runtime bridge. The connected map is
// authoritative for local "connected" intent; the discovered cache
// remembers peers seen recently, connected or not.
type Manager struct {
	commander bridge.Commander

	mu         sync.RWMutex
	connected  map[string]types.Peer
	retryCfg   *util.RetryConfig
	discovered *lru.Cache[string, types.Peer]
}

// NewManager creates a peer manager over the given runtime commander.
func NewManager(commander bridge.Commander) (*Manager, error) {
	cache, err := lru.New[string, types.Peer](discoveredCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create discovered peer cache: %w", err)
	}
	return &Manager{
		commander:  commander,
		connected:  make(map[string]types.Peer),
		retryCfg:   defaultConnectRetryConfig(),
		discovered: cache,
	}, nil
}

// defaultConnectRetryConfig backs off fast enough that a reconnect
// with one transient failure still lands well under two seconds.
func defaultConnectRetryConfig() *util.RetryConfig {
	return &util.RetryConfig{
		MaxRetries: 4,
		BaseDelay:  150 * time.Millisecond,
		MaxDelay:   1500 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     0.2,
		RetryIf:    bridge.IsTransient,
	}
}

// SetRetryConfig overrides the connect retry policy.
func (m *Manager) SetRetryConfig(cfg *util.RetryConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg != nil {
		m.retryCfg = cfg
	}
}

func (m *Manager) retryConfig() *util.RetryConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retryCfg
}

// Discover runs one discovery round. Peer visibility is never
// filtered by cultural classification: the boundary flag is forced
// off no matter what the caller passed. Discovered peers that report
// connected are merged into the connected set, last write wins.
func (m *Manager) Discover(ctx context.Context, opts types.DiscoveryOptions) ([]types.Peer, error) {
	opts.RespectCulturalBoundaries = false

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := map[string]any{
		"max_peers":                   opts.MaxPeers,
		"respect_cultural_boundaries": false,
	}
	raw, err := m.commander.Call(ctx, bridge.CmdPeersDiscover, args)
	if err != nil {
		return nil, fmt.Errorf("discover peers: %w", err)
	}

	found := decodePeers(raw)

	m.mu.Lock()
	for _, p := range found {
		if p.ID == "" {
			continue
		}
		m.discovered.Add(p.ID, p)
		if p.Connected {
			m.connected[p.ID] = p
		}
	}
	connected := len(m.connected)
	m.mu.Unlock()

	logging.Debug("peer discovery round complete",
		"found", len(found),
		"connected", connected,
		logging.Component("peers"))

	return found, nil
}

// Connect attempts a single connection. The peer lands in the
// connected set only after the runtime call settles successfully.
// Failures come back classified; callers retry transient ones.
func (m *Manager) Connect(ctx context.Context, peerID string) error {
	if peerID == "" {
		return bridge.MarkPermanent(fmt.Errorf("empty peer id"))
	}

	if _, err := m.commander.Call(ctx, bridge.CmdPeersConnect, map[string]any{"peer_id": peerID}); err != nil {
		return fmt.Errorf("connect %s: %w", peerID, err)
	}

	peer := m.fetchInfo(ctx, peerID)

	m.mu.Lock()
	m.connected[peerID] = peer
	m.discovered.Add(peerID, peer)
	m.mu.Unlock()

	return nil
}

// fetchInfo refreshes the peer record after a successful connect. The
// connection already succeeded, so a failed info call degrades to a
// minimal record instead of failing the connect.
func (m *Manager) fetchInfo(ctx context.Context, peerID string) types.Peer {
	fallback := types.Peer{ID: peerID, Connected: true, LastSeen: time.Now().UTC()}

	raw, err := m.commander.Call(ctx, bridge.CmdPeersInfo, map[string]any{"peer_id": peerID})
	if err != nil {
		logging.Debug("peer info unavailable after connect",
			logging.PeerID(peerID),
			logging.Err(err),
			logging.Component("peers"))
		return fallback
	}

	var p types.Peer
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return fallback
	}
	p.Connected = true
	if p.LastSeen.IsZero() {
		p.LastSeen = fallback.LastSeen
	}
	return p
}

// ConnectWithRetry retries transient connection failures with
// exponential backoff. Permanent failures return immediately.
func (m *Manager) ConnectWithRetry(ctx context.Context, peerID string) error {
	result := util.Retry(ctx, m.retryConfig(), func() error {
		return m.Connect(ctx, peerID)
	})
	if result.LastError != nil {
		logging.Debug("connect gave up",
			logging.PeerID(peerID),
			"attempts", result.Attempts,
			logging.Err(result.LastError),
			logging.Component("peers"))
		return result.LastError
	}
	return nil
}

// Disconnect removes the peer from the connected set no matter what
// the runtime says; local state is authoritative for "not connected"
// intent. Remote failures are logged, never propagated.
func (m *Manager) Disconnect(ctx context.Context, peerID string) error {
	if _, err := m.commander.Call(ctx, bridge.CmdPeersDisconnect, map[string]any{"peer_id": peerID}); err != nil {
		logging.Warn("remote disconnect failed, removing locally anyway",
			logging.PeerID(peerID),
			logging.Err(err),
			logging.Component("peers"))
	}

	m.mu.Lock()
	if p, ok := m.connected[peerID]; ok {
		p.Connected = false
		p.LastSeen = time.Now().UTC()
		m.discovered.Add(peerID, p)
	}
	delete(m.connected, peerID)
	m.mu.Unlock()

	return nil
}

// RefreshConnected replaces the connected set with what the runtime
// currently reports. Used by periodic status reconciliation.
func (m *Manager) RefreshConnected(ctx context.Context) error {
	raw, err := m.commander.Call(ctx, bridge.CmdPeersConnected, nil)
	if err != nil {
		return fmt.Errorf("list connected peers: %w", err)
	}

	fresh := make(map[string]types.Peer)
	for _, p := range decodePeers(raw) {
		if p.ID == "" {
			continue
		}
		p.Connected = true
		fresh[p.ID] = p
	}

	m.mu.Lock()
	m.connected = fresh
	for id, p := range fresh {
		m.discovered.Add(id, p)
	}
	m.mu.Unlock()

	return nil
}

// ConnectedPeers returns a sorted snapshot of the connected set.
// Callers get a copy, never the live map.
func (m *Manager) ConnectedPeers() []types.Peer {
	m.mu.RLock()
	out := make([]types.Peer, 0, len(m.connected))
	for _, p := range m.connected {
		out = append(out, p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConnectedCount reports the size of the connected set.
func (m *Manager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connected)
}

// KnownPeer looks a peer up in the connected set, then in the
// discovered cache.
func (m *Manager) KnownPeer(peerID string) (types.Peer, bool) {
	m.mu.RLock()
	if p, ok := m.connected[peerID]; ok {
		m.mu.RUnlock()
		return p, true
	}
	m.mu.RUnlock()

	return m.discovered.Get(peerID)
}

// DiscoveredPeers returns a snapshot of the recently seen peer cache,
// oldest first.
func (m *Manager) DiscoveredPeers() []types.Peer {
	return m.discovered.Values()
}

// Clear empties the connected set. The discovered cache survives so
// reconnects after a restart still know where to look.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.connected = make(map[string]types.Peer)
	m.mu.Unlock()
}

// decodePeers accepts both response shapes the runtime has used: a
// {"peers": [...]} wrapper and a bare array.
func decodePeers(raw json.RawMessage) []types.Peer {
	var wrapped struct {
		Peers []types.Peer `json:"peers"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Peers != nil {
		return wrapped.Peers
	}

	var bare []types.Peer
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare
	}
	return nil
}
