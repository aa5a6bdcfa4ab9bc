// Package node manages the lifecycle of the local network node: a
// single initialize/start/stop/status surface over the runtime bridge.
// The manager owns the node handle; nothing else mutates it.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samizdat-net/samizdat/internal/bridge"
	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/internal/status"
	"github.com/samizdat-net/samizdat/pkg/types"
)

var (
	// ErrNotInitialized is returned by operations that need a prior
	// successful Initialize.
	ErrNotInitialized = errors.New("node not initialized")

	// ErrNodeUnavailable is returned by Status when no node has ever
	// been initialized.
	ErrNodeUnavailable = errors.New("node unavailable")
)

// PeerManager is the peer-connection surface the lifecycle manager
// drives: discovery on start, a full clear on stop.
type PeerManager interface {
	Discover(ctx context.Context, opts types.DiscoveryOptions) ([]types.Peer, error)
	Clear()
}

// SocksSource reports the anonymity layer's SOCKS listener address,
// or empty when no circuit is available yet.
type SocksSource func() string

// Manager owns the node handle and its running state. Lifecycle
// transitions are serialized so the runtime never sees overlapping
// start/stop commands.
type Manager struct {
	commander   bridge.Commander
	peers       PeerManager
	socksSource SocksSource

	// opMu serializes lifecycle transitions across the remote call.
	opMu sync.Mutex

	mu      sync.RWMutex
	node    *types.Node
	running bool
}

// NewManager creates a lifecycle manager over the given runtime
// commander.
func NewManager(commander bridge.Commander) *Manager {
	return &Manager{commander: commander}
}

// SetPeerManager wires in the peer manager driven on start and stop.
func (m *Manager) SetPeerManager(pm PeerManager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = pm
}

// SetSocksSource wires in the anonymity layer's SOCKS address lookup.
func (m *Manager) SetSocksSource(src SocksSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.socksSource = src
}

// Initialize merges the partial configuration over the anti-censorship
// defaults, asks the runtime to create the node, and re-validates the
// configuration the runtime claims to have applied. A filtering or
// blocking request anywhere in that chain is fatal; the manager never
// silently corrects it.
func (m *Manager) Initialize(ctx context.Context, partial *types.NodeConfig) (*types.Node, error) {
	effective := types.DefaultNodeConfig().Merge(partial)
	if err := effective.Validate(); err != nil {
		return nil, bridge.MarkPermanent(err)
	}

	// If a circuit is already established, bind its SOCKS address into
	// the outgoing config so the earliest transports inherit the proxy.
	m.mu.RLock()
	src := m.socksSource
	m.mu.RUnlock()
	if src != nil {
		if addr := src(); addr != "" {
			effective.SocksAddress = addr
		}
	}

	raw, err := m.commander.Call(ctx, bridge.CmdNodeInit, map[string]any{"config": effective})
	if err != nil {
		return nil, fmt.Errorf("initialize node: %w", err)
	}

	n := status.DecodeNode(raw)
	if n.ID == "" {
		return nil, fmt.Errorf("runtime returned no node id")
	}

	// The runtime's claim of compliance is not trusted: validate the
	// echoed config before accepting the node.
	echoed := n.Config
	if err := echoed.Validate(); err != nil {
		return nil, bridge.MarkPermanent(fmt.Errorf("runtime applied unsafe config: %w", err))
	}

	// The echo is authoritative for what the runtime applied; fields
	// it omits keep the requested values.
	n.Config = effective.Merge(&echoed)
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	m.node = &n
	m.mu.Unlock()

	logging.Info("node initialized",
		logging.NodeID(n.ID),
		"anonymity_routing", n.Config.AnonymityRouting,
		"max_connections", n.Config.MaxConnections,
		logging.Component("node"))

	return m.Node(), nil
}

// Start marks the node running and kicks off peer discovery. Requires
// a prior Initialize; calling Start on a running node is a no-op
// success.
func (m *Manager) Start(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	initialized := m.node != nil
	running := m.running
	maxPeers := 0
	if m.node != nil {
		maxPeers = m.node.Config.MaxConnections
	}
	pm := m.peers
	m.mu.RUnlock()

	if !initialized {
		return ErrNotInitialized
	}
	if running {
		return nil
	}

	if _, err := m.commander.Call(ctx, bridge.CmdNodeStart, nil); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	logging.Info("node started", logging.Component("node"))

	// Discovery never restricts peer visibility by cultural boundary.
	if pm != nil {
		opts := types.DiscoveryOptions{
			MaxPeers:                  maxPeers,
			RespectCulturalBoundaries: false,
		}
		if _, err := pm.Discover(ctx, opts); err != nil {
			logging.Warn("initial peer discovery failed",
				logging.Err(err),
				logging.Component("node"))
		}
	}

	return nil
}

// Stop instructs the runtime to stop and clears local connection
// state. Shutdown always succeeds locally: a runtime failure is
// logged, never propagated. Stopping a stopped node is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	running := m.running
	pm := m.peers
	m.mu.RUnlock()

	if !running {
		return nil
	}

	if _, err := m.commander.Call(ctx, bridge.CmdNodeStop, nil); err != nil {
		logging.Warn("runtime stop failed, stopping locally anyway",
			logging.Err(err),
			logging.Component("node"))
	}

	if pm != nil {
		pm.Clear()
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	logging.Info("node stopped", logging.Component("node"))
	return nil
}

// Status fetches the raw runtime status and normalizes it. Fails with
// ErrNodeUnavailable only when no node has ever been initialized; a
// bridge error after a successful Initialize degrades to an offline
// snapshot instead of an error.
func (m *Manager) Status(ctx context.Context) (types.NetworkStatus, error) {
	offline := types.NetworkStatus{NodeStatus: types.NodeStatusOffline}

	m.mu.RLock()
	initialized := m.node != nil
	m.mu.RUnlock()
	if !initialized {
		return offline, ErrNodeUnavailable
	}

	raw, err := m.commander.Call(ctx, bridge.CmdNodeStatus, nil)
	if err != nil {
		logging.Debug("node status unavailable, reporting offline",
			logging.Err(err),
			logging.Component("node"))
		return offline, nil
	}

	return status.Normalize(raw), nil
}

// EnableAnonymousRouting asks the runtime to route the running node's
// traffic through the anonymity circuit.
func (m *Manager) EnableAnonymousRouting(ctx context.Context) error {
	m.mu.RLock()
	initialized := m.node != nil
	m.mu.RUnlock()
	if !initialized {
		return ErrNotInitialized
	}

	if _, err := m.commander.Call(ctx, bridge.CmdNodeEnableAnonymity, nil); err != nil {
		return fmt.Errorf("enable anonymous routing: %w", err)
	}

	logging.Info("anonymous routing enabled", logging.Component("node"))
	return nil
}

// Node returns a snapshot of the node handle, or nil before
// Initialize.
func (m *Manager) Node() *types.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.node == nil {
		return nil
	}
	n := *m.node
	n.Config.CommunityNetworks = append([]string(nil), m.node.Config.CommunityNetworks...)
	return &n
}

// IsRunning reports whether the node is marked running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
