// Package community manages participation in information-sharing
// networks. Joining and sharing are introductions, not gatekeeping:
// the request types cannot express an access restriction, so neither
// can this manager.
package community

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samizdat-net/samizdat/internal/bridge"
	"github.com/samizdat-net/samizdat/internal/events"
	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/pkg/types"
)

// wellKnownNetworks is the fallback served when the network registry
// cannot be reached. Discovery degrading to this list keeps the
// application usable offline.
var wellKnownNetworks = []types.CommunityNetwork{
	{
		ID:          "open-archives",
		Name:        "Open Archives",
		Description: "General-purpose archival exchange for public documents.",
		Protocols:   []string{"content-exchange/1"},
	},
	{
		ID:          "press-mirror",
		Name:        "Press Mirror",
		Description: "Mirrors of independent journalism and press material.",
		Protocols:   []string{"content-exchange/1", "sync/1"},
	},
	{
		ID:          "education-commons",
		Name:        "Education Commons",
		Description: "Textbooks, courses and reference works.",
		Protocols:   []string{"content-exchange/1"},
	},
}

// Manager tracks this node's community memberships.
type Manager struct {
	commander bridge.Commander
	bus       *events.Bus

	mu          sync.RWMutex
	memberships map[string]types.NetworkParticipation
}

// NewManager creates a community manager over the given runtime
// commander.
func NewManager(commander bridge.Commander) *Manager {
	return &Manager{
		commander:   commander,
		memberships: make(map[string]types.NetworkParticipation),
	}
}

// SetBus wires in the event bus for membership notifications.
func (m *Manager) SetBus(bus *events.Bus) {
	m.bus = bus
}

// DiscoverNetworks lists community networks from the registry. An
// unreachable registry degrades to the built-in well-known list
// instead of failing the caller.
func (m *Manager) DiscoverNetworks(ctx context.Context) ([]types.CommunityNetwork, error) {
	raw, err := m.commander.Call(ctx, bridge.CmdCommunityDiscover, nil)
	if err != nil {
		if bridge.IsUnreachable(err) {
			logging.Warn("community registry unreachable, serving well-known networks",
				logging.Err(err),
				logging.Component("community"))
			return append([]types.CommunityNetwork(nil), wellKnownNetworks...), nil
		}
		return nil, fmt.Errorf("discover networks: %w", err)
	}

	networks, err := decodeNetworks(raw)
	if err != nil {
		return nil, err
	}
	return networks, nil
}

// Join introduces this node to a community network. The outgoing
// payload carries only the informational fields of the request.
func (m *Manager) Join(ctx context.Context, req *types.JoinRequest) (types.NetworkParticipation, error) {
	if req == nil || req.NetworkID == "" {
		return types.NetworkParticipation{}, bridge.MarkPermanent(fmt.Errorf("network id required"))
	}

	args := map[string]any{"network_id": req.NetworkID}
	if req.Introduction != "" {
		args["introduction"] = req.Introduction
	}
	if len(req.SharedInterests) > 0 {
		args["shared_interests"] = req.SharedInterests
	}

	raw, err := m.commander.Call(ctx, bridge.CmdCommunityJoin, args)
	if err != nil {
		return types.NetworkParticipation{}, fmt.Errorf("join %s: %w", req.NetworkID, err)
	}

	var participation types.NetworkParticipation
	if err := json.Unmarshal(raw, &participation); err != nil || participation.NetworkID == "" {
		// An affirmative but shapeless reply still counts as joined.
		participation = types.NetworkParticipation{NetworkID: req.NetworkID}
	}
	if participation.JoinedAt.IsZero() {
		participation.JoinedAt = time.Now().UTC()
	}

	m.mu.Lock()
	m.memberships[req.NetworkID] = participation
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.EventNetworkJoined, req.NetworkID)
	}
	logging.Audit(logging.AuditEvent{
		Operation: "network_joined",
		Target:    req.NetworkID,
		Result:    "success",
	})
	logging.Info("joined community network",
		logging.NetworkID(req.NetworkID),
		logging.Component("community"))
	return participation, nil
}

// Leave withdraws from a community network. The membership is removed
// locally no matter what the registry says; local state is
// authoritative for "not a member" intent, the same way peer
// disconnects work. Remote failures are logged, never propagated.
func (m *Manager) Leave(ctx context.Context, networkID string) error {
	if networkID == "" {
		return bridge.MarkPermanent(fmt.Errorf("network id required"))
	}

	if _, err := m.commander.Call(ctx, bridge.CmdCommunityLeave, map[string]any{"network_id": networkID}); err != nil {
		logging.Warn("remote leave failed, removing membership locally anyway",
			logging.NetworkID(networkID),
			logging.Err(err),
			logging.Component("community"))
	}

	m.mu.Lock()
	delete(m.memberships, networkID)
	m.mu.Unlock()

	logging.Info("left community network",
		logging.NetworkID(networkID),
		logging.Component("community"))
	return nil
}

// ShareWith offers content to a community network. The payload names
// the content and the network, nothing more; there is no field that
// could restrict who else may fetch it.
func (m *Manager) ShareWith(ctx context.Context, hash types.ContentHash, networkID string) error {
	if hash.IsZero() {
		return bridge.MarkPermanent(fmt.Errorf("content hash required"))
	}
	if networkID == "" {
		return bridge.MarkPermanent(fmt.Errorf("network id required"))
	}

	args := map[string]any{
		"hash":       hash.String(),
		"network_id": networkID,
	}
	if _, err := m.commander.Call(ctx, bridge.CmdCommunityShare, args); err != nil {
		return fmt.Errorf("share with %s: %w", networkID, err)
	}

	logging.Info("content shared with network",
		logging.Hash(hash.String()),
		logging.NetworkID(networkID),
		logging.Component("community"))
	return nil
}

// Memberships returns a sorted snapshot of current memberships.
func (m *Manager) Memberships() []types.NetworkParticipation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.NetworkParticipation, 0, len(m.memberships))
	for _, p := range m.memberships {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NetworkID < out[j].NetworkID })
	return out
}

// IsMember reports whether the node currently belongs to the network.
func (m *Manager) IsMember(networkID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.memberships[networkID]
	return ok
}

// decodeNetworks accepts either a wrapped object or a bare array.
func decodeNetworks(raw []byte) ([]types.CommunityNetwork, error) {
	var wrapped struct {
		Networks []types.CommunityNetwork `json:"networks"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Networks != nil {
		return wrapped.Networks, nil
	}

	var bare []types.CommunityNetwork
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, nil
	}
	return nil, bridge.MarkTransient(fmt.Errorf("undecodable network list"))
}
