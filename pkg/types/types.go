package types

import (
	"errors"
	"fmt"
	"time"
)

// NodeStatus represents the canonical node state reported by the
// network runtime after normalization.
type NodeStatus string

const (
	NodeStatusOffline    NodeStatus = "offline"
	NodeStatusStarting   NodeStatus = "starting"
	NodeStatusConnecting NodeStatus = "connecting"
	NodeStatusOnline     NodeStatus = "online"
	NodeStatusError      NodeStatus = "error"
	NodeStatusStopping   NodeStatus = "stopping"
)

// IsValid checks if the node status is one of the canonical states.
func (s NodeStatus) IsValid() bool {
	switch s {
	case NodeStatusOffline, NodeStatusStarting, NodeStatusConnecting,
		NodeStatusOnline, NodeStatusError, NodeStatusStopping:
		return true
	default:
		return false
	}
}

// ParseNodeStatus maps a raw backend state string to a canonical
// NodeStatus. Unknown or empty values map to offline.
func ParseNodeStatus(raw string) NodeStatus {
	s := NodeStatus(raw)
	if s.IsValid() {
		return s
	}
	return NodeStatusOffline
}

// ErrAntiCensorship is the sentinel for configuration that asks this
// layer to filter or block content. Matched with errors.Is.
var ErrAntiCensorship = errors.New("anti-censorship violation")

// AntiCensorshipError reports which configuration field carried a
// filtering or blocking request. It is fatal and never downgraded.
type AntiCensorshipError struct {
	Field string
}

func (e *AntiCensorshipError) Error() string {
	return fmt.Sprintf("anti-censorship violation: %s must be false", e.Field)
}

func (e *AntiCensorshipError) Unwrap() error {
	return ErrAntiCensorship
}

// PortConfig holds the listening ports handed to the network runtime.
type PortConfig struct {
	P2P       int `yaml:"p2p" json:"p2p"`
	HTTP      int `yaml:"http" json:"http"`
	Anonymity int `yaml:"anonymity" json:"anonymity"`
}

// ContentSharingPolicy controls how published content is held and
// re-seeded. It shapes availability, never visibility.
type ContentSharingPolicy struct {
	Enabled      bool `yaml:"enabled" json:"enabled"`
	AutoSeed     bool `yaml:"auto_seed" json:"auto_seed"`
	PinByDefault bool `yaml:"pin_by_default" json:"pin_by_default"`
	Replicas     int  `yaml:"replicas" json:"replicas"` // baseline replica hint
}

// SecurityPolicy controls integrity checks on exchanged content.
type SecurityPolicy struct {
	VerifyProviders bool `yaml:"verify_providers" json:"verify_providers"`
	EncryptAtRest   bool `yaml:"encrypt_at_rest" json:"encrypt_at_rest"`
}

// NodeConfig is the effective configuration handed to the network
// runtime when a node is initialized. The runtime echoes back the
// configuration it actually applied, which is re-validated before a
// node is accepted.
type NodeConfig struct {
	Name               string               `yaml:"name" json:"name"`
	AnonymityRouting   bool                 `yaml:"anonymity_routing_enabled" json:"anonymity_routing_enabled"`
	ContentAddressing  bool                 `yaml:"content_addressing_enabled" json:"content_addressing_enabled"`
	MaxConnections     int                  `yaml:"max_connections" json:"max_connections"`
	Ports              PortConfig           `yaml:"ports" json:"ports"`
	Filtering          bool                 `yaml:"filtering_enabled" json:"filtering_enabled"` // must be false
	Blocking           bool                 `yaml:"blocking_enabled" json:"blocking_enabled"`   // must be false
	EducationalContext bool                 `yaml:"educational_context_enabled" json:"educational_context_enabled"`
	CommunityNetworks  []string             `yaml:"community_networks" json:"community_networks,omitempty"`
	ContentSharing     ContentSharingPolicy `yaml:"content_sharing" json:"content_sharing"`
	Security           SecurityPolicy       `yaml:"security" json:"security"`

	// SocksAddress is written only by the anonymity coordinator so
	// transports inherit the proxy from the first connection.
	SocksAddress string `yaml:"socks_address,omitempty" json:"socks_address,omitempty"`
}

// DefaultNodeConfig returns the hard-coded anti-censorship defaults a
// partial configuration is merged over.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Name:               "samizdat-node",
		AnonymityRouting:   false,
		ContentAddressing:  true,
		MaxConnections:     50,
		Ports:              PortConfig{P2P: 4001, HTTP: 5001, Anonymity: 9050},
		Filtering:          false,
		Blocking:           false,
		EducationalContext: true,
		ContentSharing: ContentSharingPolicy{
			Enabled:      true,
			AutoSeed:     true,
			PinByDefault: true,
			Replicas:     2,
		},
		Security: SecurityPolicy{
			VerifyProviders: true,
			EncryptAtRest:   false,
		},
	}
}

// Merge returns a copy of c with every non-zero field of the override
// applied on top. Zero-valued override fields keep c's value, so
// omitting a field can never switch off a protection that defaults to
// on. Filtering and blocking requests are carried through untouched;
// Validate rejects them rather than silently correcting.
func (c NodeConfig) Merge(o *NodeConfig) NodeConfig {
	if o == nil {
		return c
	}
	out := c
	if o.Name != "" {
		out.Name = o.Name
	}
	if o.AnonymityRouting {
		out.AnonymityRouting = true
	}
	if o.ContentAddressing {
		out.ContentAddressing = true
	}
	if o.MaxConnections > 0 {
		out.MaxConnections = o.MaxConnections
	}
	if o.Ports.P2P > 0 {
		out.Ports.P2P = o.Ports.P2P
	}
	if o.Ports.HTTP > 0 {
		out.Ports.HTTP = o.Ports.HTTP
	}
	if o.Ports.Anonymity > 0 {
		out.Ports.Anonymity = o.Ports.Anonymity
	}
	if o.Filtering {
		out.Filtering = true
	}
	if o.Blocking {
		out.Blocking = true
	}
	if o.EducationalContext {
		out.EducationalContext = true
	}
	if len(o.CommunityNetworks) > 0 {
		out.CommunityNetworks = append([]string(nil), o.CommunityNetworks...)
	}
	if o.ContentSharing != (ContentSharingPolicy{}) {
		out.ContentSharing = o.ContentSharing
	}
	if o.Security != (SecurityPolicy{}) {
		out.Security = o.Security
	}
	if o.SocksAddress != "" {
		out.SocksAddress = o.SocksAddress
	}
	return out
}

// Validate rejects configurations that violate the anti-censorship
// invariant. Violations are fatal configuration errors, never
// corrected in place.
func (c *NodeConfig) Validate() error {
	if c.Filtering {
		return &AntiCensorshipError{Field: "filtering_enabled"}
	}
	if c.Blocking {
		return &AntiCensorshipError{Field: "blocking_enabled"}
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative: %d", c.MaxConnections)
	}
	return nil
}

// Node is a handle to an initialized network node. Owned exclusively
// by the lifecycle manager; the running flag lives in the manager,
// not here.
type Node struct {
	ID        string     `json:"id"`
	Config    NodeConfig `json:"config"`
	CreatedAt time.Time  `json:"created_at"`
}

// Peer is one known network participant. Created or refreshed by
// discovery, mutated by connect/disconnect.
type Peer struct {
	ID        string    `json:"id"`
	Connected bool      `json:"connected"`
	Address   string    `json:"address,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// AnonymityStatus describes the anonymity subsystem's progress.
type AnonymityStatus struct {
	Bootstrapped       bool   `json:"bootstrapped"`
	CircuitEstablished bool   `json:"circuit_established"`
	BridgesEnabled     bool   `json:"bridges_enabled"`
	SocksAddress       string `json:"socks_address,omitempty"`
}

// ContentStats summarizes locally held content.
type ContentStats struct {
	Published   int   `json:"published"`
	Pinned      int   `json:"pinned"`
	BytesStored int64 `json:"bytes_stored"`
}

// NetworkStatus is the canonical status model every component reads.
// Only the status normalizer produces it.
type NetworkStatus struct {
	NodeStatus        NodeStatus       `json:"node_status"`
	ConnectedPeers    int              `json:"connected_peers"`
	DiscoveredPeers   int              `json:"discovered_peers"`
	Anonymity         *AnonymityStatus `json:"anonymity_status,omitempty"`
	ContentAddressing bool             `json:"content_addressing_status"`
	NetworkHealth     int              `json:"network_health"` // 0..100
	ContentStats      ContentStats     `json:"content_stats"`
}

// DiscoveryOptions tune a peer discovery round. Managers overwrite
// RespectCulturalBoundaries to false before any request leaves this
// layer.
type DiscoveryOptions struct {
	MaxPeers                  int           `json:"max_peers"`
	Timeout                   time.Duration `json:"-"`
	RespectCulturalBoundaries bool          `json:"respect_cultural_boundaries"`
}

// BootstrapResult is the outcome pair of an anonymity bootstrap run.
// A false CircuitReady after the deadline is a normal result, not an
// error.
type BootstrapResult struct {
	CircuitReady bool `json:"circuit_ready"`
	NodeOnline   bool `json:"node_online"`
}
