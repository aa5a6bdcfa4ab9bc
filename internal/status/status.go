// Package status converts raw runtime payloads into the canonical
// models in pkg/types. The runtime's reporting shape is not stable
// across versions: field names flip between snake_case and camelCase
// and whole sections go missing. Every field resolves through an
// ordered alias list kept in this one package, so defensive parsing
// never spreads into the managers. Absent or wrong-typed fields fall
// back to offline and zero; nothing in here panics on any input.
package status

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/samizdat-net/samizdat/pkg/types"
)

// Alias lists, first present wins.
var (
	nodeStatusAliases        = []string{"node_status", "nodeStatus", "status"}
	connectedPeersAliases    = []string{"connected_peers", "connectedPeers"}
	discoveredPeersAliases   = []string{"discovered_peers", "discoveredPeers"}
	anonymityAliases         = []string{"anonymity_status", "anonymityStatus"}
	contentAddressingAliases = []string{"content_addressing_status", "contentAddressingStatus", "content_addressing"}
	networkHealthAliases     = []string{"network_health", "networkHealth"}
	contentStatsAliases      = []string{"content_stats", "contentStats"}

	bootstrappedAliases = []string{"bootstrapped", "isBootstrapped"}
	circuitAliases      = []string{"circuit_established", "circuitEstablished"}
	bridgesAliases      = []string{"bridges_enabled", "bridgesEnabled"}
	socksAliases        = []string{"socks_address", "socksAddress"}

	publishedAliases   = []string{"published", "publishedCount"}
	pinnedAliases      = []string{"pinned", "pinnedCount"}
	bytesStoredAliases = []string{"bytes_stored", "bytesStored"}
)

// Normalize maps a raw runtime status payload to the canonical
// NetworkStatus. Malformed input returns the all-default status with
// the node offline.
func Normalize(raw []byte) types.NetworkStatus {
	out := types.NetworkStatus{NodeStatus: types.NodeStatusOffline}

	root, ok := parseObject(raw)
	if !ok {
		return out
	}

	out.NodeStatus = types.ParseNodeStatus(strings.ToLower(stringAt(root, nodeStatusAliases)))
	out.ConnectedPeers = countAt(root, connectedPeersAliases)
	out.DiscoveredPeers = countAt(root, discoveredPeersAliases)
	out.ContentAddressing = boolAt(root, contentAddressingAliases)
	out.NetworkHealth = clampHealth(intAt(root, networkHealthAliases))

	if anon := objectAt(root, anonymityAliases); anon.Exists() {
		decoded := decodeAnonymity(anon)
		out.Anonymity = &decoded
	}

	if stats := objectAt(root, contentStatsAliases); stats.Exists() {
		out.ContentStats = types.ContentStats{
			Published:   countAt(stats, publishedAliases),
			Pinned:      countAt(stats, pinnedAliases),
			BytesStored: clampInt64(int64At(stats, bytesStoredAliases)),
		}
	}

	return out
}

// Node init result aliases.
var (
	nodeIDAliases    = []string{"id", "node_id", "nodeId"}
	configAliases    = []string{"config", "node_config", "nodeConfig"}
	createdAtAliases = []string{"created_at", "createdAt"}
)

// DecodeNode parses a runtime node handle: its identity, creation time
// and the echoed effective configuration. Fields the runtime omits
// stay zero; the caller decides what zero means.
func DecodeNode(raw []byte) types.Node {
	var node types.Node

	root, ok := parseObject(raw)
	if !ok {
		return node
	}

	node.ID = stringAt(root, nodeIDAliases)
	node.CreatedAt = timeAt(root, createdAtAliases)
	if cfg := objectAt(root, configAliases); cfg.Exists() {
		node.Config = decodeConfig(cfg)
	}
	return node
}

// DecodeNodeConfig parses a bare configuration payload in either
// naming convention. Used to re-validate configuration echoed back by
// the runtime, so absent protection fields decode to false and never
// to a violation.
func DecodeNodeConfig(raw []byte) types.NodeConfig {
	root, ok := parseObject(raw)
	if !ok {
		return types.NodeConfig{}
	}
	return decodeConfig(root)
}

// DecodeAnonymity parses a bare anonymity status payload. Malformed
// input decodes to the zero status, which reads as not bootstrapped.
func DecodeAnonymity(raw []byte) types.AnonymityStatus {
	root, ok := parseObject(raw)
	if !ok {
		return types.AnonymityStatus{}
	}
	return decodeAnonymity(root)
}

func decodeAnonymity(root gjson.Result) types.AnonymityStatus {
	return types.AnonymityStatus{
		Bootstrapped:       boolAt(root, bootstrappedAliases),
		CircuitEstablished: boolAt(root, circuitAliases),
		BridgesEnabled:     boolAt(root, bridgesAliases),
		SocksAddress:       stringAt(root, socksAliases),
	}
}

// Node config aliases.
var (
	anonymityRoutingAliases   = []string{"anonymity_routing_enabled", "anonymityRoutingEnabled"}
	contentAddrEnabledAliases = []string{"content_addressing_enabled", "contentAddressingEnabled"}
	maxConnectionsAliases     = []string{"max_connections", "maxConnections"}
	filteringAliases          = []string{"filtering_enabled", "filteringEnabled"}
	blockingAliases           = []string{"blocking_enabled", "blockingEnabled"}
	educationalAliases        = []string{"educational_context_enabled", "educationalContextEnabled"}
	communityNetworksAliases  = []string{"community_networks", "communityNetworks"}
	portsAliases              = []string{"ports", "port_config", "portConfig"}
	contentSharingAliases     = []string{"content_sharing", "contentSharing"}
	securityAliases           = []string{"security", "security_policy", "securityPolicy"}

	autoSeedAliases        = []string{"auto_seed", "autoSeed"}
	pinByDefaultAliases    = []string{"pin_by_default", "pinByDefault"}
	verifyProvidersAliases = []string{"verify_providers", "verifyProviders"}
	encryptAtRestAliases   = []string{"encrypt_at_rest", "encryptAtRest"}
)

func decodeConfig(root gjson.Result) types.NodeConfig {
	cfg := types.NodeConfig{
		Name:               stringAt(root, []string{"name"}),
		AnonymityRouting:   boolAt(root, anonymityRoutingAliases),
		ContentAddressing:  boolAt(root, contentAddrEnabledAliases),
		MaxConnections:     countAt(root, maxConnectionsAliases),
		Filtering:          boolAt(root, filteringAliases),
		Blocking:           boolAt(root, blockingAliases),
		EducationalContext: boolAt(root, educationalAliases),
		SocksAddress:       stringAt(root, socksAliases),
	}

	if arr := firstAt(root, communityNetworksAliases); arr.IsArray() {
		for _, item := range arr.Array() {
			if item.Type == gjson.String {
				cfg.CommunityNetworks = append(cfg.CommunityNetworks, item.String())
			}
		}
	}

	if ports := objectAt(root, portsAliases); ports.Exists() {
		cfg.Ports = types.PortConfig{
			P2P:       countAt(ports, []string{"p2p"}),
			HTTP:      countAt(ports, []string{"http"}),
			Anonymity: countAt(ports, []string{"anonymity"}),
		}
	}

	if sharing := objectAt(root, contentSharingAliases); sharing.Exists() {
		cfg.ContentSharing = types.ContentSharingPolicy{
			Enabled:      boolAt(sharing, []string{"enabled"}),
			AutoSeed:     boolAt(sharing, autoSeedAliases),
			PinByDefault: boolAt(sharing, pinByDefaultAliases),
			Replicas:     countAt(sharing, []string{"replicas"}),
		}
	}

	if sec := objectAt(root, securityAliases); sec.Exists() {
		cfg.Security = types.SecurityPolicy{
			VerifyProviders: boolAt(sec, verifyProvidersAliases),
			EncryptAtRest:   boolAt(sec, encryptAtRestAliases),
		}
	}

	return cfg
}

func parseObject(raw []byte) (gjson.Result, bool) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return gjson.Result{}, false
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return gjson.Result{}, false
	}
	return root, true
}

// firstAt returns the first alias present on node.
func firstAt(node gjson.Result, aliases []string) gjson.Result {
	for _, name := range aliases {
		if r := node.Get(name); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func objectAt(node gjson.Result, aliases []string) gjson.Result {
	if r := firstAt(node, aliases); r.IsObject() {
		return r
	}
	return gjson.Result{}
}

func stringAt(node gjson.Result, aliases []string) string {
	r := firstAt(node, aliases)
	if r.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(r.String())
}

func intAt(node gjson.Result, aliases []string) int {
	r := firstAt(node, aliases)
	if r.Type != gjson.Number {
		return 0
	}
	return int(r.Int())
}

func int64At(node gjson.Result, aliases []string) int64 {
	r := firstAt(node, aliases)
	if r.Type != gjson.Number {
		return 0
	}
	return r.Int()
}

func boolAt(node gjson.Result, aliases []string) bool {
	switch firstAt(node, aliases).Type {
	case gjson.True:
		return true
	default:
		return false
	}
}

func timeAt(node gjson.Result, aliases []string) time.Time {
	r := firstAt(node, aliases)
	if r.Type != gjson.String {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, r.String())
	if err != nil {
		return time.Time{}
	}
	return t
}

// countAt reads a non-negative counter; negative values clamp to 0.
func countAt(node gjson.Result, aliases []string) int {
	n := intAt(node, aliases)
	if n < 0 {
		return 0
	}
	return n
}

func clampInt64(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func clampHealth(h int) int {
	if h < 0 {
		return 0
	}
	if h > 100 {
		return 100
	}
	return h
}
