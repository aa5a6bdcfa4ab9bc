package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/net/proxy"

	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/internal/util"
	"github.com/samizdat-net/samizdat/pkg/types"
)

// LocalConfig configures the local-mode commander.
type LocalConfig struct {
	// KuboAPI is the HTTP API address of a local Kubo daemon.
	KuboAPI string
	// TorDataDir holds the embedded Tor process state.
	TorDataDir string
	// Bootstrap lists multiaddrs offered as discoverable peers.
	Bootstrap []string
}

// Local is a Commander that runs without an external runtime process:
// node, peer and content commands map onto a local Kubo daemon's HTTP
// API, anonymity commands onto an embedded Tor process. Once a SOCKS
// address is known, the Kubo HTTP client is rebuilt over it so every
// later transport inherits the proxy.
type Local struct {
	cfg LocalConfig
	tor *torRunner

	mu          sync.Mutex
	shell       *shell.Shell
	initialized bool
	started     bool
	nodeID      string
	nodeCfg     types.NodeConfig
	published   int
	memberships map[string]types.NetworkParticipation
}

// NewLocal creates a local-mode commander against the Kubo daemon at
// cfg.KuboAPI.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.KuboAPI == "" {
		cfg.KuboAPI = "localhost:5001"
	}

	tr, err := newTorRunner(cfg.TorDataDir)
	if err != nil {
		return nil, err
	}

	return &Local{
		cfg:         cfg,
		tor:         tr,
		shell:       shell.NewShell(cfg.KuboAPI),
		memberships: make(map[string]types.NetworkParticipation),
	}, nil
}

// api returns the current Kubo client. wireSocks swaps the client, so
// callers must not cache it across commands.
func (l *Local) api() *shell.Shell {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shell
}

// Close stops the embedded Tor process.
func (l *Local) Close() error {
	return l.tor.Stop()
}

// Call dispatches one command. Kubo transport failures classify as
// transient; an unreachable Kubo daemon classifies as unreachable.
func (l *Local) Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	var (
		result any
		err    error
	)

	switch command {
	case CmdNodeInit:
		result, err = l.nodeInit(ctx, args)
	case CmdNodeStart:
		result, err = l.nodeStart(ctx)
	case CmdNodeStop:
		result, err = l.nodeStop(ctx)
	case CmdNodeStatus:
		result, err = l.nodeStatus(ctx)
	case CmdNodeEnableAnonymity:
		result, err = l.nodeEnableAnonymity(ctx)
	case CmdPeersDiscover:
		result, err = l.peersDiscover(ctx, args)
	case CmdPeersConnect:
		result, err = l.peersConnect(ctx, args)
	case CmdPeersDisconnect:
		result, err = l.peersDisconnect(ctx, args)
	case CmdPeersInfo:
		result, err = l.peersInfo(ctx, args)
	case CmdPeersConnected:
		result, err = l.peersConnected(ctx)
	case CmdContentPublish:
		result, err = l.contentPublish(ctx, args)
	case CmdContentRequest:
		result, err = l.contentRequest(ctx, args)
	case CmdContentSync:
		result, err = l.contentSync(ctx, args)
	case CmdCommunityDiscover:
		result, err = nil, fmt.Errorf("%w: no community registry in local mode", ErrUnreachable)
	case CmdCommunityJoin:
		result, err = l.communityJoin(args)
	case CmdCommunityLeave:
		result, err = l.communityLeave(args)
	case CmdCommunityShare:
		result, err = l.communityShare(ctx, args)
	case CmdAnonymityInit:
		result, err = map[string]any{"initialized": true}, nil
	case CmdAnonymityStart:
		result, err = l.anonymityStart(ctx)
	case CmdAnonymityStatus:
		result, err = l.anonymityStatus(ctx)
	case CmdAnonymityBridges:
		result, err = l.anonymityBridges(args)
	case CmdAnonymitySocks:
		result, err = l.anonymitySocks(args)
	case CmdAnonymityHiddenService:
		result, err = l.anonymityHiddenService(ctx, args)
	case CmdAnonymityRotate:
		result, err = map[string]any{"rotated": true}, l.tor.RotateCircuit()
	default:
		return nil, MarkPermanent(fmt.Errorf("unknown command %q", command))
	}

	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (l *Local) nodeInit(ctx context.Context, args map[string]any) (any, error) {
	cfg, err := decodeConfigArg(args)
	if err != nil {
		return nil, MarkPermanent(err)
	}

	id, err := l.kuboID()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.initialized = true
	l.nodeID = id
	l.nodeCfg = cfg
	l.mu.Unlock()

	// Echo the configuration actually applied. Kubo neither filters
	// nor blocks, so the echo matches the request.
	return map[string]any{
		"id":         id,
		"config":     cfg,
		"created_at": time.Now().UTC(),
	}, nil
}

func (l *Local) nodeStart(ctx context.Context) (any, error) {
	l.mu.Lock()
	initialized := l.initialized
	socks := l.nodeCfg.SocksAddress
	l.mu.Unlock()

	if !initialized {
		return nil, MarkPermanent(fmt.Errorf("node not initialized"))
	}

	if socks != "" {
		if err := l.wireSocks(socks); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	l.started = true
	l.mu.Unlock()
	return map[string]any{"started": true}, nil
}

func (l *Local) nodeStop(ctx context.Context) (any, error) {
	l.mu.Lock()
	l.started = false
	l.mu.Unlock()
	return map[string]any{"stopped": true}, nil
}

func (l *Local) nodeStatus(ctx context.Context) (any, error) {
	l.mu.Lock()
	started := l.started
	published := l.published
	l.mu.Unlock()

	status := map[string]any{
		"node_status":               string(types.NodeStatusOffline),
		"connected_peers":           0,
		"discovered_peers":          0,
		"content_addressing_status": true,
		"network_health":            0,
		"content_stats": map[string]any{
			"published": published,
		},
	}

	if !started {
		return status, nil
	}

	peers, err := l.api().SwarmPeers(ctx)
	if err != nil {
		return nil, l.kuboErr("swarm peers", err)
	}

	connected := len(peers.Peers)
	state := types.NodeStatusConnecting
	if connected > 0 {
		state = types.NodeStatusOnline
	}

	health := connected * 10
	if health > 100 {
		health = 100
	}

	status["node_status"] = string(state)
	status["connected_peers"] = connected
	status["discovered_peers"] = connected + len(l.cfg.Bootstrap)
	status["network_health"] = health

	if stats, err := l.repoStat(ctx); err == nil {
		status["content_stats"] = map[string]any{
			"published":    published,
			"pinned":       stats.NumObjects,
			"bytes_stored": stats.RepoSize,
		}
	}

	if anon, err := l.tor.Status(ctx); err == nil && (anon.Bootstrapped || anon.SocksAddress != "") {
		status["anonymity_status"] = anon
	}

	return status, nil
}

func (l *Local) nodeEnableAnonymity(ctx context.Context) (any, error) {
	socks := l.tor.SocksAddress()
	if socks == "" {
		anon, err := l.tor.Status(ctx)
		if err != nil || anon.SocksAddress == "" {
			return nil, MarkTransient(fmt.Errorf("anonymity routing has no socks listener yet"))
		}
		socks = anon.SocksAddress
	}
	if err := l.wireSocks(socks); err != nil {
		return nil, err
	}
	return map[string]any{"anonymity_enabled": true, "socks_address": socks}, nil
}

func (l *Local) peersDiscover(ctx context.Context, args map[string]any) (any, error) {
	maxPeers := intArg(args, "max_peers", 0)

	peersOut, err := l.api().SwarmPeers(ctx)
	if err != nil {
		return nil, l.kuboErr("swarm peers", err)
	}

	now := time.Now().UTC()
	var found []types.Peer
	for _, p := range peersOut.Peers {
		found = append(found, types.Peer{
			ID:        p.Peer,
			Connected: true,
			Address:   p.Addr,
			LastSeen:  now,
		})
	}

	// Bootstrap entries count as discovered but not connected.
	for _, raw := range l.cfg.Bootstrap {
		id, addr, err := splitBootstrapAddr(raw)
		if err != nil {
			logging.Warn("skipping invalid bootstrap address",
				"address", raw, logging.Err(err))
			continue
		}
		found = append(found, types.Peer{
			ID:       id,
			Address:  addr,
			LastSeen: now,
		})
	}

	if maxPeers > 0 && len(found) > maxPeers {
		found = found[:maxPeers]
	}
	return map[string]any{"peers": found}, nil
}

func (l *Local) peersConnect(ctx context.Context, args map[string]any) (any, error) {
	peerID := stringArg(args, "peer_id")
	if peerID == "" {
		return nil, MarkPermanent(fmt.Errorf("peer_id required"))
	}
	if _, err := peer.Decode(peerID); err != nil {
		return nil, MarkPermanent(fmt.Errorf("invalid peer id %q: %w", peerID, err))
	}

	addr := stringArg(args, "address")
	if addr == "" {
		addr = l.bootstrapAddrFor(peerID)
	}
	if addr == "" {
		addr = "/p2p/" + peerID
	}

	if err := l.api().SwarmConnect(ctx, addr); err != nil {
		return nil, l.kuboErr("swarm connect", err)
	}

	return types.Peer{
		ID:        peerID,
		Connected: true,
		Address:   addr,
		LastSeen:  time.Now().UTC(),
	}, nil
}

func (l *Local) peersDisconnect(ctx context.Context, args map[string]any) (any, error) {
	peerID := stringArg(args, "peer_id")
	if peerID == "" {
		return nil, MarkPermanent(fmt.Errorf("peer_id required"))
	}

	addr := l.bootstrapAddrFor(peerID)
	if addr == "" {
		addr = "/p2p/" + peerID
	}

	err := l.api().Request("swarm/disconnect").Arguments(addr).Exec(ctx, nil)
	if err != nil && !strings.Contains(err.Error(), "not connected") {
		return nil, l.kuboErr("swarm disconnect", err)
	}
	return map[string]any{"disconnected": true}, nil
}

func (l *Local) peersInfo(ctx context.Context, args map[string]any) (any, error) {
	peerID := stringArg(args, "peer_id")

	peersOut, err := l.api().SwarmPeers(ctx)
	if err != nil {
		return nil, l.kuboErr("swarm peers", err)
	}

	for _, p := range peersOut.Peers {
		if p.Peer == peerID {
			return types.Peer{
				ID:        p.Peer,
				Connected: true,
				Address:   p.Addr,
				LastSeen:  time.Now().UTC(),
			}, nil
		}
	}
	return nil, MarkPermanent(fmt.Errorf("peer %s: %w", peerID, ErrNotFound))
}

func (l *Local) peersConnected(ctx context.Context) (any, error) {
	peersOut, err := l.api().SwarmPeers(ctx)
	if err != nil {
		return nil, l.kuboErr("swarm peers", err)
	}

	now := time.Now().UTC()
	var connected []types.Peer
	for _, p := range peersOut.Peers {
		connected = append(connected, types.Peer{
			ID:        p.Peer,
			Connected: true,
			Address:   p.Addr,
			LastSeen:  now,
		})
	}
	return map[string]any{"peers": connected}, nil
}

func (l *Local) contentPublish(ctx context.Context, args map[string]any) (any, error) {
	data, err := bytesArg(args, "data")
	if err != nil {
		return nil, MarkPermanent(err)
	}

	cid, err := l.api().Add(bytes.NewReader(data))
	if err != nil {
		return nil, l.kuboErr("add", err)
	}

	if boolArg(args, "pin", true) {
		if err := l.api().Pin(cid); err != nil {
			logging.Warn("pin after publish failed", logging.Hash(cid), logging.Err(err))
		}
	}

	l.mu.Lock()
	l.published++
	l.mu.Unlock()

	return map[string]any{
		"hash": types.ContentHash{Value: cid, Algorithm: "ipfs"},
	}, nil
}

func (l *Local) contentRequest(ctx context.Context, args map[string]any) (any, error) {
	hash := stringArg(args, "hash")
	if hash == "" {
		return nil, MarkPermanent(fmt.Errorf("hash required"))
	}

	reader, err := l.api().Cat(hash)
	if err != nil {
		if strings.Contains(err.Error(), "not found") ||
			strings.Contains(err.Error(), "no link named") {
			return nil, MarkPermanent(fmt.Errorf("content %s: %w", hash, ErrNotFound))
		}
		return nil, l.kuboErr("cat", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, MarkTransient(fmt.Errorf("read content %s: %w", hash, err))
	}

	return types.Content{
		Hash:      types.ContentHash{Value: hash, Algorithm: "ipfs"},
		Data:      data,
		Providers: 1,
	}, nil
}

func (l *Local) contentSync(ctx context.Context, args map[string]any) (any, error) {
	// Local sync verifies that everything pinned is still intact.
	if err := l.api().Request("pin/verify").Exec(ctx, nil); err != nil {
		return nil, l.kuboErr("pin verify", err)
	}
	return map[string]any{
		"synced":     true,
		"request_id": stringArg(args, "id"),
	}, nil
}

func (l *Local) communityJoin(args map[string]any) (any, error) {
	networkID := stringArg(args, "network_id")
	if networkID == "" {
		return nil, MarkPermanent(fmt.Errorf("network_id required"))
	}

	id, err := l.kuboID()
	if err != nil {
		return nil, err
	}

	participation := types.NetworkParticipation{
		NetworkID: networkID,
		NodeID:    id,
		JoinedAt:  time.Now().UTC(),
		Role:      "member",
	}

	l.mu.Lock()
	l.memberships[networkID] = participation
	l.mu.Unlock()

	return participation, nil
}

func (l *Local) communityLeave(args map[string]any) (any, error) {
	networkID := stringArg(args, "network_id")

	l.mu.Lock()
	delete(l.memberships, networkID)
	l.mu.Unlock()

	return map[string]any{"left": true}, nil
}

func (l *Local) communityShare(ctx context.Context, args map[string]any) (any, error) {
	hash := stringArg(args, "hash")
	if hash == "" {
		return nil, MarkPermanent(fmt.Errorf("hash required"))
	}

	// Sharing with a community locally means holding the content for
	// its members, so pin it.
	if err := l.api().Pin(hash); err != nil {
		return nil, l.kuboErr("pin", err)
	}
	return map[string]any{"shared": true}, nil
}

func (l *Local) anonymityStart(ctx context.Context) (any, error) {
	if err := l.tor.Start(ctx); err != nil {
		return nil, MarkTransient(err)
	}
	return map[string]any{"started": true}, nil
}

func (l *Local) anonymityStatus(ctx context.Context) (any, error) {
	status, err := l.tor.Status(ctx)
	if err != nil {
		return nil, MarkTransient(err)
	}
	return status, nil
}

func (l *Local) anonymityBridges(args map[string]any) (any, error) {
	bridges := stringSliceArg(args, "bridges")
	if err := l.tor.EnableBridges(bridges); err != nil {
		return nil, MarkTransient(err)
	}
	return map[string]any{"bridges_enabled": true}, nil
}

func (l *Local) anonymitySocks(args map[string]any) (any, error) {
	addr := stringArg(args, "address")
	if addr == "" {
		return nil, MarkPermanent(fmt.Errorf("address required"))
	}
	if err := l.wireSocks(addr); err != nil {
		return nil, err
	}
	return map[string]any{"socks_address": addr}, nil
}

func (l *Local) anonymityHiddenService(ctx context.Context, args map[string]any) (any, error) {
	port := intArg(args, "local_port", 0)
	if port <= 0 {
		return nil, MarkPermanent(fmt.Errorf("local_port required"))
	}

	onion, err := l.tor.CreateOnionService(ctx, port)
	if err != nil {
		return nil, MarkTransient(err)
	}
	return map[string]any{"onion_address": onion}, nil
}

// wireSocks rebuilds the Kubo HTTP client over a SOCKS5 dialer so all
// later API traffic rides the anonymity circuit.
func (l *Local) wireSocks(socksAddr string) error {
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return MarkPermanent(fmt.Errorf("socks dialer for %s: %w", socksAddr, err))
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, address)
			}
			return dialThroughProxy(ctx, dialer, network, address)
		},
	}

	l.mu.Lock()
	l.shell = shell.NewShellWithClient(l.cfg.KuboAPI, &http.Client{Transport: transport})
	l.mu.Unlock()

	logging.Info("kubo transport now riding socks proxy", "socks_address", socksAddr)
	return nil
}

// dialThroughProxy adapts a Dial-only proxy dialer to context
// cancellation.
func dialThroughProxy(ctx context.Context, dialer proxy.Dialer, network, address string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	resultChan := make(chan result, 1)

	util.SafeGoWithName("socks-dial", func() {
		conn, err := dialer.Dial(network, address)
		resultChan <- result{conn: conn, err: err}
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.conn, res.err
	}
}

func (l *Local) kuboID() (string, error) {
	id, err := l.api().ID()
	if err != nil {
		return "", fmt.Errorf("%w: kubo id: %v", ErrUnreachable, err)
	}
	return id.ID, nil
}

type repoStats struct {
	RepoSize   int64 `json:"RepoSize"`
	NumObjects int   `json:"NumObjects"`
}

func (l *Local) repoStat(ctx context.Context) (*repoStats, error) {
	var stats repoStats
	if err := l.api().Request("repo/stat").Exec(ctx, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// kuboErr classifies a Kubo API failure: connection refusals mean the
// daemon is unreachable, anything else is worth retrying.
func (l *Local) kuboErr(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, op, err)
	}
	return MarkTransient(fmt.Errorf("%s: %w", op, err))
}

func (l *Local) bootstrapAddrFor(peerID string) string {
	for _, raw := range l.cfg.Bootstrap {
		id, _, err := splitBootstrapAddr(raw)
		if err == nil && id == peerID {
			return raw
		}
	}
	return ""
}

// splitBootstrapAddr validates a bootstrap multiaddr and extracts its
// peer identity.
func splitBootstrapAddr(raw string) (peerID, addr string, err error) {
	maddr, err := ma.NewMultiaddr(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse multiaddr: %w", err)
	}

	id, err := maddr.ValueForProtocol(ma.P_P2P)
	if err != nil {
		return "", "", fmt.Errorf("multiaddr missing p2p component: %w", err)
	}
	if _, err := peer.Decode(id); err != nil {
		return "", "", fmt.Errorf("invalid peer id in multiaddr: %w", err)
	}

	return id, raw, nil
}

// Argument bag helpers. The bag may arrive in-process (typed values)
// or from a JSON roundtrip (float64 numbers, base64 strings), so each
// helper accepts both shapes.

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func stringSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func bytesArg(args map[string]any, key string) ([]byte, error) {
	switch v := args[key].(type) {
	case []byte:
		return v, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%s is not valid base64: %w", key, err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%s required", key)
	}
}

func decodeConfigArg(args map[string]any) (types.NodeConfig, error) {
	raw, ok := args["config"]
	if !ok {
		return types.DefaultNodeConfig(), nil
	}

	// Round-trip through JSON so both typed and bag-shaped configs decode.
	data, err := json.Marshal(raw)
	if err != nil {
		return types.NodeConfig{}, fmt.Errorf("encode config: %w", err)
	}
	var cfg types.NodeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return types.NodeConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
