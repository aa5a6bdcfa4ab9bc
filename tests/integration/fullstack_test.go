//go:build integration

// Package integration wires the full client path together: a scripted
// network runtime behind the bridge, real managers, the daemon API
// server on a unix socket, and the typed daemon client on top. No
// external processes are required.
//
// Run with:
//
//	go test -tags integration -v -timeout 5m ./tests/integration/...
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samizdat-net/samizdat/internal/anonymity"
	"github.com/samizdat-net/samizdat/internal/bridge"
	"github.com/samizdat-net/samizdat/internal/client"
	"github.com/samizdat-net/samizdat/internal/community"
	"github.com/samizdat-net/samizdat/internal/content"
	"github.com/samizdat-net/samizdat/internal/daemon"
	"github.com/samizdat-net/samizdat/internal/events"
	"github.com/samizdat-net/samizdat/internal/metrics"
	"github.com/samizdat-net/samizdat/internal/node"
	"github.com/samizdat-net/samizdat/internal/peers"
	"github.com/samizdat-net/samizdat/pkg/types"
)

const stackNodeID = "node-integration-1"

// runtimeScript is a scripted network runtime that records every
// command it receives.
type runtimeScript struct {
	mu      sync.Mutex
	replies map[string]string
	errors  map[string]error
	calls   []recordedCall
}

type recordedCall struct {
	Command string
	Args    map[string]any
}

func newRuntimeScript() *runtimeScript {
	return &runtimeScript{
		replies: make(map[string]string),
		errors:  make(map[string]error),
	}
}

func (s *runtimeScript) reply(command, raw string) { s.replies[command] = raw }

func (s *runtimeScript) Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, recordedCall{Command: command, Args: args})
	err := s.errors[command]
	raw, scripted := s.replies[command]
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if scripted {
		return json.RawMessage(raw), nil
	}
	if command == bridge.CmdNodeInit {
		cfg, err := json.Marshal(args["config"])
		if err != nil {
			return nil, err
		}
		return json.RawMessage(fmt.Sprintf(`{"id":%q,"config":%s}`, stackNodeID, cfg)), nil
	}
	return json.RawMessage(`{}`), nil
}

func (s *runtimeScript) callsFor(command string) []recordedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedCall
	for _, c := range s.calls {
		if c.Command == command {
			out = append(out, c)
		}
	}
	return out
}

// stack is one fully wired daemon plus a connected client.
type stack struct {
	script *runtimeScript
	client *client.DaemonClient
	server *daemon.APIServer
}

func newStack(t *testing.T, script *runtimeScript) *stack {
	t.Helper()

	nodeMgr := node.NewManager(script)
	peerMgr, err := peers.NewManager(script)
	if err != nil {
		t.Fatalf("peers.NewManager: %v", err)
	}
	nodeMgr.SetPeerManager(peerMgr)

	bus := events.NewBus()
	exchange := content.NewExchange(script)
	exchange.SetBus(bus)
	communityMgr := community.NewManager(script)

	coordinator := anonymity.NewCoordinator(script, &anonymity.Config{
		BootstrapTimeout: 3 * time.Second,
		PollInterval:     20 * time.Millisecond,
	})
	coordinator.SetNodeController(nodeMgr)
	coordinator.SetBus(bus)
	nodeMgr.SetSocksSource(coordinator.SocksAddress)

	// Short path: unix sockets have a tight length limit on macOS.
	socketDir, err := os.MkdirTemp("/tmp", "szd-int")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(socketDir) })
	socketPath := socketDir + "/d.sock"

	server := daemon.NewAPIServer(daemon.Components{
		Node:      nodeMgr,
		Peers:     peerMgr,
		Content:   exchange,
		Community: communityMgr,
		Anonymity: coordinator,
		Bus:       bus,
		Version:   "integration",
	}, socketPath, metrics.NewPrometheusCollector(metrics.NewCollector()))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := server.Start(ctx); err != nil {
		t.Fatalf("server.Start: %v", err)
	}
	t.Cleanup(func() {
		_ = server.Stop()
		bus.Close()
	})

	c := client.NewDaemonClient(socketPath)
	if err := c.Connect(); err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return &stack{script: script, client: c, server: server}
}

func TestLifecycleThroughSocket(t *testing.T) {
	st := newStack(t, newRuntimeScript())

	n, err := st.client.NodeInit(nil)
	if err != nil {
		t.Fatalf("NodeInit: %v", err)
	}
	if n.ID == "" {
		t.Fatal("initialized node has empty id")
	}

	if err := st.client.NodeStart(); err != nil {
		t.Fatalf("NodeStart: %v", err)
	}
	// Idempotent: a second start is a no-op success.
	if err := st.client.NodeStart(); err != nil {
		t.Fatalf("second NodeStart: %v", err)
	}

	status, err := st.client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Error("status should report running after start")
	}
	if status.NodeID != stackNodeID {
		t.Errorf("node id = %q, want %q", status.NodeID, stackNodeID)
	}

	if err := st.client.NodeStop(); err != nil {
		t.Fatalf("NodeStop: %v", err)
	}
	if err := st.client.NodeStop(); err != nil {
		t.Fatalf("second NodeStop should be a no-op: %v", err)
	}
}

func TestInitRejectsFilteringRuntime(t *testing.T) {
	script := newRuntimeScript()
	script.reply(bridge.CmdNodeInit,
		`{"id":"evil","config":{"filtering_enabled":true}}`)
	st := newStack(t, script)

	_, err := st.client.NodeInit(nil)
	if err == nil {
		t.Fatal("NodeInit should fail when the runtime echoes filtering_enabled=true")
	}
	if !strings.Contains(err.Error(), "anti-censorship") {
		t.Errorf("error %q should carry the anti-censorship category", err)
	}
}

func TestPublishStampsOpenAccess(t *testing.T) {
	script := newRuntimeScript()
	script.reply(bridge.CmdContentPublish, `{"hash":"QmStack1","algorithm":"sha2-256"}`)
	st := newStack(t, script)

	if _, err := st.client.NodeInit(nil); err != nil {
		t.Fatalf("NodeInit: %v", err)
	}
	if err := st.client.NodeStart(); err != nil {
		t.Fatalf("NodeStart: %v", err)
	}

	hash, err := st.client.ContentPublish([]byte("banned book"), &types.CulturalContext{
		Origin:       "samizdat-press",
		Significance: types.SignificanceVital,
	})
	if err != nil {
		t.Fatalf("ContentPublish: %v", err)
	}
	if hash.Value != "QmStack1" {
		t.Errorf("hash = %q, want QmStack1", hash.Value)
	}

	calls := script.callsFor(bridge.CmdContentPublish)
	if len(calls) != 1 {
		t.Fatalf("publish calls = %d, want 1", len(calls))
	}
	sent, err := json.Marshal(calls[0].Args["cultural_context"])
	if err != nil {
		t.Fatalf("marshal sent context: %v", err)
	}
	wire := string(sent)
	if !strings.Contains(wire, `"access_restrictions":false`) {
		t.Errorf("wire context missing forced access_restrictions=false: %s", wire)
	}
	if !strings.Contains(wire, `"information_only":true`) {
		t.Errorf("wire context missing forced information_only=true: %s", wire)
	}
}

func TestDiscoveryIgnoresCulturalBoundaries(t *testing.T) {
	script := newRuntimeScript()
	script.reply(bridge.CmdPeersDiscover,
		`{"peers":[{"id":"peer-a","connected":true,"address":"/ip4/10.0.0.2/tcp/4001"}]}`)
	st := newStack(t, script)

	if _, err := st.client.NodeInit(nil); err != nil {
		t.Fatalf("NodeInit: %v", err)
	}
	if err := st.client.NodeStart(); err != nil {
		t.Fatalf("NodeStart: %v", err)
	}

	found, err := st.client.PeersDiscover(10, 5)
	if err != nil {
		t.Fatalf("PeersDiscover: %v", err)
	}
	if len(found) != 1 || found[0].ID != "peer-a" {
		t.Fatalf("discovered = %+v, want peer-a", found)
	}

	// Every discovery round, including the one node start kicks off,
	// forces the boundary flag off.
	for _, call := range script.callsFor(bridge.CmdPeersDiscover) {
		if v, ok := call.Args["respect_cultural_boundaries"].(bool); !ok || v {
			t.Errorf("discovery args must carry respect_cultural_boundaries=false: %v", call.Args)
		}
	}

	// The connected peer from discovery lands in the connected set.
	listed, err := st.client.PeersList()
	if err != nil {
		t.Fatalf("PeersList: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != "peer-a" {
		t.Errorf("connected peers = %+v, want peer-a", listed)
	}
}

func TestBootstrapThroughSocket(t *testing.T) {
	script := newRuntimeScript()
	script.reply(bridge.CmdAnonymityStatus,
		`{"bootstrapped":true,"circuit_established":true,"socks_address":"127.0.0.1:9050"}`)
	script.reply(bridge.CmdNodeStatus, `{"node_status":"online"}`)
	st := newStack(t, script)

	result, err := st.client.Bootstrap(nil)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !result.CircuitReady || !result.NodeOnline {
		t.Fatalf("bootstrap result = %+v, want circuit ready and node online", result)
	}

	// The advertised SOCKS address is bound into the node config
	// before the node starts.
	inits := script.callsFor(bridge.CmdNodeInit)
	if len(inits) == 0 {
		t.Fatal("bootstrap never initialized the node")
	}
	cfg, ok := inits[len(inits)-1].Args["config"].(types.NodeConfig)
	if !ok {
		t.Fatalf("node init args missing config: %v", inits[len(inits)-1].Args)
	}
	if cfg.SocksAddress != "127.0.0.1:9050" {
		t.Errorf("socks address = %q, want 127.0.0.1:9050", cfg.SocksAddress)
	}
	if !cfg.AnonymityRouting {
		t.Error("bootstrap must request anonymity routing")
	}
}

func TestBootstrapTimesOutCleanly(t *testing.T) {
	script := newRuntimeScript()
	script.reply(bridge.CmdAnonymityStatus,
		`{"bootstrapped":true,"circuit_established":false}`)
	st := newStack(t, script)

	start := time.Now()
	result, err := st.client.Bootstrap(nil)
	if err != nil {
		t.Fatalf("Bootstrap should not error on timeout: %v", err)
	}
	if result.CircuitReady {
		t.Error("circuit should not be ready")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("bootstrap took %s, deadline was 3s", elapsed)
	}
}

func TestCommunityRoundTrip(t *testing.T) {
	script := newRuntimeScript()
	script.reply(bridge.CmdCommunityDiscover,
		`{"networks":[{"id":"net-archive","name":"Archive Keepers","member_count":12}]}`)
	script.reply(bridge.CmdCommunityJoin,
		`{"network_id":"net-archive","node_id":"node-integration-1","role":"member"}`)
	st := newStack(t, script)

	if _, err := st.client.NodeInit(nil); err != nil {
		t.Fatalf("NodeInit: %v", err)
	}
	if err := st.client.NodeStart(); err != nil {
		t.Fatalf("NodeStart: %v", err)
	}

	joined, err := st.client.CommunityJoin(&types.JoinRequest{NetworkID: "net-archive"})
	if err != nil {
		t.Fatalf("CommunityJoin: %v", err)
	}
	if joined.NetworkID != "net-archive" {
		t.Errorf("joined network = %q, want net-archive", joined.NetworkID)
	}

	// Join requests carry no access-control capability, ever.
	for _, call := range script.callsFor(bridge.CmdCommunityJoin) {
		for key := range call.Args {
			lower := strings.ToLower(key)
			if strings.Contains(lower, "access") || strings.Contains(lower, "capability") {
				t.Errorf("join request leaked access-control field %q", key)
			}
		}
	}

	networks, err := st.client.CommunityList()
	if err != nil {
		t.Fatalf("CommunityList: %v", err)
	}
	if len(networks.Networks) != 1 {
		t.Fatalf("networks = %+v, want one", networks.Networks)
	}
	if len(networks.Joined) != 1 {
		t.Errorf("memberships = %+v, want one", networks.Joined)
	}

	if err := st.client.CommunityLeave("net-archive"); err != nil {
		t.Fatalf("CommunityLeave: %v", err)
	}
}
