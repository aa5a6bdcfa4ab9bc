package peers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/samizdat-net/samizdat/internal/bridge"
	"github.com/samizdat-net/samizdat/pkg/types"
)

// fakeRuntime scripts bridge responses per command and records call
// arguments.
type fakeRuntime struct {
	mu        sync.Mutex
	calls     []string
	responses map[string]json.RawMessage
	errs      map[string]error
	lastArgs  map[string]map[string]any

	// onConnect, when set, decides the outcome of each peers/connect
	// call by attempt number (1-based).
	onConnect func(attempt int) error
	connects  int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		responses: make(map[string]json.RawMessage),
		errs:      make(map[string]error),
		lastArgs:  make(map[string]map[string]any),
	}
}

func (f *fakeRuntime) Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, command)
	f.lastArgs[command] = args

	if command == bridge.CmdPeersConnect && f.onConnect != nil {
		f.connects++
		if err := f.onConnect(f.connects); err != nil {
			return nil, err
		}
		return json.RawMessage(`{}`), nil
	}

	if err := f.errs[command]; err != nil {
		return nil, err
	}
	if resp, ok := f.responses[command]; ok {
		return resp, nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeRuntime) count(command string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		if c == command {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, rt *fakeRuntime) *Manager {
	t.Helper()
	m, err := NewManager(rt)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestManager_Discover_ForcesCulturalBoundariesOff(t *testing.T) {
	rt := newFakeRuntime()
	rt.responses[bridge.CmdPeersDiscover] = json.RawMessage(`{"peers": []}`)

	m := newTestManager(t, rt)
	opts := types.DiscoveryOptions{MaxPeers: 10, RespectCulturalBoundaries: true}
	if _, err := m.Discover(context.Background(), opts); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	args := rt.lastArgs[bridge.CmdPeersDiscover]
	if v, ok := args["respect_cultural_boundaries"].(bool); !ok || v {
		t.Error("discovery must always request respect_cultural_boundaries=false")
	}
	if args["max_peers"] != 10 {
		t.Errorf("max_peers = %v, want 10", args["max_peers"])
	}
}

func TestManager_Discover_MergesConnectedPeers(t *testing.T) {
	rt := newFakeRuntime()
	rt.responses[bridge.CmdPeersDiscover] = json.RawMessage(`{"peers": [
		{"id": "peer-a", "connected": true},
		{"id": "peer-b", "connected": false},
		{"id": "", "connected": true}
	]}`)

	m := newTestManager(t, rt)
	found, err := m.Discover(context.Background(), types.DiscoveryOptions{})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(found) != 3 {
		t.Errorf("found %d peers, want 3", len(found))
	}

	connected := m.ConnectedPeers()
	if len(connected) != 1 || connected[0].ID != "peer-a" {
		t.Errorf("connected set = %v, want only peer-a", connected)
	}

	// Both named peers are remembered, connected or not.
	if _, ok := m.KnownPeer("peer-b"); !ok {
		t.Error("discovered peer-b should be remembered")
	}
}

func TestManager_Discover_LastWriteWins(t *testing.T) {
	rt := newFakeRuntime()
	rt.responses[bridge.CmdPeersDiscover] = json.RawMessage(`{"peers": [
		{"id": "peer-a", "connected": true, "address": "/ip4/1.1.1.1/tcp/4001"}
	]}`)

	m := newTestManager(t, rt)
	if _, err := m.Discover(context.Background(), types.DiscoveryOptions{}); err != nil {
		t.Fatalf("first Discover failed: %v", err)
	}

	rt.responses[bridge.CmdPeersDiscover] = json.RawMessage(`{"peers": [
		{"id": "peer-a", "connected": true, "address": "/ip4/2.2.2.2/tcp/4001"}
	]}`)
	if _, err := m.Discover(context.Background(), types.DiscoveryOptions{}); err != nil {
		t.Fatalf("second Discover failed: %v", err)
	}

	peers := m.ConnectedPeers()
	if len(peers) != 1 || peers[0].Address != "/ip4/2.2.2.2/tcp/4001" {
		t.Errorf("last discovery should win: %+v", peers)
	}
}

func TestManager_Connect_StoresPeerAfterSuccess(t *testing.T) {
	rt := newFakeRuntime()
	rt.responses[bridge.CmdPeersInfo] = json.RawMessage(`{"id": "peer-x", "address": "/ip4/9.9.9.9/tcp/4001"}`)

	m := newTestManager(t, rt)
	if err := m.Connect(context.Background(), "peer-x"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	peers := m.ConnectedPeers()
	if len(peers) != 1 || peers[0].ID != "peer-x" {
		t.Fatalf("peer-x should be connected: %v", peers)
	}
	if !peers[0].Connected || peers[0].Address != "/ip4/9.9.9.9/tcp/4001" {
		t.Errorf("peer record = %+v", peers[0])
	}
	if peers[0].LastSeen.IsZero() {
		t.Error("LastSeen should be set")
	}
}

func TestManager_Connect_FailureLeavesSetUntouched(t *testing.T) {
	rt := newFakeRuntime()
	rt.errs[bridge.CmdPeersConnect] = bridge.MarkTransient(errors.New("timeout"))

	m := newTestManager(t, rt)
	err := m.Connect(context.Background(), "peer-x")
	if err == nil {
		t.Fatal("Connect should fail")
	}
	if !bridge.IsTransient(err) {
		t.Errorf("classification should survive wrapping: %v", err)
	}
	if m.ConnectedCount() != 0 {
		t.Error("failed connect must not mark the peer connected")
	}
}

func TestManager_Connect_EmptyPeerID(t *testing.T) {
	m := newTestManager(t, newFakeRuntime())

	err := m.Connect(context.Background(), "")
	if err == nil {
		t.Fatal("empty peer id should fail")
	}
	if !bridge.IsPermanent(err) {
		t.Errorf("empty peer id should be permanent: %v", err)
	}
}

func TestManager_Connect_InfoFailureDegrades(t *testing.T) {
	rt := newFakeRuntime()
	rt.errs[bridge.CmdPeersInfo] = errors.New("info broke")

	m := newTestManager(t, rt)
	if err := m.Connect(context.Background(), "peer-x"); err != nil {
		t.Fatalf("Connect should succeed despite a failed info call: %v", err)
	}

	peers := m.ConnectedPeers()
	if len(peers) != 1 || peers[0].ID != "peer-x" || !peers[0].Connected {
		t.Errorf("minimal record expected: %+v", peers)
	}
}

func TestManager_ConnectWithRetry_TransientThenSuccess(t *testing.T) {
	rt := newFakeRuntime()
	rt.onConnect = func(attempt int) error {
		if attempt <= 2 {
			return bridge.MarkTransient(fmt.Errorf("transient %d", attempt))
		}
		return nil
	}

	m := newTestManager(t, rt)
	if err := m.ConnectWithRetry(context.Background(), "peer-x"); err != nil {
		t.Fatalf("ConnectWithRetry should eventually succeed: %v", err)
	}
	if rt.connects != 3 {
		t.Errorf("connect attempts = %d, want 3", rt.connects)
	}
	if m.ConnectedCount() != 1 {
		t.Error("peer should be connected after retries")
	}
}

func TestManager_ConnectWithRetry_PermanentFailsFast(t *testing.T) {
	rt := newFakeRuntime()
	rt.onConnect = func(attempt int) error {
		return bridge.MarkPermanent(errors.New("invalid peer id"))
	}

	m := newTestManager(t, rt)
	err := m.ConnectWithRetry(context.Background(), "peer-x")
	if err == nil {
		t.Fatal("permanent failure should propagate")
	}
	if rt.connects != 1 {
		t.Errorf("connect attempts = %d, want 1 (no retry on permanent)", rt.connects)
	}
}

func TestManager_ConnectWithRetry_UnknownErrorsAreRetried(t *testing.T) {
	rt := newFakeRuntime()
	rt.onConnect = func(attempt int) error {
		if attempt == 1 {
			return errors.New("some brand new failure")
		}
		return nil
	}

	m := newTestManager(t, rt)
	if err := m.ConnectWithRetry(context.Background(), "peer-x"); err != nil {
		t.Fatalf("unknown failures should default to the retry path: %v", err)
	}
	if rt.connects != 2 {
		t.Errorf("connect attempts = %d, want 2", rt.connects)
	}
}

// One in twenty connection attempts fails transiently; retrying must
// keep overall success at ninety percent or better across fifty
// attempts.
func TestManager_ConnectWithRetry_ReliabilityUnderTransientFailures(t *testing.T) {
	rt := newFakeRuntime()
	var mu sync.Mutex
	failOnce := false
	rt.onConnect = func(int) error {
		mu.Lock()
		defer mu.Unlock()
		if failOnce {
			failOnce = false
			return bridge.MarkTransient(errors.New("network blip"))
		}
		return nil
	}

	m := newTestManager(t, rt)
	successes := 0
	for i := 1; i <= 50; i++ {
		if i%20 == 0 {
			mu.Lock()
			failOnce = true
			mu.Unlock()
		}
		if err := m.ConnectWithRetry(context.Background(), fmt.Sprintf("peer-%d", i)); err == nil {
			successes++
		}
	}

	if successes < 45 {
		t.Errorf("success rate %d/50, want at least 45/50", successes)
	}
}

// Median reconnect latency across five trials stays under two
// seconds even when each trial hits a transient failure first.
func TestManager_ConnectWithRetry_MedianLatency(t *testing.T) {
	rt := newFakeRuntime()
	var mu sync.Mutex
	perTrial := 0
	rt.onConnect = func(int) error {
		mu.Lock()
		defer mu.Unlock()
		perTrial++
		if perTrial%2 == 1 {
			return bridge.MarkTransient(errors.New("network blip"))
		}
		return nil
	}

	m := newTestManager(t, rt)

	latencies := make([]time.Duration, 0, 5)
	for i := 0; i < 5; i++ {
		start := time.Now()
		if err := m.ConnectWithRetry(context.Background(), fmt.Sprintf("peer-%d", i)); err != nil {
			t.Fatalf("trial %d failed: %v", i, err)
		}
		latencies = append(latencies, time.Since(start))
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	if median := latencies[2]; median >= 2*time.Second {
		t.Errorf("median reconnect latency = %v, want under 2s", median)
	}
}

func TestManager_Disconnect_LocalStateAuthoritative(t *testing.T) {
	rt := newFakeRuntime()
	rt.responses[bridge.CmdPeersInfo] = json.RawMessage(`{"id": "peer-x"}`)

	m := newTestManager(t, rt)
	if err := m.Connect(context.Background(), "peer-x"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	rt.errs[bridge.CmdPeersDisconnect] = errors.New("runtime gone")
	if err := m.Disconnect(context.Background(), "peer-x"); err != nil {
		t.Errorf("Disconnect must succeed locally: %v", err)
	}

	if m.ConnectedCount() != 0 {
		t.Error("peer should be removed despite the remote failure")
	}

	// Still remembered as a known, now-disconnected peer.
	p, ok := m.KnownPeer("peer-x")
	if !ok || p.Connected {
		t.Errorf("known peer record = %+v, ok=%v", p, ok)
	}
}

func TestManager_ConnectedPeers_ReturnsSnapshot(t *testing.T) {
	rt := newFakeRuntime()
	m := newTestManager(t, rt)
	if err := m.Connect(context.Background(), "peer-x"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	snap := m.ConnectedPeers()
	snap[0].ID = "mutated"

	if m.ConnectedPeers()[0].ID != "peer-x" {
		t.Error("mutating the snapshot must not affect the connected set")
	}
}

func TestManager_RefreshConnected(t *testing.T) {
	rt := newFakeRuntime()
	m := newTestManager(t, rt)
	if err := m.Connect(context.Background(), "peer-old"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	rt.responses[bridge.CmdPeersConnected] = json.RawMessage(`{"peers": [
		{"id": "peer-new-1"}, {"id": "peer-new-2"}
	]}`)
	if err := m.RefreshConnected(context.Background()); err != nil {
		t.Fatalf("RefreshConnected failed: %v", err)
	}

	peers := m.ConnectedPeers()
	if len(peers) != 2 {
		t.Fatalf("connected = %v, want the runtime's two peers", peers)
	}
	if peers[0].ID != "peer-new-1" || peers[1].ID != "peer-new-2" {
		t.Errorf("connected = %v", peers)
	}
	if !peers[0].Connected {
		t.Error("refreshed peers should be marked connected")
	}
}

func TestManager_Clear(t *testing.T) {
	rt := newFakeRuntime()
	m := newTestManager(t, rt)
	if err := m.Connect(context.Background(), "peer-x"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	m.Clear()

	if m.ConnectedCount() != 0 {
		t.Error("Clear should empty the connected set")
	}
	if _, ok := m.KnownPeer("peer-x"); !ok {
		t.Error("Clear should keep the discovered cache")
	}
}

func TestDecodePeers_BothShapes(t *testing.T) {
	wrapped := decodePeers(json.RawMessage(`{"peers": [{"id": "a"}]}`))
	if len(wrapped) != 1 || wrapped[0].ID != "a" {
		t.Errorf("wrapped = %v", wrapped)
	}

	bare := decodePeers(json.RawMessage(`[{"id": "b"}]`))
	if len(bare) != 1 || bare[0].ID != "b" {
		t.Errorf("bare = %v", bare)
	}

	if got := decodePeers(json.RawMessage(`"nonsense"`)); got != nil {
		t.Errorf("nonsense = %v, want nil", got)
	}
}
