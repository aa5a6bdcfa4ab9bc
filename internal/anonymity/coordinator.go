// Package anonymity coordinates the anonymity-routing subsystem:
// bringing it up, wiring its SOCKS proxy into the node, and polling
// until the circuit is usable.
package anonymity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/samizdat-net/samizdat/internal/bridge"
	"github.com/samizdat-net/samizdat/internal/events"
	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/internal/status"
	"github.com/samizdat-net/samizdat/pkg/types"
)

// BootstrapState tracks the circuit bring-up.
type BootstrapState int

const (
	// StateUninitialized - no bootstrap has been attempted
	StateUninitialized BootstrapState = iota
	// StateBootstrapping - a bootstrap run is polling for the circuit
	StateBootstrapping
	// StateCircuitReady - the last bootstrap saw circuit and node up
	StateCircuitReady
	// StateTimedOut - the last bootstrap gave up at the deadline
	StateTimedOut
)

func (s BootstrapState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBootstrapping:
		return "bootstrapping"
	case StateCircuitReady:
		return "circuit_ready"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Config holds bootstrap tuning.
type Config struct {
	// BootstrapTimeout is the hard wall-clock deadline for a bootstrap
	// run.
	BootstrapTimeout time.Duration
	// PollInterval is the fixed delay between circuit checks.
	PollInterval time.Duration
	// Bridges are bridge lines installed before the subsystem starts.
	Bridges []string
}

// DefaultConfig returns the standard bootstrap budget.
func DefaultConfig() *Config {
	return &Config{
		BootstrapTimeout: 30 * time.Second,
		PollInterval:     500 * time.Millisecond,
	}
}

// NodeController is the slice of the node lifecycle the bootstrap
// drives.
type NodeController interface {
	Initialize(ctx context.Context, cfg *types.NodeConfig) (*types.Node, error)
	Start(ctx context.Context) error
	EnableAnonymousRouting(ctx context.Context) error
	Status(ctx context.Context) (types.NetworkStatus, error)
}

// Coordinator owns the anonymity status and is the sole writer of the
// SOCKS address the node manager reads at initialization time.
type Coordinator struct {
	commander bridge.Commander
	node      NodeController
	bus       *events.Bus
	clock     clock.Clock
	cfg       *Config

	// opMu serializes subsystem bring-up across the remote calls.
	opMu sync.Mutex
	// bootMu allows at most one bootstrap run at a time.
	bootMu sync.Mutex

	mu          sync.RWMutex
	state       BootstrapState
	status      types.AnonymityStatus
	initialized bool
	started     bool
}

// NewCoordinator creates a coordinator over the given runtime
// commander. A nil config gets the defaults.
func NewCoordinator(commander bridge.Commander, cfg *Config) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		commander: commander,
		clock:     clock.New(),
		cfg:       cfg,
		state:     StateUninitialized,
	}
}

// SetNodeController wires in the node lifecycle driven during
// bootstrap.
func (c *Coordinator) SetNodeController(nc NodeController) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.node = nc
}

// SetBus wires in the event bus for bootstrap completion broadcasts.
func (c *Coordinator) SetBus(bus *events.Bus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bus = bus
}

// SetClock replaces the wall clock, for tests.
func (c *Coordinator) SetClock(clk clock.Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clk
}

// Start initializes and starts the anonymity subsystem. Safe to call
// multiple times; a running subsystem is a no-op success. Configured
// bridges are installed before the first start.
func (c *Coordinator) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	initialized, started := c.initialized, c.started
	c.mu.RUnlock()
	if started {
		return nil
	}

	if !initialized {
		if _, err := c.commander.Call(ctx, bridge.CmdAnonymityInit, nil); err != nil {
			return fmt.Errorf("initialize anonymity subsystem: %w", err)
		}
		c.mu.Lock()
		c.initialized = true
		c.mu.Unlock()
	}

	if len(c.cfg.Bridges) > 0 {
		if err := c.enableBridges(ctx, c.cfg.Bridges); err != nil {
			return fmt.Errorf("install configured bridges: %w", err)
		}
	}

	if _, err := c.commander.Call(ctx, bridge.CmdAnonymityStart, nil); err != nil {
		return fmt.Errorf("start anonymity subsystem: %w", err)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	// Pick up the SOCKS address the subsystem advertises once running.
	// Best effort: the bootstrap poll refreshes again anyway.
	if _, err := c.Status(ctx); err != nil {
		logging.Debug("anonymity status not readable yet",
			logging.Err(err),
			logging.Component("anonymity"))
	}

	logging.Info("anonymity subsystem started",
		"bridges", len(c.cfg.Bridges),
		logging.Component("anonymity"))
	return nil
}

// Status fetches the subsystem status from the runtime and caches it.
// The cache is what SocksAddress serves between polls.
func (c *Coordinator) Status(ctx context.Context) (types.AnonymityStatus, error) {
	raw, err := c.commander.Call(ctx, bridge.CmdAnonymityStatus, nil)
	if err != nil {
		return types.AnonymityStatus{}, fmt.Errorf("anonymity status: %w", err)
	}

	st := status.DecodeAnonymity(raw)

	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
	return st, nil
}

// CachedStatus returns the last status observed without touching the
// runtime.
func (c *Coordinator) CachedStatus() types.AnonymityStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SocksAddress reports the SOCKS listener from the last observed
// status, or empty when no circuit has advertised one yet. The node
// manager consumes this read-only when initializing a node.
func (c *Coordinator) SocksAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.SocksAddress
}

// State returns the current bootstrap state.
func (c *Coordinator) State() BootstrapState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// EnableBridges installs the given bridge lines on the subsystem.
func (c *Coordinator) EnableBridges(ctx context.Context, bridges []string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.enableBridges(ctx, bridges)
}

func (c *Coordinator) enableBridges(ctx context.Context, bridges []string) error {
	if _, err := c.commander.Call(ctx, bridge.CmdAnonymityBridges, map[string]any{"bridges": bridges}); err != nil {
		return fmt.Errorf("enable bridges: %w", err)
	}

	c.mu.Lock()
	c.status.BridgesEnabled = true
	c.mu.Unlock()

	logging.Info("bridges enabled",
		"count", len(bridges),
		logging.Component("anonymity"))
	return nil
}

// UseSocks points the runtime at a SOCKS proxy address.
func (c *Coordinator) UseSocks(ctx context.Context, address string) error {
	if address == "" {
		return bridge.MarkPermanent(fmt.Errorf("socks address required"))
	}
	if _, err := c.commander.Call(ctx, bridge.CmdAnonymitySocks, map[string]any{"address": address}); err != nil {
		return fmt.Errorf("use socks %s: %w", address, err)
	}

	c.mu.Lock()
	c.status.SocksAddress = address
	c.mu.Unlock()
	return nil
}

// CreateHiddenService exposes a local port as a hidden service and
// returns its onion address.
func (c *Coordinator) CreateHiddenService(ctx context.Context, localPort int) (string, error) {
	if localPort <= 0 {
		return "", bridge.MarkPermanent(fmt.Errorf("local port required"))
	}

	raw, err := c.commander.Call(ctx, bridge.CmdAnonymityHiddenService, map[string]any{"local_port": localPort})
	if err != nil {
		return "", fmt.Errorf("create hidden service: %w", err)
	}

	var out struct {
		OnionAddress string `json:"onion_address"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", bridge.MarkTransient(fmt.Errorf("decode hidden service response: %w", err))
	}
	if out.OnionAddress == "" {
		return "", bridge.MarkTransient(fmt.Errorf("runtime returned no onion address"))
	}

	logging.Info("hidden service created",
		"local_port", localPort,
		logging.Component("anonymity"))
	return out.OnionAddress, nil
}

// RotateCircuit asks the runtime for a fresh circuit.
func (c *Coordinator) RotateCircuit(ctx context.Context) error {
	if _, err := c.commander.Call(ctx, bridge.CmdAnonymityRotate, nil); err != nil {
		return fmt.Errorf("rotate circuit: %w", err)
	}
	return nil
}

// Bootstrap brings the whole anonymous stack up: starts the anonymity
// subsystem, binds its SOCKS address into the node configuration,
// initializes and starts the node with anonymity routing requested,
// enables routing, then polls until the circuit is established and the
// node reports online. Polling stops at the deadline; running out of
// time is a normal not-ready result, not an error. The final outcome
// is broadcast on the event bus either way.
func (c *Coordinator) Bootstrap(ctx context.Context, partial *types.NodeConfig) (types.BootstrapResult, error) {
	c.bootMu.Lock()
	defer c.bootMu.Unlock()

	var result types.BootstrapResult

	c.setState(StateBootstrapping)

	if err := c.Start(ctx); err != nil {
		c.setState(StateUninitialized)
		return result, err
	}

	// Bind the SOCKS address before the node starts so the earliest
	// transports inherit the proxy.
	var req types.NodeConfig
	if partial != nil {
		req = *partial
	}
	req.AnonymityRouting = true
	if addr := c.SocksAddress(); addr != "" {
		req.SocksAddress = addr
	}

	nc := c.controller()
	if nc == nil {
		c.setState(StateUninitialized)
		return result, fmt.Errorf("no node controller wired")
	}

	if _, err := nc.Initialize(ctx, &req); err != nil {
		c.setState(StateUninitialized)
		return result, fmt.Errorf("bootstrap node init: %w", err)
	}
	if err := nc.Start(ctx); err != nil {
		c.setState(StateUninitialized)
		return result, fmt.Errorf("bootstrap node start: %w", err)
	}

	// A transient refusal here usually means the circuit is not up
	// yet; the poll loop keeps retrying the enable until it sticks.
	routingEnabled := false
	if err := nc.EnableAnonymousRouting(ctx); err != nil {
		if bridge.IsPermanent(err) {
			c.setState(StateUninitialized)
			return result, fmt.Errorf("bootstrap enable routing: %w", err)
		}
		logging.Debug("routing not enabled yet",
			logging.Err(err),
			logging.Component("anonymity"))
	} else {
		routingEnabled = true
	}

	result = c.poll(ctx, nc, routingEnabled)

	if result.CircuitReady && result.NodeOnline {
		c.setState(StateCircuitReady)
	} else {
		c.setState(StateTimedOut)
	}
	c.broadcast(result)

	logging.Info("anonymity bootstrap resolved",
		"circuit_ready", result.CircuitReady,
		"node_online", result.NodeOnline,
		"state", c.State().String(),
		logging.Component("anonymity"))
	return result, nil
}

// poll checks the circuit on every tick until both the circuit and the
// node are up, the deadline lapses, or the caller aborts. Status
// errors read as "not yet ready".
func (c *Coordinator) poll(ctx context.Context, nc NodeController, routingEnabled bool) types.BootstrapResult {
	var result types.BootstrapResult

	c.mu.RLock()
	clk := c.clock
	c.mu.RUnlock()

	ticker := clk.Ticker(c.cfg.PollInterval)
	defer ticker.Stop()
	deadline := clk.Timer(c.cfg.BootstrapTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return result
		case <-deadline.C:
			return result
		case <-ticker.C:
			if !routingEnabled {
				if err := nc.EnableAnonymousRouting(ctx); err == nil {
					routingEnabled = true
				}
			}

			st, err := c.Status(ctx)
			if err != nil {
				continue
			}
			result.CircuitReady = st.CircuitEstablished
			if !st.CircuitEstablished {
				continue
			}

			ns, err := nc.Status(ctx)
			if err != nil {
				continue
			}
			result.NodeOnline = ns.NodeStatus == types.NodeStatusOnline
			if result.NodeOnline {
				return result
			}
		}
	}
}

func (c *Coordinator) controller() NodeController {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.node
}

func (c *Coordinator) setState(s BootstrapState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) broadcast(result types.BootstrapResult) {
	c.mu.RLock()
	bus := c.bus
	c.mu.RUnlock()
	if bus == nil {
		return
	}
	bus.Publish(events.EventAnonymityBootstrap, result)
}
