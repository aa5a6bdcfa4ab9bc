package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cretz/bine/control"
	"github.com/cretz/bine/tor"
	"github.com/cretz/bine/torutil/ed25519"

	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/internal/util"
	"github.com/samizdat-net/samizdat/pkg/types"
)

// torRunner manages the embedded Tor process backing the local
// commander's anonymity commands.
type torRunner struct {
	dataDir string

	mu            sync.RWMutex
	tor           *tor.Tor
	running       bool
	socksAddr     string
	bridgesOn     bool
	onionServices map[int]*tor.OnionService
}

func newTorRunner(dataDir string) (*torRunner, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create tor data directory: %w", err)
	}
	return &torRunner{
		dataDir:       dataDir,
		onionServices: make(map[int]*tor.OnionService),
	}, nil
}

// Start launches Tor and begins bootstrapping in the background, so
// status polls observe the bootstrapped and circuit flags flipping as
// the real circuit comes up. Idempotent.
func (tr *torRunner) Start(ctx context.Context) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.running {
		return nil
	}

	t, err := tor.Start(ctx, &tor.StartConf{DataDir: tr.dataDir})
	if err != nil {
		return fmt.Errorf("start tor: %w", err)
	}

	tr.tor = t
	tr.running = true

	util.SafeGoWithName("tor-bootstrap", func() {
		if err := t.EnableNetwork(context.Background(), true); err != nil {
			logging.Warn("tor bootstrap did not complete", logging.Err(err))
		}
	})

	return nil
}

// Stop shuts Tor down. Onion service close failures are swallowed;
// shutdown always makes local progress.
func (tr *torRunner) Stop() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if !tr.running {
		return nil
	}

	for _, service := range tr.onionServices {
		service.Close()
	}
	tr.onionServices = make(map[int]*tor.OnionService)

	var err error
	if tr.tor != nil {
		err = tr.tor.Close()
		tr.tor = nil
	}

	tr.running = false
	tr.socksAddr = ""
	return err
}

// Status reads bootstrap progress, circuit state and the SOCKS
// listener address from the Tor control connection.
func (tr *torRunner) Status(ctx context.Context) (types.AnonymityStatus, error) {
	tr.mu.RLock()
	t := tr.tor
	running := tr.running
	bridgesOn := tr.bridgesOn
	tr.mu.RUnlock()

	status := types.AnonymityStatus{BridgesEnabled: bridgesOn}
	if !running || t == nil || t.Control == nil {
		return status, nil
	}

	if vals, err := t.Control.GetInfo("status/bootstrap-phase"); err == nil {
		for _, kv := range vals {
			if strings.Contains(kv.Val, "PROGRESS=100") {
				status.Bootstrapped = true
			}
		}
	}

	if vals, err := t.Control.GetInfo("status/circuit-established"); err == nil {
		for _, kv := range vals {
			if strings.TrimSpace(kv.Val) == "1" {
				status.CircuitEstablished = true
			}
		}
	}

	status.SocksAddress = tr.resolveSocksAddr(t)
	return status, nil
}

// resolveSocksAddr asks the control port where the SOCKS listener
// ended up and caches the answer.
func (tr *torRunner) resolveSocksAddr(t *tor.Tor) string {
	tr.mu.RLock()
	cached := tr.socksAddr
	tr.mu.RUnlock()
	if cached != "" {
		return cached
	}

	vals, err := t.Control.GetInfo("net/listeners/socks")
	if err != nil {
		return ""
	}
	for _, kv := range vals {
		addr := strings.Trim(kv.Val, `"`)
		if addr == "" {
			continue
		}
		tr.mu.Lock()
		tr.socksAddr = addr
		tr.mu.Unlock()
		return addr
	}
	return ""
}

// SocksAddress returns the discovered SOCKS listener address, if any.
func (tr *torRunner) SocksAddress() string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.socksAddr
}

// EnableBridges configures pluggable bridge lines and turns bridge
// use on.
func (tr *torRunner) EnableBridges(bridges []string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if !tr.running || tr.tor == nil || tr.tor.Control == nil {
		return fmt.Errorf("tor not running")
	}

	kvs := []*control.KeyVal{control.NewKeyVal("UseBridges", "1")}
	for _, b := range bridges {
		kvs = append(kvs, control.NewKeyVal("Bridge", b))
	}
	if err := tr.tor.Control.SetConf(kvs...); err != nil {
		return fmt.Errorf("enable bridges: %w", err)
	}

	tr.bridgesOn = true
	return nil
}

// CreateOnionService publishes a hidden service forwarding the given
// port and returns its onion address. Keys persist per port so the
// address is stable across restarts.
func (tr *torRunner) CreateOnionService(ctx context.Context, port int) (string, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if !tr.running || tr.tor == nil {
		return "", fmt.Errorf("tor not running")
	}

	if service, exists := tr.onionServices[port]; exists {
		return service.ID + ".onion", nil
	}

	keyPath := filepath.Join(tr.dataDir, fmt.Sprintf("onion_key_%d", port))
	privateKey, err := tr.loadOrGenerateKey(keyPath)
	if err != nil {
		return "", err
	}

	onionService, err := tr.tor.Listen(ctx, &tor.ListenConf{
		RemotePorts: []int{port},
		Key:         privateKey,
	})
	if err != nil {
		return "", fmt.Errorf("create onion service: %w", err)
	}

	tr.onionServices[port] = onionService
	return onionService.ID + ".onion", nil
}

// loadOrGenerateKey loads or generates an Ed25519 key for an onion service
func (tr *torRunner) loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		keyPair, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generate onion key: %w", err)
		}

		privateKey, ok := keyPair.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unexpected onion key pair type")
		}

		if err := os.WriteFile(keyPath, []byte(privateKey), 0600); err != nil {
			return nil, fmt.Errorf("save onion key: %w", err)
		}

		return privateKey, nil
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read onion key: %w", err)
	}

	return ed25519.PrivateKey(keyData), nil
}

// RotateCircuit requests fresh circuits via SIGNAL NEWNYM.
func (tr *torRunner) RotateCircuit() error {
	tr.mu.RLock()
	t := tr.tor
	running := tr.running
	tr.mu.RUnlock()

	if !running || t == nil || t.Control == nil {
		return fmt.Errorf("tor not running")
	}

	if err := t.Control.Signal("NEWNYM"); err != nil {
		return fmt.Errorf("rotate circuit: %w", err)
	}
	return nil
}
