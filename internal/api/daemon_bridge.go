package api

import (
	"fmt"
	"sync"

	"github.com/samizdat-net/samizdat/internal/client"
	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/pkg/types"
)

// DaemonBridge keeps a small pool of unix socket clients so HTTP
// handlers don't pay a dial per request.
type DaemonBridge struct {
	socketPath string
	pool       chan *client.DaemonClient
	poolSize   int

	mu     sync.Mutex
	closed bool
}

// NewDaemonBridge creates a new daemon bridge
func NewDaemonBridge(socketPath string, poolSize int) *DaemonBridge {
	if poolSize <= 0 {
		poolSize = 4
	}

	return &DaemonBridge{
		socketPath: socketPath,
		pool:       make(chan *client.DaemonClient, poolSize),
		poolSize:   poolSize,
	}
}

// getClient takes a pooled client or dials a new one
func (b *DaemonBridge) getClient() (*client.DaemonClient, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("daemon bridge closed")
	}

	select {
	case c := <-b.pool:
		return c, nil
	default:
		c := client.NewDaemonClient(b.socketPath)
		if err := c.Connect(); err != nil {
			return nil, fmt.Errorf("connect to daemon: %w", err)
		}
		return c, nil
	}
}

// putClient returns a client to the pool, closing it when the pool is
// full or the bridge is closed
func (b *DaemonBridge) putClient(c *client.DaemonClient) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		c.Close()
		return
	}

	select {
	case b.pool <- c:
	default:
		c.Close()
	}
}

// withClient executes a function with a client from the pool. A client
// whose call failed is closed rather than pooled, since the failure
// may have left the connection mid-stream.
func (b *DaemonBridge) withClient(fn func(*client.DaemonClient) error) error {
	c, err := b.getClient()
	if err != nil {
		return err
	}

	if err := fn(c); err != nil {
		c.Close()
		return err
	}

	b.putClient(c)
	return nil
}

// Status fetches the daemon's status summary
func (b *DaemonBridge) Status() (*client.StatusResponse, error) {
	var result *client.StatusResponse
	err := b.withClient(func(c *client.DaemonClient) error {
		var err error
		result, err = c.Status()
		return err
	})
	return result, err
}

// Peers fetches the connected peer list
func (b *DaemonBridge) Peers() ([]types.Peer, error) {
	var result []types.Peer
	err := b.withClient(func(c *client.DaemonClient) error {
		var err error
		result, err = c.PeersList()
		return err
	})
	return result, err
}

// Networks fetches discoverable networks and current memberships
func (b *DaemonBridge) Networks() (*client.NetworksResponse, error) {
	var result *client.NetworksResponse
	err := b.withClient(func(c *client.DaemonClient) error {
		var err error
		result, err = c.CommunityList()
		return err
	})
	return result, err
}

// Anonymity fetches the anonymity subsystem's state
func (b *DaemonBridge) Anonymity() (*client.AnonymityResponse, error) {
	var result *client.AnonymityResponse
	err := b.withClient(func(c *client.DaemonClient) error {
		var err error
		result, err = c.AnonymityStatus()
		return err
	})
	return result, err
}

// IsConnected checks if the daemon is reachable
func (b *DaemonBridge) IsConnected() bool {
	c, err := b.getClient()
	if err != nil {
		return false
	}
	defer b.putClient(c)
	return c.IsDaemonRunning()
}

// Close drains and closes the pool. The pool channel itself stays
// open so a concurrent putClient can never panic; it just finds the
// bridge closed and closes its client.
func (b *DaemonBridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	for {
		select {
		case c := <-b.pool:
			c.Close()
		default:
			logging.Debug("daemon bridge closed", logging.Component("api"))
			return
		}
	}
}
