package commands

import (
	"fmt"

	"github.com/samizdat-net/samizdat/internal/client"
)

// GetClient connects to the daemon socket using the current CLI globals.
func GetClient() (*client.DaemonClient, error) {
	c := client.NewDaemonClient(SocketPath)
	if err := c.Connect(); err != nil {
		return nil, fmt.Errorf("cannot reach the samizdat daemon (is it running? try 'samizdat start'): %w", err)
	}
	return c, nil
}
