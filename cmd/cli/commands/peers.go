package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	discoverMax     int
	discoverTimeout int
	connectRetry    bool
)

// NewPeersCmd creates the peers command group.
func NewPeersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Peer discovery and connections",
		Long:  "List, discover, and manage connections to network peers. Requires daemon.",
		RunE:  runPeersList,
	}

	discover := &cobra.Command{
		Use:   "discover",
		Short: "Discover peers on the network",
		Long: `Discover peers on the network.

Discovery never filters peers by cultural classification; every
reachable peer is visible.`,
		RunE: runPeersDiscover,
	}
	discover.Flags().IntVar(&discoverMax, "max", 20, "Maximum peers to discover")
	discover.Flags().IntVar(&discoverTimeout, "timeout", 30, "Discovery timeout in seconds")

	connect := &cobra.Command{
		Use:   "connect [peer-id]",
		Short: "Connect to a peer",
		Args:  cobra.ExactArgs(1),
		RunE:  runPeersConnect,
	}
	connect.Flags().BoolVar(&connectRetry, "retry", true, "Retry transient connection failures with backoff")

	cmd.AddCommand(discover)
	cmd.AddCommand(connect)
	cmd.AddCommand(&cobra.Command{
		Use:   "disconnect [peer-id]",
		Short: "Disconnect from a peer",
		Args:  cobra.ExactArgs(1),
		RunE:  runPeersDisconnect,
	})

	return cmd
}

func runPeersList(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	peers, err := c.PeersList()
	if err != nil {
		return fmt.Errorf("failed to list peers: %w", err)
	}

	if OutputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(peers)
	}

	if len(peers) == 0 {
		Info("No connected peers.")
		fmt.Println(Hint("Run 'samizdat peers discover' to find peers."))
		return nil
	}

	headers := []string{"Peer ID", "Address", "Last Seen"}
	var rows [][]string
	for _, p := range peers {
		addr := p.Address
		if addr == "" {
			addr = "unknown"
		}
		rows = append(rows, []string{
			FormatPeerID(p.ID),
			addr,
			p.LastSeen.Format("15:04:05"),
		})
	}

	fmt.Println(RenderTable(headers, rows))
	fmt.Println(StyleMuted.Render(fmt.Sprintf("  %d peer(s)", len(peers))))

	return nil
}

func runPeersDiscover(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	var found int
	err = WithSpinner("Discovering peers", func() error {
		peers, err := c.PeersDiscover(discoverMax, discoverTimeout)
		if err != nil {
			return err
		}
		found = len(peers)
		return nil
	})
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	Success(fmt.Sprintf("Discovered %d peer(s)", found))
	return nil
}

func runPeersConnect(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	peerID := args[0]
	err = WithSpinner(fmt.Sprintf("Connecting to %s", FormatPeerID(peerID)), func() error {
		return c.PeersConnect(peerID, connectRetry)
	})
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}

	Success(fmt.Sprintf("Connected to %s", FormatPeerID(peerID)))
	return nil
}

func runPeersDisconnect(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.PeersDisconnect(args[0]); err != nil {
		return fmt.Errorf("disconnect failed: %w", err)
	}

	Success(fmt.Sprintf("Disconnected from %s", FormatPeerID(args[0])))
	return nil
}
