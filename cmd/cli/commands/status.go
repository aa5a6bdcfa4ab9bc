package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the node status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show node and network status",
		Long:  "Show the local node's status, peer counts, and anonymity circuit state. Requires daemon.",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	st, err := c.Status()
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if OutputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	nodeID := st.NodeID
	if nodeID == "" {
		nodeID = "(not initialized)"
	}
	socks := st.SocksAddress
	if socks == "" {
		socks = "-"
	}

	fields := [][2]string{
		{"Node ID", FormatPeerID(nodeID)},
		{"Status", st.NodeStatus},
		{"Peers", fmt.Sprintf("%d connected", st.PeerCount)},
		{"Communities", fmt.Sprintf("%d joined", st.NetworkCount)},
		{"Seeded files", fmt.Sprintf("%d", st.SeededFiles)},
		{"Health", fmt.Sprintf("%d/100", st.NetworkHealth)},
		{"Anonymity", st.AnonymityState},
		{"SOCKS proxy", socks},
		{"Uptime", st.Uptime},
		{"Version", st.Version},
	}
	fmt.Println(StatusBox(Logo()+" node", fields))

	if !st.Running {
		fmt.Println(Hint("Node is not running. Start it with 'samizdat start'."))
	} else if st.AnonymityState != "circuit_ready" && !st.CircuitReady {
		fmt.Println(Hint("Anonymity circuit not established. Run 'samizdat anonymity bootstrap'."))
	}

	return nil
}
