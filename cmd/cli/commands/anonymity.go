package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var hiddenServicePort int

// NewAnonymityCmd creates the anonymity command group.
func NewAnonymityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anonymity",
		Short: "Anonymity circuit management",
		Long:  "Inspect and bootstrap the anonymity circuit that relays node traffic. Requires daemon.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show anonymity circuit status",
		RunE:  runAnonymityStatus,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "bootstrap",
		Short: "Bring the node up through the anonymity bootstrap",
		Long: `Start the anonymity subsystem, bind its SOCKS proxy into the node
configuration, start the node, and wait for the circuit to establish.

The wait is bounded; if the circuit is not ready within the configured
deadline the node stays up and the command reports not-ready rather
than failing.`,
		RunE: runAnonymityBootstrap,
	})

	hidden := &cobra.Command{
		Use:   "hidden-service",
		Short: "Expose a local port as an onion service",
		RunE:  runHiddenService,
	}
	hidden.Flags().IntVarP(&hiddenServicePort, "port", "p", 8080, "Local port to expose")
	cmd.AddCommand(hidden)

	return cmd
}

func runAnonymityStatus(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	anon, err := c.AnonymityStatus()
	if err != nil {
		return fmt.Errorf("failed to get anonymity status: %w", err)
	}

	if OutputFormat == "json" {
		out, err := marshalIndent(anon)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	socks := anon.Status.SocksAddress
	if socks == "" {
		socks = "-"
	}

	fmt.Println(StatusBox("Anonymity", [][2]string{
		{"State", anon.State},
		{"Bootstrapped", yesNo(anon.Status.Bootstrapped)},
		{"Circuit", yesNo(anon.Status.CircuitEstablished)},
		{"Bridges", yesNo(anon.Status.BridgesEnabled)},
		{"SOCKS proxy", socks},
	}))

	return nil
}

func runAnonymityBootstrap(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	var circuitReady, nodeOnline bool
	err = WithSpinner("Bootstrapping anonymity circuit", func() error {
		result, err := c.Bootstrap(nil)
		if err != nil {
			return err
		}
		circuitReady = result.CircuitReady
		nodeOnline = result.NodeOnline
		return nil
	})
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	if circuitReady && nodeOnline {
		Success("Circuit established, node online")
	} else if nodeOnline {
		Warning("Node online, circuit not ready before the deadline. It may still establish; check 'samizdat anonymity status'.")
	} else {
		Warning("Bootstrap did not complete before the deadline.")
	}

	return nil
}

func runHiddenService(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	var onion string
	err = WithSpinner("Creating hidden service", func() error {
		addr, err := c.HiddenService(hiddenServicePort)
		if err != nil {
			return err
		}
		onion = addr
		return nil
	})
	if err != nil {
		return fmt.Errorf("hidden service creation failed: %w", err)
	}

	Success("Hidden service created")
	fmt.Println(onion)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
