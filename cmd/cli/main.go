package main

import (
	"fmt"
	"os"

	"github.com/samizdat-net/samizdat/cmd/cli/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "samizdat",
	Short: "Samizdat censorship-resistant knowledge network",
	Long: `Samizdat is a client for a decentralized, censorship-resistant
knowledge network. It coordinates a local node, peer connections,
anonymity routing, and content exchange. Nothing on this network is
ever filtered or blocked.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&commands.SocketPath, "socket", "", "Path to daemon socket (default: auto-detect)")
	rootCmd.PersistentFlags().StringVarP(&commands.OutputFormat, "output", "o", "", "Output format: auto, json, plain")
}

func main() {
	rootCmd.AddCommand(commands.NewInitCmd())
	rootCmd.AddCommand(commands.NewStartCmd())
	rootCmd.AddCommand(commands.NewStopCmd())
	rootCmd.AddCommand(commands.NewStatusCmd())
	rootCmd.AddCommand(commands.NewPeersCmd())
	rootCmd.AddCommand(commands.NewContentCmd())
	rootCmd.AddCommand(commands.NewCommunityCmd())
	rootCmd.AddCommand(commands.NewAnonymityCmd())
	rootCmd.AddCommand(commands.NewConfigCmd())
	rootCmd.AddCommand(commands.NewDoctorCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())
	rootCmd.AddCommand(commands.NewCompletionCmd())
	rootCmd.AddCommand(commands.NewManCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
