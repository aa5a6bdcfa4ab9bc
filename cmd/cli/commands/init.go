package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/samizdat-net/samizdat/internal/config"
	"github.com/samizdat-net/samizdat/internal/identity"
	"github.com/spf13/cobra"
)

var initNonInteractive bool

// NewInitCmd creates the setup wizard command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard",
		Long: `Set up samizdat with a guided wizard.

Walks you through:
  1. Naming your node
  2. Choosing the content folder that is auto-seeded into the network
  3. Enabling anonymity routing by default
  4. Generating Ed25519 node identity keys

Creates: ~/.samizdat/config.yaml, ~/.samizdat/keys/node.key

Filtering and blocking cannot be enabled here or anywhere else; the
network refuses configurations that request them.

For non-interactive setup (CI/CD), use: samizdat init --non-interactive`,
		RunE: runInit,
	}

	cmd.Flags().BoolVar(&initNonInteractive, "non-interactive", false, "Write default config and keys without prompting")

	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	configPath := config.DefaultConfigPath()

	if _, err := os.Stat(configPath); err == nil && initNonInteractive {
		Info(fmt.Sprintf("Config already exists at %s, leaving it in place", configPath))
		return ensureKeys(cfg)
	}

	if initNonInteractive || !isTTY() {
		return writeSetup(cfg, configPath)
	}

	fmt.Println()
	fmt.Println(StatusBox(Logo()+" setup", [][2]string{
		{"", "Welcome! Let's configure your node."},
		{"", "Press Ctrl+C at any time to cancel without making changes."},
	}))
	fmt.Println()

	nodeName := cfg.Node.Name
	contentFolder := cfg.Content.Folder
	anonymity := cfg.Node.AnonymityRouting
	maxConnsStr := strconv.Itoa(cfg.Node.MaxConnections)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Node name").
				Description("A label for this node; it is not an identity.").
				Value(&nodeName),
			huh.NewInput().
				Title("Content folder").
				Description("Files in this folder are auto-seeded into the network.").
				Value(&contentFolder),
			huh.NewConfirm().
				Title("Enable anonymity routing by default?").
				Description("Traffic is relayed through an anonymity circuit from the first connection.").
				Value(&anonymity),
			huh.NewInput().
				Title("Max peer connections").
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 {
						return fmt.Errorf("enter a positive number")
					}
					return nil
				}).
				Value(&maxConnsStr),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Node.Name = nodeName
	cfg.Content.Folder = contentFolder
	cfg.Node.AnonymityRouting = anonymity
	cfg.Node.MaxConnections, _ = strconv.Atoi(maxConnsStr)

	return writeSetup(cfg, configPath)
}

func writeSetup(cfg *config.Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	Success(fmt.Sprintf("Config written to %s", configPath))

	return ensureKeys(cfg)
}

func ensureKeys(cfg *config.Config) error {
	keys, err := identity.NewKeyManager(cfg.Daemon.KeyPath)
	if err != nil {
		return fmt.Errorf("failed to set up node identity: %w", err)
	}
	Success(fmt.Sprintf("Node identity ready (%s)", FormatPeerID(keys.NodeID())))
	fmt.Println(Hint("Run 'samizdat start' to bring the node online."))
	return nil
}
