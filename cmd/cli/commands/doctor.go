package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samizdat-net/samizdat/internal/config"
	"github.com/samizdat-net/samizdat/internal/doctor"
	"github.com/spf13/cobra"
)

var (
	doctorJSON     bool
	doctorCategory string
	doctorVerbose  bool
)

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check node health and dependencies",
		Long: `Run diagnostic checks to verify the node's environment.

The doctor command checks:
- Configuration validity, including the anti-censorship invariants
- Node identity keys and their permissions
- Tor and Kubo availability for the local runtime bridge
- Data directory and disk space
- The daemon control socket

Examples:
  samizdat doctor                    # Run all checks
  samizdat doctor --json             # Output results as JSON
  samizdat doctor --category config  # Only check configuration`,
		RunE: runDoctor,
	}

	cmd.Flags().BoolVar(&doctorJSON, "json", false, "Output results as JSON")
	cmd.Flags().StringVar(&doctorCategory, "category", "", "Filter checks by category (services, system, config, permissions)")
	cmd.Flags().BoolVarP(&doctorVerbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	var category doctor.Category
	if doctorCategory != "" {
		switch doctorCategory {
		case "services":
			category = doctor.CategoryServices
		case "system":
			category = doctor.CategorySystem
		case "config":
			category = doctor.CategoryConfig
		case "permissions":
			category = doctor.CategoryPermissions
		default:
			return fmt.Errorf("invalid category: %s (valid: services, system, config, permissions)", doctorCategory)
		}
	}

	configPath := config.DefaultConfigPath()
	cfg := loadConfigQuiet()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	d := doctor.New(doctor.Options{
		JSON:     doctorJSON,
		Category: category,
		Verbose:  doctorVerbose,
	}, cfg, configPath)

	report, err := d.Run(ctx)
	if err != nil {
		return fmt.Errorf("doctor check failed: %w", err)
	}

	// Non-zero exit when unhealthy, for CI usage.
	if !report.Summary.IsHealthy() && !doctorJSON {
		os.Exit(1)
	}

	return nil
}
