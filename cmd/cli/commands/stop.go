package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/samizdat-net/samizdat/internal/client"
	"github.com/samizdat-net/samizdat/internal/config"
	"github.com/spf13/cobra"
)

var stopDaemon bool

// NewStopCmd creates the stop command.
func NewStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the local node",
		Long: `Stop the local node. The daemon keeps running so the node can be
restarted quickly; pass --daemon to shut the daemon down as well.`,
		RunE: runStop,
	}

	cmd.Flags().BoolVar(&stopDaemon, "daemon", false, "Also shut down the daemon process")

	return cmd
}

func runStop(cmd *cobra.Command, args []string) error {
	daemonClient := client.NewDaemonClient(SocketPath)
	if !daemonClient.IsDaemonRunning() {
		// No socket; fall back to the PID file in case the daemon is
		// wedged but the process is still alive.
		if stopDaemon {
			return stopDaemonProcess()
		}
		Info("Daemon is not running")
		return nil
	}

	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.NodeStop(); err != nil {
		return fmt.Errorf("node stop failed: %w", err)
	}
	Success("Node stopped")

	if stopDaemon {
		if err := c.Shutdown(); err != nil {
			return fmt.Errorf("daemon shutdown failed: %w", err)
		}
		Success("Daemon shutting down")
	}

	return nil
}

// stopDaemonProcess signals the daemon by PID file as a last resort.
func stopDaemonProcess() error {
	cfg := loadConfigQuiet()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	pidFile := filepath.Join(cfg.Daemon.DataDir, "daemon.pid")

	data, err := os.ReadFile(pidFile)
	if err != nil {
		Info("Daemon is not running")
		return nil
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("invalid PID file %s", pidFile)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		_ = os.Remove(pidFile)
		Info("Daemon is not running")
		return nil
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		_ = os.Remove(pidFile)
		Info("Daemon is not running")
		return nil
	}

	// Give it a moment to exit cleanly before reporting.
	for i := 0; i < 50; i++ {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = os.Remove(pidFile)
	Success("Daemon stopped")
	return nil
}
