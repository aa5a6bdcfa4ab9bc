package commands

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/samizdat-net/samizdat/internal/client"
	"github.com/samizdat-net/samizdat/internal/config"
	"github.com/spf13/cobra"
)

var (
	startForeground bool
	startDaemonOnly bool
	startAnonymity  bool
)

// NewStartCmd creates the start command.
func NewStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the samizdat daemon and node",
		Long: `Start the samizdat daemon, then initialize and start the local node.

By default the daemon runs in the background. Use --foreground to keep it
attached to the terminal. With --anonymity the node is brought up through
the full anonymity bootstrap so every transport inherits the circuit.`,
		RunE: runStart,
	}

	cmd.Flags().BoolVarP(&startForeground, "foreground", "f", false, "Run the daemon in the foreground")
	cmd.Flags().BoolVar(&startDaemonOnly, "daemon-only", false, "Start the daemon without starting the node")
	cmd.Flags().BoolVar(&startAnonymity, "anonymity", false, "Bring the node up through the anonymity bootstrap")

	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	daemonClient := client.NewDaemonClient(SocketPath)
	if !daemonClient.IsDaemonRunning() {
		if startForeground {
			return startForegroundDaemon()
		}
		if err := startBackgroundDaemon(); err != nil {
			return err
		}
		if err := waitForDaemon(daemonClient, 10*time.Second); err != nil {
			return err
		}
	} else {
		Info("Daemon is already running")
	}

	if startDaemonOnly || startForeground {
		return nil
	}

	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if startAnonymity {
		var ready bool
		err := WithSpinner("Bootstrapping anonymity circuit", func() error {
			result, err := c.Bootstrap(nil)
			if err != nil {
				return err
			}
			ready = result.CircuitReady && result.NodeOnline
			return nil
		})
		if err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}
		if ready {
			Success("Node online with anonymity circuit established")
		} else {
			Warning("Node started, but the circuit is not ready yet. Check 'samizdat anonymity status'.")
		}
		return nil
	}

	err = WithSpinner("Starting node", func() error {
		if _, err := c.NodeInit(nil); err != nil {
			return err
		}
		return c.NodeStart()
	})
	if err != nil {
		return fmt.Errorf("node start failed: %w", err)
	}

	Success("Node started")
	return nil
}

func startForegroundDaemon() error {
	daemonBin := findDaemonBinary()
	if daemonBin == "" {
		return fmt.Errorf("samizdat-daemon binary not found in PATH or next to the CLI")
	}

	fmt.Println("Starting samizdat daemon in foreground. Press Ctrl+C to stop.")

	daemonCmd := exec.Command(daemonBin)
	daemonCmd.Stdout = os.Stdout
	daemonCmd.Stderr = os.Stderr
	daemonCmd.Stdin = os.Stdin

	return daemonCmd.Run()
}

func startBackgroundDaemon() error {
	daemonBin := findDaemonBinary()
	if daemonBin == "" {
		return fmt.Errorf("samizdat-daemon binary not found in PATH or next to the CLI")
	}

	cfg := loadConfigQuiet()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := os.MkdirAll(cfg.Daemon.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	logPath := filepath.Join(cfg.Daemon.DataDir, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open daemon log: %w", err)
	}
	defer logFile.Close()

	daemonCmd := exec.Command(daemonBin)
	daemonCmd.Stdout = logFile
	daemonCmd.Stderr = logFile
	daemonCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := daemonCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	pidFile := filepath.Join(cfg.Daemon.DataDir, "daemon.pid")
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(daemonCmd.Process.Pid)), 0600); err != nil {
		Warning(fmt.Sprintf("Could not write PID file: %v", err))
	}

	// Detach; the daemon outlives the CLI process.
	_ = daemonCmd.Process.Release()

	Info(fmt.Sprintf("Daemon started (logs: %s)", logPath))
	return nil
}

// waitForDaemon polls the socket until the daemon accepts connections.
func waitForDaemon(c *client.DaemonClient, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.IsDaemonRunning() {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not come up within %s", timeout)
}

// findDaemonBinary looks for samizdat-daemon next to the CLI binary,
// then in PATH.
func findDaemonBinary() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "samizdat-daemon")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if path, err := exec.LookPath("samizdat-daemon"); err == nil {
		return path
	}
	return ""
}
