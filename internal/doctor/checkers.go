package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/samizdat-net/samizdat/internal/config"
)

// minFreeDiskBytes is the low-water mark below which seeding new
// content becomes unreliable.
const minFreeDiskBytes = 1 << 30 // 1 GiB

// TorBinaryChecker verifies the tor binary the local bridge launches.
type TorBinaryChecker struct {
	cfg *config.Config
}

func NewTorBinaryChecker(cfg *config.Config) *TorBinaryChecker {
	return &TorBinaryChecker{cfg: cfg}
}

func (c *TorBinaryChecker) Name() string       { return "Tor" }
func (c *TorBinaryChecker) Category() Category { return CategoryServices }

func (c *TorBinaryChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	if c.cfg.Bridge.Mode == config.BridgeModeRemote {
		result.Status = StatusSkipped
		result.Message = "Tor: not needed in remote bridge mode"
		return result
	}

	if _, err := exec.LookPath("tor"); err != nil {
		result.Status = StatusError
		result.Message = "Tor: not installed"
		result.FixCommand = "apt install tor (or brew install tor)"
		return result
	}

	result.Status = StatusOK
	result.Message = "Tor: installed"
	return result
}

// KuboAPIChecker verifies the Kubo HTTP API the local bridge drives
// is reachable.
type KuboAPIChecker struct {
	cfg *config.Config
}

func NewKuboAPIChecker(cfg *config.Config) *KuboAPIChecker {
	return &KuboAPIChecker{cfg: cfg}
}

func (c *KuboAPIChecker) Name() string       { return "Kubo API" }
func (c *KuboAPIChecker) Category() Category { return CategoryServices }

func (c *KuboAPIChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	if c.cfg.Bridge.Mode == config.BridgeModeRemote {
		result.Status = StatusSkipped
		result.Message = "Kubo: not needed in remote bridge mode"
		return result
	}

	addr := c.cfg.Bridge.KuboAPI
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Kubo: API not reachable at %s", addr)
		result.Details = "The daemon starts Kubo lazily; this only matters if content commands hang."
		result.FixCommand = "ipfs daemon"
		return result
	}
	conn.Close()

	result.Status = StatusOK
	result.Message = fmt.Sprintf("Kubo: API reachable at %s", addr)
	return result
}

// DaemonSocketChecker verifies the control socket is either absent
// (daemon stopped) or connectable.
type DaemonSocketChecker struct {
	cfg *config.Config
}

func NewDaemonSocketChecker(cfg *config.Config) *DaemonSocketChecker {
	return &DaemonSocketChecker{cfg: cfg}
}

func (c *DaemonSocketChecker) Name() string       { return "Daemon socket" }
func (c *DaemonSocketChecker) Category() Category { return CategoryPermissions }

func (c *DaemonSocketChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}
	path := c.cfg.Daemon.SocketPath

	if _, err := os.Stat(path); os.IsNotExist(err) {
		result.Status = StatusWarning
		result.Message = "Daemon: not running"
		result.FixCommand = "samizdat start"
		return result
	}

	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		result.Status = StatusError
		result.Message = "Daemon: socket exists but refuses connections"
		result.Details = fmt.Sprintf("Stale socket at %s. Remove it and restart the daemon.", path)
		result.FixCommand = fmt.Sprintf("rm %s && samizdat start", path)
		return result
	}
	conn.Close()

	result.Status = StatusOK
	result.Message = "Daemon: running"
	return result
}

// ConfigFileChecker loads and validates the configuration, including
// the anti-censorship invariants.
type ConfigFileChecker struct {
	path string
}

func NewConfigFileChecker(path string) *ConfigFileChecker {
	return &ConfigFileChecker{path: path}
}

func (c *ConfigFileChecker) Name() string       { return "Configuration" }
func (c *ConfigFileChecker) Category() Category { return CategoryConfig }

func (c *ConfigFileChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	if _, err := os.Stat(c.path); os.IsNotExist(err) {
		result.Status = StatusWarning
		result.Message = "Config: no file, defaults in effect"
		result.FixCommand = "samizdat init"
		return result
	}

	cfg, err := config.Load(c.path)
	if err != nil {
		result.Status = StatusError
		result.Message = "Config: failed to load"
		result.Details = err.Error()
		return result
	}

	if err := cfg.Validate(); err != nil {
		result.Status = StatusError
		result.Message = "Config: invalid"
		result.Details = err.Error()
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("Config: valid (%s)", c.path)
	return result
}

// NodeKeysChecker verifies the node identity key exists with sane
// permissions.
type NodeKeysChecker struct {
	cfg *config.Config
}

func NewNodeKeysChecker(cfg *config.Config) *NodeKeysChecker {
	return &NodeKeysChecker{cfg: cfg}
}

func (c *NodeKeysChecker) Name() string       { return "Node keys" }
func (c *NodeKeysChecker) Category() Category { return CategoryConfig }

func (c *NodeKeysChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}
	path := c.cfg.Daemon.KeyPath

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		result.Status = StatusWarning
		result.Message = "Node keys: not generated yet"
		result.FixCommand = "samizdat init"
		return result
	}
	if err != nil {
		result.Status = StatusError
		result.Message = "Node keys: unreadable"
		result.Details = err.Error()
		return result
	}

	if perm := info.Mode().Perm(); perm&0077 != 0 {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Node keys: permissions too open (%04o)", perm)
		result.FixCommand = fmt.Sprintf("chmod 600 %s", path)
		return result
	}

	result.Status = StatusOK
	result.Message = "Node keys: present"
	return result
}

// DataDirChecker verifies the data directory is writable.
type DataDirChecker struct {
	cfg *config.Config
}

func NewDataDirChecker(cfg *config.Config) *DataDirChecker {
	return &DataDirChecker{cfg: cfg}
}

func (c *DataDirChecker) Name() string       { return "Data directory" }
func (c *DataDirChecker) Category() Category { return CategorySystem }

func (c *DataDirChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}
	dir := c.cfg.Daemon.DataDir

	if err := os.MkdirAll(dir, 0700); err != nil {
		result.Status = StatusError
		result.Message = fmt.Sprintf("Data dir: cannot create %s", dir)
		result.Details = err.Error()
		return result
	}

	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		result.Status = StatusError
		result.Message = fmt.Sprintf("Data dir: not writable (%s)", dir)
		result.Details = err.Error()
		return result
	}
	os.Remove(probe)

	result.Status = StatusOK
	result.Message = fmt.Sprintf("Data dir: writable (%s)", dir)
	return result
}

// DiskSpaceChecker warns when the data directory's filesystem is
// close to full.
type DiskSpaceChecker struct {
	cfg *config.Config
}

func NewDiskSpaceChecker(cfg *config.Config) *DiskSpaceChecker {
	return &DiskSpaceChecker{cfg: cfg}
}

func (c *DiskSpaceChecker) Name() string       { return "Disk space" }
func (c *DiskSpaceChecker) Category() Category { return CategorySystem }

func (c *DiskSpaceChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(c.cfg.Daemon.DataDir, &stat); err != nil {
		result.Status = StatusSkipped
		result.Message = "Disk: could not stat data directory filesystem"
		return result
	}

	free := stat.Bavail * uint64(stat.Bsize)
	if free < minFreeDiskBytes {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Disk: only %d MiB free for seeded content", free>>20)
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("Disk: %d GiB free", free>>30)
	return result
}
