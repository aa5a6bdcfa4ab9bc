package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/samizdat-net/samizdat/pkg/types"
)

// Config represents the complete daemon configuration
type Config struct {
	Daemon    DaemonConfig     `yaml:"daemon"`
	API       APIConfig        `yaml:"api"`
	Bridge    BridgeConfig     `yaml:"bridge"`
	Node      types.NodeConfig `yaml:"node"`
	Anonymity AnonymityConfig  `yaml:"anonymity"`
	Content   ContentConfig    `yaml:"content"`
}

// DaemonConfig contains daemon settings
type DaemonConfig struct {
	DataDir    string `yaml:"data_dir"`
	KeyPath    string `yaml:"key_path"`
	SocketPath string `yaml:"socket_path"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // "json" or "text"
}

// APIConfig contains HTTP API server settings
type APIConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`

	// Rate limiting
	RateLimitRequests   int `yaml:"rate_limit_requests"`    // Max requests per window (default: 100)
	RateLimitWindowSecs int `yaml:"rate_limit_window_secs"` // Window duration in seconds (default: 60)

	// Connection limits
	MaxConcurrentConns int `yaml:"max_concurrent_conns"` // Max concurrent connections (default: 100)
	MaxRequestSize     int `yaml:"max_request_size"`     // Max request body size in bytes (default: 1MB)

	// Timeouts
	ReadTimeoutSecs  int `yaml:"read_timeout_secs"`  // Read timeout (default: 30)
	WriteTimeoutSecs int `yaml:"write_timeout_secs"` // Write timeout (default: 30)
	IdleTimeoutSecs  int `yaml:"idle_timeout_secs"`  // Idle connection timeout (default: 120)
}

// DefaultAPIConfig returns the default API configuration
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Enabled:             true,
		ListenAddress:       "127.0.0.1:7700",
		RateLimitRequests:   100,
		RateLimitWindowSecs: 60,
		MaxConcurrentConns:  100,
		MaxRequestSize:      1024 * 1024, // 1MB
		ReadTimeoutSecs:     30,
		WriteTimeoutSecs:    30,
		IdleTimeoutSecs:     120,
	}
}

// Bridge modes. Local drives an embedded Kubo/Tor pair, remote talks
// to an external runtime over its command socket.
const (
	BridgeModeLocal  = "local"
	BridgeModeRemote = "remote"
)

// BridgeConfig selects and tunes the network runtime bridge
type BridgeConfig struct {
	Mode            string `yaml:"mode"`    // "local" or "remote"
	Address         string `yaml:"address"` // remote mode: unix socket path or host:port
	CallTimeoutSecs int    `yaml:"call_timeout_secs"`
	RateLimit       int    `yaml:"rate_limit"` // remote calls per second

	// Local mode
	KuboAPI    string   `yaml:"kubo_api"`
	TorDataDir string   `yaml:"tor_data_dir"`
	Bootstrap  []string `yaml:"bootstrap"` // multiaddrs seeded into discovery
}

// CallTimeout returns the per-command deadline for the remote bridge.
func (b BridgeConfig) CallTimeout() time.Duration {
	return time.Duration(b.CallTimeoutSecs) * time.Second
}

// AnonymityConfig tunes the circuit bootstrap
type AnonymityConfig struct {
	BootstrapTimeoutSecs int      `yaml:"bootstrap_timeout_secs"`
	PollIntervalMillis   int      `yaml:"poll_interval_millis"`
	Bridges              []string `yaml:"bridges"` // bridge lines installed before start
}

// BootstrapTimeout returns the bootstrap deadline as a duration.
func (a AnonymityConfig) BootstrapTimeout() time.Duration {
	return time.Duration(a.BootstrapTimeoutSecs) * time.Second
}

// PollInterval returns the poll interval as a duration.
func (a AnonymityConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMillis) * time.Millisecond
}

// ContentConfig controls the auto-seeded content folder
type ContentConfig struct {
	Folder         string   `yaml:"folder"`
	AutoSeed       bool     `yaml:"auto_seed"`
	SeedExtensions []string `yaml:"seed_extensions"`
}

// ContentFolder reports the folder to auto-seed, or empty when
// seeding is off. Satisfies the seeder's settings interface.
func (c ContentConfig) ContentFolder() string {
	if !c.AutoSeed {
		return ""
	}
	return c.Folder
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".samizdat")

	return &Config{
		Daemon: DaemonConfig{
			DataDir:    dataDir,
			KeyPath:    filepath.Join(dataDir, "keys", "node.key"),
			SocketPath: filepath.Join(dataDir, "daemon.sock"),
			LogLevel:   "info",
			LogFormat:  "text",
		},
		API: DefaultAPIConfig(),
		Bridge: BridgeConfig{
			Mode:            BridgeModeLocal,
			CallTimeoutSecs: 30,
			RateLimit:       50,
			KuboAPI:         "localhost:5001",
			TorDataDir:      filepath.Join(dataDir, "tor"),
		},
		Anonymity: AnonymityConfig{
			BootstrapTimeoutSecs: 30,
			PollIntervalMillis:   500,
		},
		Content: ContentConfig{
			Folder:   filepath.Join(dataDir, "content"),
			AutoSeed: true,
		},
	}
}

// Load loads configuration from file, falling back to defaults if the
// file doesn't exist
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Daemon.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.Daemon.LogLevel)
	}
	if c.Daemon.LogFormat != "json" && c.Daemon.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s", c.Daemon.LogFormat)
	}
	if c.Daemon.SocketPath == "" {
		return fmt.Errorf("socket_path must be set")
	}

	if c.Bridge.Mode != BridgeModeLocal && c.Bridge.Mode != BridgeModeRemote {
		return fmt.Errorf("invalid bridge mode: %s", c.Bridge.Mode)
	}
	if c.Bridge.Mode == BridgeModeRemote && c.Bridge.Address == "" {
		return fmt.Errorf("bridge address must be set in remote mode")
	}
	if c.Bridge.CallTimeoutSecs < 1 {
		return fmt.Errorf("call_timeout_secs must be at least 1")
	}
	if c.Bridge.RateLimit < 1 {
		return fmt.Errorf("bridge rate_limit must be at least 1")
	}

	// The node section is a partial merged over the anti-censorship
	// defaults at initialize time, but a config file that asks for
	// filtering or blocking is rejected right here.
	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node: %w", err)
	}

	if c.Anonymity.BootstrapTimeoutSecs < 1 {
		return fmt.Errorf("bootstrap_timeout_secs must be at least 1")
	}
	if c.Anonymity.PollIntervalMillis < 1 {
		return fmt.Errorf("poll_interval_millis must be at least 1")
	}
	if c.Anonymity.BootstrapTimeout() <= c.Anonymity.PollInterval() {
		return fmt.Errorf("bootstrap timeout must exceed the poll interval")
	}

	if c.API.Enabled {
		if c.API.ListenAddress == "" {
			return fmt.Errorf("api listen_address must be set when the API is enabled")
		}
		if c.API.RateLimitRequests < 1 {
			return fmt.Errorf("api rate_limit_requests must be at least 1")
		}
		if c.API.MaxRequestSize < 1 {
			return fmt.Errorf("api max_request_size must be at least 1")
		}
	}

	return nil
}

// expandPaths expands ~ in all path fields
func (c *Config) expandPaths() {
	c.Daemon.DataDir = expandPath(c.Daemon.DataDir)
	c.Daemon.KeyPath = expandPath(c.Daemon.KeyPath)
	c.Daemon.SocketPath = expandPath(c.Daemon.SocketPath)
	c.Bridge.TorDataDir = expandPath(c.Bridge.TorDataDir)
	c.Content.Folder = expandPath(c.Content.Folder)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".samizdat", "config.yaml")
}

// EnsureDirectories creates all directories the daemon needs
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Daemon.DataDir,
		filepath.Dir(c.Daemon.KeyPath),
		filepath.Dir(c.Daemon.SocketPath),
		c.Bridge.TorDataDir,
	}
	if c.Content.AutoSeed && c.Content.Folder != "" {
		dirs = append(dirs, c.Content.Folder)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
