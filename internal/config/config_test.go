package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samizdat-net/samizdat/pkg/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Daemon.SocketPath == "" {
		t.Error("default socket path should be set")
	}
	if cfg.Daemon.LogLevel != "info" {
		t.Errorf("default log level = %s, want info", cfg.Daemon.LogLevel)
	}
	if cfg.Bridge.Mode != BridgeModeLocal {
		t.Errorf("default bridge mode = %s, want local", cfg.Bridge.Mode)
	}
	if cfg.Anonymity.BootstrapTimeoutSecs != 30 {
		t.Errorf("default bootstrap timeout = %d, want 30", cfg.Anonymity.BootstrapTimeoutSecs)
	}
	if cfg.Anonymity.PollIntervalMillis != 500 {
		t.Errorf("default poll interval = %d, want 500", cfg.Anonymity.PollIntervalMillis)
	}
	if !cfg.Content.AutoSeed {
		t.Error("auto-seed should default on")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Daemon.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Daemon.LogFormat = "xml" },
			wantErr: "log_format",
		},
		{
			name:    "empty socket path",
			mutate:  func(c *Config) { c.Daemon.SocketPath = "" },
			wantErr: "socket_path",
		},
		{
			name:    "bad bridge mode",
			mutate:  func(c *Config) { c.Bridge.Mode = "carrier-pigeon" },
			wantErr: "bridge mode",
		},
		{
			name: "remote mode without address",
			mutate: func(c *Config) {
				c.Bridge.Mode = BridgeModeRemote
				c.Bridge.Address = ""
			},
			wantErr: "bridge address",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Anonymity.PollIntervalMillis = 0 },
			wantErr: "poll_interval",
		},
		{
			name: "timeout below interval",
			mutate: func(c *Config) {
				c.Anonymity.BootstrapTimeoutSecs = 1
				c.Anonymity.PollIntervalMillis = 2000
			},
			wantErr: "exceed the poll interval",
		},
		{
			name: "api enabled without address",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.ListenAddress = ""
			},
			wantErr: "listen_address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_RejectsFilteringRequest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Node.Filtering = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("a config requesting filtering must not validate")
	}
	if !errors.Is(err, types.ErrAntiCensorship) {
		t.Errorf("error should carry the anti-censorship sentinel, got: %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Daemon.LogLevel = "debug"
	cfg.Bridge.KuboAPI = "localhost:5099"
	cfg.Node.MaxConnections = 17
	cfg.Anonymity.Bridges = []string{"obfs4 192.0.2.9:443 cert=xyz"}

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Daemon.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", loaded.Daemon.LogLevel)
	}
	if loaded.Bridge.KuboAPI != "localhost:5099" {
		t.Errorf("KuboAPI = %s", loaded.Bridge.KuboAPI)
	}
	if loaded.Node.MaxConnections != 17 {
		t.Errorf("MaxConnections = %d, want 17", loaded.Node.MaxConnections)
	}
	if len(loaded.Anonymity.Bridges) != 1 {
		t.Errorf("Bridges = %v", loaded.Anonymity.Bridges)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load() of nonexistent file should not error, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config, got nil")
	}
	if cfg.Bridge.Mode != BridgeModeLocal {
		t.Errorf("expected default bridge mode, got %s", cfg.Bridge.Mode)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("{{{{invalid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadPartialOverlaysDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	partial := []byte("daemon:\n  log_level: warn\n")
	if err := os.WriteFile(configPath, partial, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Daemon.LogLevel != "warn" {
		t.Errorf("LogLevel = %s, want warn", cfg.Daemon.LogLevel)
	}
	// Untouched sections keep their defaults.
	if cfg.Bridge.KuboAPI != "localhost:5001" {
		t.Errorf("KuboAPI = %s, want default", cfg.Bridge.KuboAPI)
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(homeDir, "test")},
		{"~/.samizdat", filepath.Join(homeDir, ".samizdat")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := expandPath(tt.input); got != tt.expected {
			t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Daemon.DataDir = filepath.Join(tmpDir, "data")
	cfg.Daemon.KeyPath = filepath.Join(tmpDir, "data", "keys", "node.key")
	cfg.Daemon.SocketPath = filepath.Join(tmpDir, "run", "daemon.sock")
	cfg.Bridge.TorDataDir = filepath.Join(tmpDir, "tor")
	cfg.Content.Folder = filepath.Join(tmpDir, "content")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() error: %v", err)
	}

	for _, dir := range []string{
		cfg.Daemon.DataDir,
		filepath.Dir(cfg.Daemon.KeyPath),
		filepath.Dir(cfg.Daemon.SocketPath),
		cfg.Bridge.TorDataDir,
		cfg.Content.Folder,
	} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s was not created", dir)
		}
	}
}

func TestContentFolder_OffWhenAutoSeedDisabled(t *testing.T) {
	c := ContentConfig{Folder: "/srv/content", AutoSeed: false}
	if got := c.ContentFolder(); got != "" {
		t.Errorf("ContentFolder() = %q, want empty when auto-seed is off", got)
	}
	c.AutoSeed = true
	if got := c.ContentFolder(); got != "/srv/content" {
		t.Errorf("ContentFolder() = %q", got)
	}
}

func TestDurationHelpers(t *testing.T) {
	a := AnonymityConfig{BootstrapTimeoutSecs: 30, PollIntervalMillis: 500}
	if a.BootstrapTimeout().Seconds() != 30 {
		t.Errorf("BootstrapTimeout = %v", a.BootstrapTimeout())
	}
	if a.PollInterval().Milliseconds() != 500 {
		t.Errorf("PollInterval = %v", a.PollInterval())
	}

	b := BridgeConfig{CallTimeoutSecs: 15}
	if b.CallTimeout().Seconds() != 15 {
		t.Errorf("CallTimeout = %v", b.CallTimeout())
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if !strings.HasSuffix(path, filepath.Join(".samizdat", "config.yaml")) {
		t.Errorf("DefaultConfigPath() = %s", path)
	}
}
