package commands

import (
	"runtime"
	"runtime/debug"

	"github.com/samizdat-net/samizdat/internal/config"
)

// Global CLI flags
var (
	// SocketPath is the path to the daemon socket
	SocketPath string

	// OutputFormat controls output format: "" (auto), "json", "plain"
	OutputFormat string
)

// loadConfigQuiet loads config from the default path, returning nil on error.
func loadConfigQuiet() *config.Config {
	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		return nil
	}
	return cfg
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// GetVersion returns the CLI version, falling back to module build info.
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

// GetCommit returns the VCS commit, from ldflags or build info.
func GetCommit() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				if len(s.Value) > 12 {
					return s.Value[:12]
				}
				return s.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go runtime version.
func GetGoVersion() string {
	return runtime.Version()
}
