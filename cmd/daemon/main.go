package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samizdat-net/samizdat/internal/anonymity"
	"github.com/samizdat-net/samizdat/internal/api"
	"github.com/samizdat-net/samizdat/internal/bridge"
	"github.com/samizdat-net/samizdat/internal/community"
	"github.com/samizdat-net/samizdat/internal/config"
	"github.com/samizdat-net/samizdat/internal/content"
	"github.com/samizdat-net/samizdat/internal/daemon"
	"github.com/samizdat-net/samizdat/internal/events"
	"github.com/samizdat-net/samizdat/internal/identity"
	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/internal/metrics"
	"github.com/samizdat-net/samizdat/internal/migration"
	"github.com/samizdat-net/samizdat/internal/node"
	"github.com/samizdat-net/samizdat/internal/peers"
	"github.com/samizdat-net/samizdat/internal/util"
)

// version is stamped by the build via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	socketPath := flag.String("socket", "", "Unix socket path override")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("samizdat-daemon %s\n", version)
		return
	}

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *socketPath != "" {
		cfg.Daemon.SocketPath = *socketPath
	}
	if *logLevel != "" {
		cfg.Daemon.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	// Bring the data directory up to the current layout before anything
	// opens files in it.
	migrator := migration.NewMigrator(cfg.Daemon.DataDir)
	migration.RegisterDefaultMigrations(migrator)
	if err := migrator.LoadApplied(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading migration state: %v\n", err)
		os.Exit(1)
	}
	if err := migrator.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error migrating data directory: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directories: %v\n", err)
		os.Exit(1)
	}

	keys, err := identity.NewKeyManager(cfg.Daemon.KeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading node identity: %v\n", err)
		os.Exit(1)
	}

	commander, closeCommander, err := buildCommander(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating runtime bridge: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	collector := metrics.NewPrometheusCollector(metrics.NewCollector())

	nodeMgr := node.NewManager(commander)
	peerMgr, err := peers.NewManager(commander)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating peer manager: %v\n", err)
		os.Exit(1)
	}
	exchange := content.NewExchange(commander)
	exchange.SetBus(bus)
	communityMgr := community.NewManager(commander)
	communityMgr.SetBus(bus)

	coordinator := anonymity.NewCoordinator(commander, &anonymity.Config{
		BootstrapTimeout: cfg.Anonymity.BootstrapTimeout(),
		PollInterval:     cfg.Anonymity.PollInterval(),
		Bridges:          cfg.Anonymity.Bridges,
	})
	coordinator.SetNodeController(nodeMgr)
	coordinator.SetBus(bus)

	nodeMgr.SetPeerManager(peerMgr)
	nodeMgr.SetSocksSource(coordinator.SocksAddress)

	seeder := content.NewSeeder(exchange, cfg.Content, cfg.Content.SeedExtensions)
	util.SafeGoWithName("content-seeder", func() {
		if err := seeder.Run(ctx); err != nil && ctx.Err() == nil {
			logging.Warn("content seeder stopped",
				"error", err.Error(),
				logging.Component("daemon"))
		}
	})

	apiServer := daemon.NewAPIServer(daemon.Components{
		Node:      nodeMgr,
		Peers:     peerMgr,
		Content:   exchange,
		Community: communityMgr,
		Anonymity: coordinator,
		Seeder:    seeder,
		Bus:       bus,
		Version:   version,
	}, cfg.Daemon.SocketPath, collector)

	if err := apiServer.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting control socket: %v\n", err)
		os.Exit(1)
	}

	var httpServer *api.Server
	if cfg.API.Enabled {
		httpServer = api.NewServer(api.LoadConfigFromDaemon(cfg))
		httpServer.SetEventBus(bus)
		httpServer.SetMetricsCollector(collector)
		httpServer.SetVersion(version)
		if err := httpServer.Start(ctx); err != nil {
			// The node keeps running without the observability surface.
			logging.Error("HTTP API failed to start",
				"error", err.Error(),
				"listen_address", cfg.API.ListenAddress,
				logging.Component("daemon"))
			httpServer = nil
		}
	}

	logging.Info("samizdat daemon started",
		"socket", cfg.Daemon.SocketPath,
		"bridge_mode", cfg.Bridge.Mode,
		"api_enabled", httpServer != nil,
		"version", version,
		logging.NodeID(keys.Fingerprint()),
		logging.Component("daemon"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("signal received, shutting down",
			"signal", sig.String(),
			logging.Component("daemon"))
	case <-apiServer.ShutdownRequested():
		logging.Info("shutdown requested over the control socket",
			logging.Component("daemon"))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logging.Error("HTTP API shutdown error",
				"error", err.Error(),
				logging.Component("daemon"))
		}
	}
	if err := apiServer.Stop(); err != nil {
		logging.Error("control socket shutdown error",
			"error", err.Error(),
			logging.Component("daemon"))
	}

	if nodeMgr.IsRunning() {
		if err := nodeMgr.Stop(shutdownCtx); err != nil {
			logging.Error("node stop error",
				"error", err.Error(),
				logging.Component("daemon"))
		}
	}

	cancel()
	bus.Close()
	if err := closeCommander(); err != nil {
		logging.Error("runtime bridge close error",
			"error", err.Error(),
			logging.Component("daemon"))
	}

	logging.Info("shutdown complete", logging.Component("daemon"))
}

// buildCommander picks the runtime bridge from configuration. Local
// mode drives an embedded Kubo/Tor pair, remote mode talks to an
// external runtime over its command socket.
func buildCommander(cfg *config.Config) (bridge.Commander, func() error, error) {
	switch cfg.Bridge.Mode {
	case config.BridgeModeRemote:
		r := bridge.NewRemote(cfg.Bridge.Address,
			bridge.WithCallTimeout(cfg.Bridge.CallTimeout()),
			bridge.WithRateLimit(float64(cfg.Bridge.RateLimit), cfg.Bridge.RateLimit*2),
		)
		return r, r.Close, nil
	default:
		l, err := bridge.NewLocal(bridge.LocalConfig{
			KuboAPI:    cfg.Bridge.KuboAPI,
			TorDataDir: cfg.Bridge.TorDataDir,
			Bootstrap:  cfg.Bridge.Bootstrap,
		})
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	}
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Daemon.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Daemon.LogFormat == "json" {
		logging.SetLogger(slog.New(slog.NewJSONHandler(os.Stdout, opts)))
	} else {
		logging.SetLogger(slog.New(slog.NewTextHandler(os.Stdout, opts)))
	}

	// Key material and onion addresses must never reach the log, even
	// at debug level.
	logging.EnableRedaction()
}
