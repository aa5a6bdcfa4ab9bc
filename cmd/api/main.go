// Command api runs the samizdat HTTP gateway as its own process,
// proxying a daemon reachable over its control socket. Most setups
// let the daemon embed the gateway instead; this binary exists for
// deployments that keep the HTTP surface on a separate host or
// service account.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/samizdat-net/samizdat/internal/api"
	"github.com/samizdat-net/samizdat/internal/config"
	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/internal/metrics"
)

var version = "dev"

func main() {
	listenAddr := flag.String("listen", "", "HTTP listen address override")
	socketPath := flag.String("socket", "", "Daemon socket path override")
	configPath := flag.String("config", "", "Path to config file")
	enableCORS := flag.Bool("cors", false, "Enable CORS")
	allowedOrigins := flag.String("allowed-origins", "", "Comma-separated list of allowed CORS origins")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("samizdat-api %s\n", version)
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

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Daemon.LogFormat == "json" {
		logging.SetLogger(slog.New(slog.NewJSONHandler(os.Stdout, opts)))
	} else {
		logging.SetLogger(slog.New(slog.NewTextHandler(os.Stdout, opts)))
	}

	serverCfg := api.LoadConfigFromDaemon(cfg)
	if *listenAddr != "" {
		serverCfg.ListenAddr = *listenAddr
	}
	if *socketPath != "" {
		serverCfg.DaemonSocketPath = *socketPath
	}
	if *enableCORS {
		serverCfg.EnableCORS = true
		if *allowedOrigins != "" {
			serverCfg.AllowedOrigins = strings.Split(*allowedOrigins, ",")
		}
	}

	server := api.NewServer(serverCfg)
	server.SetVersion(version)
	server.SetMetricsCollector(metrics.NewPrometheusCollector(metrics.NewCollector()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting API server: %v\n", err)
		os.Exit(1)
	}

	logging.Info("samizdat API gateway started",
		"listen_address", server.Addr(),
		"daemon_socket", serverCfg.DaemonSocketPath,
		"version", version,
		logging.Component("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logging.Info("signal received, shutting down",
		"signal", sig.String(),
		logging.Component("api"))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logging.Error("shutdown error",
			"error", err.Error(),
			logging.Component("api"))
	}

	logging.Info("shutdown complete", logging.Component("api"))
}
