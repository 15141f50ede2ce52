package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cloudrift-ai/inferline/internal/api"
	"github.com/cloudrift-ai/inferline/internal/broker"
	"github.com/cloudrift-ai/inferline/internal/config"
	"github.com/cloudrift-ai/inferline/internal/events"
	"github.com/cloudrift-ai/inferline/internal/log"
	"github.com/cloudrift-ai/inferline/internal/storage"
	"github.com/cloudrift-ai/inferline/internal/tui/watch"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "watch":
		os.Exit(runWatch(args))
	case "version":
		fmt.Printf("inferline version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`inferline - Pull-based inference request broker

Usage:
  inferline <command> [flags]

Commands:
  serve     Start the broker service in foreground
  watch     Live terminal monitor for a running broker
  version   Show version information
  help      Show this help message

Serve Flags:
  --config <path>   Configuration file (default: discovered)

Watch Flags:
  --api <url>       Broker base URL (default: http://127.0.0.1:8080)
`)
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	var cfg *config.Config
	if *configPath == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			// No config anywhere: run on defaults.
			cfg = config.Defaults()
		} else {
			*configPath = discovered
			fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
		}
	}
	if cfg == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("inferline starting", "version", version, "state", cfg.State.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("state store opened", "path", cfg.State.Path)

	hub := events.NewHub(256)
	b := broker.New(db, hub, broker.Options{
		ProviderTTL: cfg.Providers.TTL,
		WaitRecheck: cfg.Queue.WaitRecheck,
	})
	reaper := broker.NewReaper(b.Requests(), hub,
		cfg.Queue.PendingTTL, cfg.Queue.ResultRetention, cfg.Queue.ReaperInterval)

	apiServer := api.New(api.Config{
		Listen:            cfg.API.Listen,
		SyncTimeout:       cfg.API.SyncTimeout,
		MaxSyncTimeout:    cfg.API.MaxSyncTimeout,
		MaxConcurrentSync: cfg.API.MaxConcurrentSync,
	}, b, hub, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go reaper.Run(ctx)

	go func() {
		if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("inferline running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("inferline stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8080", "Broker base URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		return 1
	}
	return 0
}
