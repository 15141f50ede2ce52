package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/cloudrift-ai/inferline/internal/log"
	"github.com/cloudrift-ai/inferline/internal/provider"
)

func main() {
	fs := flag.NewFlagSet("openai-provider", flag.ExitOnError)
	providerID := fs.String("id", "", "Provider id (default: generated)")
	brokerURL := fs.String("broker", envOr("INFERLINE_BASE_URL", "http://127.0.0.1:8080"), "Broker base URL")
	upstreamURL := fs.String("upstream", envOr("OPENAI_BASE_URL", "http://127.0.0.1:8000"), "OpenAI-compatible upstream base URL")
	apiKey := fs.String("api-key", os.Getenv("OPENAI_API_KEY"), "Upstream API key")
	pollInterval := fs.Duration("poll-interval", time.Second, "Work poll interval")
	refreshInterval := fs.Duration("model-refresh-interval", time.Minute, "Upstream model refresh interval")
	logLevel := fs.String("log-level", "info", "Log level")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	log.Setup(*logLevel)

	if *providerID == "" {
		*providerID = "openai-" + uuid.NewString()[:8]
	}

	p, err := provider.New(provider.Config{
		ProviderID:           *providerID,
		BrokerURL:            *brokerURL,
		UpstreamURL:          *upstreamURL,
		UpstreamAPIKey:       *apiKey,
		PollInterval:         *pollInterval,
		ModelRefreshInterval: *refreshInterval,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Provider failed: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
