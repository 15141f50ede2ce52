// Package provider implements a worker that bridges the broker queue to an
// OpenAI-compatible upstream endpoint.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cloudrift-ai/inferline/internal/log"
	"github.com/cloudrift-ai/inferline/pkg/client"
)

// Supported request kinds.
const (
	KindCompletion     = "completion"
	KindChatCompletion = "chat.completion"
)

// Config holds provider settings, typically from flags or environment.
type Config struct {
	ProviderID           string
	BrokerURL            string
	UpstreamURL          string
	UpstreamAPIKey       string
	PollInterval         time.Duration
	ModelRefreshInterval time.Duration
}

// Provider polls the broker for work it can serve and forwards payloads to
// the upstream endpoint. The model list is refreshed from the upstream so
// capability advertisements track what the upstream actually serves.
type Provider struct {
	cfg      Config
	broker   *client.Client
	upstream *http.Client

	mu     sync.RWMutex
	models []string
}

func New(cfg Config) (*Provider, error) {
	if cfg.ProviderID == "" {
		return nil, fmt.Errorf("provider id is required")
	}
	if cfg.BrokerURL == "" || cfg.UpstreamURL == "" {
		return nil, fmt.Errorf("broker and upstream URLs are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ModelRefreshInterval <= 0 {
		cfg.ModelRefreshInterval = time.Minute
	}
	cfg.UpstreamURL = strings.TrimRight(cfg.UpstreamURL, "/")

	return &Provider{
		cfg:      cfg,
		broker:   client.New(cfg.BrokerURL),
		upstream: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

// Run polls for work and refreshes models until ctx is cancelled.
func (p *Provider) Run(ctx context.Context) error {
	logger := log.WithProvider(p.cfg.ProviderID)
	logger.Info("provider started",
		"broker", p.cfg.BrokerURL,
		"upstream", p.cfg.UpstreamURL,
		"poll_interval", p.cfg.PollInterval.String())

	// First model fetch before the poll loop so the initial capability
	// advertisement is not empty.
	if err := p.RefreshModels(ctx); err != nil {
		logger.Warn("initial model refresh failed", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.modelRefreshLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		p.pollLoop(ctx)
	}()
	wg.Wait()

	logger.Info("provider stopped")
	return ctx.Err()
}

func (p *Provider) modelRefreshLoop(ctx context.Context) {
	logger := log.WithProvider(p.cfg.ProviderID)
	ticker := time.NewTicker(p.cfg.ModelRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.RefreshModels(ctx); err != nil {
				logger.Error("model refresh failed", "error", err)
			}
		}
	}
}

func (p *Provider) pollLoop(ctx context.Context) {
	logger := log.WithProvider(p.cfg.ProviderID)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		work, err := p.broker.NextRequest(ctx, p.cfg.ProviderID, p.Models(), p.kinds())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("poll failed", "error", err)
			sleepCtx(ctx, p.cfg.PollInterval)
			continue
		}
		if work == nil {
			sleepCtx(ctx, p.cfg.PollInterval)
			continue
		}

		p.Process(ctx, work)
	}
}

// Process serves one claimed request and reports its outcome to the broker.
func (p *Provider) Process(ctx context.Context, work *client.WorkRequest) {
	logger := log.WithProvider(p.cfg.ProviderID).With("request_id", work.RequestID)

	if !p.servesModel(work.Model) {
		p.reportError(ctx, work.RequestID, fmt.Sprintf("model %q not available on upstream endpoint", work.Model))
		return
	}

	var path string
	switch work.Kind {
	case KindCompletion:
		path = "/completions"
	case KindChatCompletion:
		path = "/chat/completions"
	default:
		p.reportError(ctx, work.RequestID, fmt.Sprintf("unsupported request kind: %s", work.Kind))
		return
	}

	result, err := p.forward(ctx, path, work.Payload)
	if err != nil {
		logger.Error("upstream call failed", "error", err)
		p.reportError(ctx, work.RequestID, err.Error())
		return
	}

	// Usage is lifted out of the upstream response when present.
	var envelope struct {
		Usage json.RawMessage `json:"usage"`
	}
	_ = json.Unmarshal(result, &envelope)

	if err := p.broker.SubmitResult(ctx, work.RequestID, result, envelope.Usage); err != nil {
		logger.Error("failed to submit result", "error", err)
		return
	}
	logger.Info("request served", "model", work.Model, "kind", work.Kind)
}

// forward posts the opaque payload to the upstream endpoint.
func (p *Provider) forward(ctx context.Context, path string, payload json.RawMessage) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.UpstreamURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.UpstreamAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.UpstreamAPIKey)
	}

	resp, err := p.upstream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 500 {
			msg = msg[:500]
		}
		return nil, fmt.Errorf("upstream error %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}

// RefreshModels fetches the upstream's model list and replaces the local set.
func (p *Provider) RefreshModels(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UpstreamURL+"/models", nil)
	if err != nil {
		return err
	}
	if p.cfg.UpstreamAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.UpstreamAPIKey)
	}

	resp, err := p.upstream.Do(req)
	if err != nil {
		return fmt.Errorf("fetch models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch models: upstream returned %d", resp.StatusCode)
	}

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decode model list: %w", err)
	}

	models := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, m.ID)
	}

	p.mu.Lock()
	p.models = models
	p.mu.Unlock()

	log.WithProvider(p.cfg.ProviderID).Info("refreshed models", "count", len(models))
	return nil
}

// Models returns the current upstream model set.
func (p *Provider) Models() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.models))
	copy(out, p.models)
	return out
}

func (p *Provider) servesModel(model string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *Provider) kinds() []string {
	return []string{KindCompletion, KindChatCompletion}
}

func (p *Provider) reportError(ctx context.Context, requestID, message string) {
	if err := p.broker.SubmitError(ctx, requestID, message); err != nil {
		log.WithProvider(p.cfg.ProviderID).Error("failed to submit error result",
			"request_id", requestID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
