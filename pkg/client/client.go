// Package client is the HTTP client for the inferline broker API, used by
// providers and the watch TUI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a running inferline broker.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the broker at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No global timeout: synchronous completions and SSE are long-lived.
		// Per-call deadlines come from the caller's context.
		http: &http.Client{},
	}
}

// APIError is a non-2xx broker response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker returned %d: %s", e.StatusCode, e.Message)
}

// Submit enqueues a request asynchronously and returns its id.
func (c *Client) Submit(ctx context.Context, opts SubmitOptions) (string, error) {
	var resp struct {
		RequestID string `json:"request_id"`
	}
	if err := c.postJSON(ctx, "/v1/queue/submit", opts, &resp); err != nil {
		return "", err
	}
	return resp.RequestID, nil
}

// Complete submits a completion request and blocks until it is served.
// The broker's verbatim provider payload is returned.
func (c *Client) Complete(ctx context.Context, opts SubmitOptions) (json.RawMessage, error) {
	return c.sync(ctx, "/v1/completions", opts)
}

// ChatComplete submits a chat completion request and blocks until served.
func (c *Client) ChatComplete(ctx context.Context, opts SubmitOptions) (json.RawMessage, error) {
	return c.sync(ctx, "/v1/chat/completions", opts)
}

func (c *Client) sync(ctx context.Context, path string, opts SubmitOptions) (json.RawMessage, error) {
	body, status, err := c.do(ctx, http.MethodPost, path, opts)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apiError(status, body)
	}
	return json.RawMessage(body), nil
}

// NextRequest polls for work matching the provider's capabilities.
// Returns (nil, nil) when no work is available.
func (c *Client) NextRequest(ctx context.Context, providerID string, models, kinds []string) (*WorkRequest, error) {
	payload := map[string]any{
		"provider_id":      providerID,
		"supported_models": models,
		"supported_kinds":  kinds,
	}
	body, status, err := c.do(ctx, http.MethodPost, "/v1/queue/next", payload)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var work WorkRequest
		if err := json.Unmarshal(body, &work); err != nil {
			return nil, fmt.Errorf("decode work request: %w", err)
		}
		return &work, nil
	default:
		return nil, apiError(status, body)
	}
}

// SubmitResult reports a successful outcome for a claimed request.
func (c *Client) SubmitResult(ctx context.Context, requestID string, result, usage json.RawMessage) error {
	return c.postJSON(ctx, "/v1/queue/result", map[string]any{
		"request_id": requestID,
		"result":     result,
		"usage":      usage,
	}, nil)
}

// SubmitError reports a failed outcome for a claimed request.
func (c *Client) SubmitError(ctx context.Context, requestID, message string) error {
	return c.postJSON(ctx, "/v1/queue/result", map[string]any{
		"request_id":    requestID,
		"error_message": message,
	}, nil)
}

// Register upserts the provider's capability record without polling for work.
func (c *Client) Register(ctx context.Context, providerID string, models, kinds []string) error {
	return c.postJSON(ctx, "/v1/providers/register", map[string]any{
		"provider_id":      providerID,
		"supported_models": models,
		"supported_kinds":  kinds,
	}, nil)
}

// Status fetches the state of a submitted request. A terminal status
// consumes the request on the broker side.
func (c *Client) Status(ctx context.Context, requestID string) (*RequestStatus, error) {
	var status RequestStatus
	if err := c.getJSON(ctx, "/v1/queue/status/"+requestID, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Stats fetches queue statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.getJSON(ctx, "/v1/queue/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Health fetches /healthz.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.getJSON(ctx, "/healthz", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Providers fetches the active providers and their capability sets.
func (c *Client) Providers(ctx context.Context) ([]ProviderInfo, error) {
	var providers []ProviderInfo
	if err := c.getJSON(ctx, "/v1/providers", &providers); err != nil {
		return nil, err
	}
	return providers, nil
}

// Models fetches the list of models served by active providers.
func (c *Client) Models(ctx context.Context) ([]ModelInfo, error) {
	var resp struct {
		Data []ModelInfo `json:"data"`
	}
	if err := c.getJSON(ctx, "/v1/models", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Events opens the SSE stream. The caller owns the returned body and must
// close it; lastEventID resumes from the ring buffer when non-zero.
func (c *Client) Events(ctx context.Context, lastEventID int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID > 0 {
		req.Header.Set("Last-Event-ID", fmt.Sprintf("%d", lastEventID))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, apiError(resp.StatusCode, body)
	}
	return resp.Body, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, status, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return apiError(status, body)
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apiError(status, body)
	}
	return json.Unmarshal(body, out)
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func apiError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return &APIError{StatusCode: status, Message: e.Error}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &APIError{StatusCode: status, Message: msg}
}

// WaitTerminal polls Status until the request reaches a terminal state or
// ctx expires. Convenience for callers that submitted asynchronously.
func (c *Client) WaitTerminal(ctx context.Context, requestID string, interval time.Duration) (*RequestStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if status.Status == "completed" || status.Status == "failed" {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
