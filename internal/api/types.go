package api

import (
	"encoding/json"
	"time"
)

// SubmitRequest is the JSON body for POST /v1/queue/submit and the
// synchronous completion endpoints.
type SubmitRequest struct {
	Model   string          `json:"model"`
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// TimeoutSeconds overrides the default sync wait, clamped by config.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// SubmitResponse is returned on async enqueue.
type SubmitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// PollRequest is the JSON body for POST /v1/queue/next.
type PollRequest struct {
	ProviderID      string   `json:"provider_id"`
	SupportedModels []string `json:"supported_models"`
	SupportedKinds  []string `json:"supported_kinds"`
}

// PollResponse is the claimed request handed to a provider.
type PollResponse struct {
	RequestID string          `json:"request_id"`
	Kind      string          `json:"kind"`
	Model     string          `json:"model"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ResultRequest is the JSON body for POST /v1/queue/result. A non-empty
// ErrorMessage marks the request failed instead of completed.
type ResultRequest struct {
	RequestID    string          `json:"request_id"`
	Result       json.RawMessage `json:"result,omitempty"`
	Usage        json.RawMessage `json:"usage,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// StatusResponse is returned by GET /v1/queue/status/{id}.
type StatusResponse struct {
	RequestID   string          `json:"request_id"`
	Status      string          `json:"status"`
	Model       string          `json:"model"`
	Kind        string          `json:"kind"`
	Result      json.RawMessage `json:"result,omitempty"`
	Usage       json.RawMessage `json:"usage,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RegisterRequest is the JSON body for POST /v1/providers/register.
type RegisterRequest struct {
	ProviderID      string   `json:"provider_id"`
	SupportedModels []string `json:"supported_models"`
	SupportedKinds  []string `json:"supported_kinds"`
}

// ProviderInfo is one entry in the provider list.
type ProviderInfo struct {
	ProviderID      string    `json:"provider_id"`
	SupportedModels []string  `json:"supported_models"`
	SupportedKinds  []string  `json:"supported_kinds"`
	LastSeen        time.Time `json:"last_seen"`
}

// ModelInfo is one entry in the OpenAI-style model list.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is returned by GET /v1/models.
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	QueueDepth      int    `json:"queue_depth"`
	ActiveProviders int    `json:"active_providers"`
}
