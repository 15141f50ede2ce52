package client

import (
	"encoding/json"
	"time"
)

// WorkRequest is a claimed request handed to a provider by the broker.
type WorkRequest struct {
	RequestID string          `json:"request_id"`
	Kind      string          `json:"kind"`
	Model     string          `json:"model"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// SubmitOptions control an asynchronous submission.
type SubmitOptions struct {
	Model   string          `json:"model"`
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// TimeoutSeconds only applies to synchronous completion calls.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// RequestStatus is the broker's view of a submitted request.
type RequestStatus struct {
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

// Stats are the broker's per-status counts.
type Stats struct {
	Pending         int `json:"pending"`
	Processing      int `json:"processing"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	ActiveProviders int `json:"active_providers"`
}

// Health is the broker's /healthz response.
type Health struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	QueueDepth      int    `json:"queue_depth"`
	ActiveProviders int    `json:"active_providers"`
}

// ProviderInfo is one active provider and its capability set.
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
