package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Request is a queued inference request. Owned by the RequestStore from
// creation until explicit removal; the payload is opaque to the broker.
type Request struct {
	ID          string
	Kind        string
	Model       string
	Payload     json.RawMessage
	Status      Status
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   *string
}

type EnqueueRequest struct {
	Kind    string
	Model   string
	Payload json.RawMessage
}

// ProviderCapabilities declares what a provider can serve. Each poll
// supersedes the previous record for the same provider id.
type ProviderCapabilities struct {
	ProviderID string
	Models     []string
	Kinds      []string
	// LastSeen is set from stored records; zero means "now" on upsert.
	LastSeen time.Time
}

// Result is the payload a provider produced for a request. It is consumed
// at most once, by whichever caller observes the terminal state first.
type Result struct {
	RequestID string
	Payload   json.RawMessage
	Usage     json.RawMessage
}

// Stats are per-status request counts plus the live provider count.
type Stats struct {
	Pending         int `json:"pending"`
	Processing      int `json:"processing"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	ActiveProviders int `json:"active_providers"`
}

// DefaultProviderTTL is how long a provider stays matchable after its last poll.
const DefaultProviderTTL = 300 * time.Second

var (
	ErrNotFound     = errors.New("request not found")
	ErrInvalidState = errors.New("invalid request state")
	// ErrWaitTimeout means the synchronous wait bound elapsed; the request
	// itself is left queued and may still be served later.
	ErrWaitTimeout = errors.New("timed out waiting for completion")
)

// UpstreamError carries a provider-reported failure verbatim to the submitter.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream failure: %s", e.Message)
}
