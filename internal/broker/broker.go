// Package broker queues inference requests, matches them to polling
// providers, and blocks submitters until their results arrive.
package broker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cloudrift-ai/inferline/internal/events"
	"github.com/cloudrift-ai/inferline/internal/log"
)

// Options tune the broker. Zero values select defaults.
type Options struct {
	ProviderTTL time.Duration
	WaitRecheck time.Duration
}

// Broker is the facade over the request store, result store, provider
// registry, matcher, and waiter. All HTTP handlers and the reaper go
// through it.
type Broker struct {
	requests *RequestStore
	results  *ResultStore
	registry *ProviderRegistry
	matcher  *Matcher
	waiter   *Waiter
	hub      *events.Hub
	ttl      time.Duration
}

func New(db *sql.DB, hub *events.Hub, opts Options) *Broker {
	ttl := opts.ProviderTTL
	if ttl <= 0 {
		ttl = DefaultProviderTTL
	}

	requests := NewRequestStore(db)
	results := NewResultStore(db)
	registry := NewProviderRegistry(db)

	return &Broker{
		requests: requests,
		results:  results,
		registry: registry,
		matcher:  NewMatcher(requests, registry, ttl),
		waiter:   NewWaiter(requests, results, hub, opts.WaitRecheck),
		hub:      hub,
		ttl:      ttl,
	}
}

// Requests exposes the store for the reaper.
func (b *Broker) Requests() *RequestStore { return b.requests }

// Submit enqueues a request and returns its id without waiting.
func (b *Broker) Submit(ctx context.Context, req EnqueueRequest) (string, error) {
	id, err := b.requests.Enqueue(ctx, req)
	if err != nil {
		return "", err
	}

	log.WithRequest(id).Debug("request queued", "kind", req.Kind, "model", req.Model)
	b.hub.PublishRequest(events.TypeRequestQueued, id, map[string]any{
		"request_id": id,
		"kind":       req.Kind,
		"model":      req.Model,
	})
	return id, nil
}

// SubmitAndWait enqueues a request and blocks until a provider completes it,
// the timeout elapses, or ctx is cancelled. The request id is returned even
// on error so callers can report or poll it later.
func (b *Broker) SubmitAndWait(ctx context.Context, req EnqueueRequest, timeout time.Duration) (string, *Result, error) {
	id, err := b.Submit(ctx, req)
	if err != nil {
		return "", nil, err
	}

	res, err := b.waiter.Wait(ctx, id, timeout)
	if err != nil {
		return id, nil, err
	}
	return id, res, nil
}

// Wait blocks on an already-submitted request.
func (b *Broker) Wait(ctx context.Context, id string, timeout time.Duration) (*Result, error) {
	return b.waiter.Wait(ctx, id, timeout)
}

// Poll records a provider's capabilities and hands it at most one matching
// pending request. A nil request means no work is available.
func (b *Broker) Poll(ctx context.Context, caps ProviderCapabilities) (*Request, error) {
	req, err := b.matcher.Match(ctx, caps)
	if err != nil {
		return nil, err
	}
	b.hub.Publish(events.TypeProviderSeen, map[string]any{
		"provider_id": caps.ProviderID,
		"models":      nonNil(caps.Models),
		"kinds":       nonNil(caps.Kinds),
	})
	if req == nil {
		return nil, nil
	}

	log.WithRequest(req.ID).Info("request claimed", "provider_id", caps.ProviderID, "model", req.Model)
	b.hub.PublishRequest(events.TypeRequestClaimed, req.ID, map[string]any{
		"request_id":  req.ID,
		"provider_id": caps.ProviderID,
		"model":       req.Model,
	})
	return req, nil
}

// CompleteRequest stores the provider's result and marks the request
// completed, then wakes any waiter.
func (b *Broker) CompleteRequest(ctx context.Context, id string, payload, usage []byte) error {
	if err := b.requests.Complete(ctx, id, payload, usage); err != nil {
		return err
	}

	log.WithRequest(id).Info("request completed")
	b.hub.PublishRequest(events.TypeRequestCompleted, id, map[string]any{
		"request_id": id,
		"status":     string(StatusCompleted),
	})
	return nil
}

// FailRequest marks the request failed with the provider-reported message.
func (b *Broker) FailRequest(ctx context.Context, id, message string) error {
	if err := b.requests.Fail(ctx, id, message); err != nil {
		return err
	}

	log.WithRequest(id).Warn("request failed", "error", message)
	b.hub.PublishRequest(events.TypeRequestFailed, id, map[string]any{
		"request_id": id,
		"status":     string(StatusFailed),
		"error":      message,
	})
	return nil
}

// StatusReport is a point-in-time view of a request, with the result attached
// once completed.
type StatusReport struct {
	Request *Request
	Result  *Result
}

// CollectStatus reports the request's state. Observing a terminal state
// consumes it: the result and the request row are removed, so a second poll
// for the same id returns ErrNotFound.
func (b *Broker) CollectStatus(ctx context.Context, id string) (*StatusReport, error) {
	req, err := b.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{Request: req}
	if !req.Status.Terminal() {
		return report, nil
	}

	if req.Status == StatusCompleted {
		res, err := b.results.TakeAndDelete(ctx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		report.Result = res
	}
	if err := b.requests.Remove(ctx, id); err != nil {
		return nil, err
	}
	return report, nil
}

// RegisterProvider records capabilities without matching work.
func (b *Broker) RegisterProvider(ctx context.Context, caps ProviderCapabilities) error {
	if err := b.registry.Upsert(ctx, caps); err != nil {
		return err
	}
	log.WithProvider(caps.ProviderID).Debug("provider registered",
		"models", len(caps.Models), "kinds", len(caps.Kinds))
	b.hub.Publish(events.TypeProviderSeen, map[string]any{
		"provider_id": caps.ProviderID,
		"models":      nonNil(caps.Models),
		"kinds":       nonNil(caps.Kinds),
	})
	return nil
}

// ActiveProviders lists providers seen within the TTL.
func (b *Broker) ActiveProviders(ctx context.Context) ([]ProviderCapabilities, error) {
	return b.registry.ActiveSnapshot(ctx, time.Now().UTC(), b.ttl)
}

// ActiveModels lists the models currently served by at least one active provider.
func (b *Broker) ActiveModels(ctx context.Context) ([]string, error) {
	return b.registry.ActiveModels(ctx, time.Now().UTC(), b.ttl)
}

// Stats returns per-status request counts and the active provider count.
func (b *Broker) Stats(ctx context.Context) (Stats, error) {
	counts, err := b.requests.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	providers, err := b.ActiveProviders(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:         counts[StatusPending],
		Processing:      counts[StatusProcessing],
		Completed:       counts[StatusCompleted],
		Failed:          counts[StatusFailed],
		ActiveProviders: len(providers),
	}, nil
}

// Depth returns the number of pending requests.
func (b *Broker) Depth(ctx context.Context) (int, error) {
	return b.requests.Depth(ctx)
}

// Snapshot returns every live request, oldest-first.
func (b *Broker) Snapshot(ctx context.Context) ([]Request, error) {
	return b.requests.Snapshot(ctx)
}
