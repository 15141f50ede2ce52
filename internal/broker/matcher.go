package broker

import (
	"context"
	"sort"
	"time"
)

// Matcher hands pending requests to polling providers. Capability matching is
// exact string equality on model and kind; the claim on the RequestStore is
// the only serialization point.
type Matcher struct {
	requests *RequestStore
	registry *ProviderRegistry
	ttl      time.Duration
}

func NewMatcher(requests *RequestStore, registry *ProviderRegistry, ttl time.Duration) *Matcher {
	if ttl <= 0 {
		ttl = DefaultProviderTTL
	}
	return &Matcher{requests: requests, registry: registry, ttl: ttl}
}

// Match records the poll in the registry, then tries to claim the oldest
// pending request the provider can serve. Returns (nil, nil) when no work
// matches.
func (m *Matcher) Match(ctx context.Context, caps ProviderCapabilities) (*Request, error) {
	if err := m.registry.Upsert(ctx, caps); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	active, err := m.registry.ActiveSnapshot(ctx, now, m.ttl)
	if err != nil {
		return nil, err
	}
	var current *ProviderCapabilities
	for i := range active {
		if active[i].ProviderID == caps.ProviderID {
			current = &active[i]
			break
		}
	}
	if current == nil {
		// Registration already expired; a stale record never matches.
		return nil, nil
	}

	snapshot, err := m.requests.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	candidates := filterMatchable(snapshot, *current)
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	// A concurrent claimant may win any individual request; fall through to
	// the next candidate instead of returning empty-handed.
	for _, cand := range candidates {
		claimed, err := m.requests.Claim(ctx, cand.ID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue
		}
		return m.requests.Get(ctx, cand.ID)
	}
	return nil, nil
}

func filterMatchable(requests []Request, caps ProviderCapabilities) []Request {
	models := make(map[string]bool, len(caps.Models))
	for _, m := range caps.Models {
		models[m] = true
	}
	kinds := make(map[string]bool, len(caps.Kinds))
	for _, k := range caps.Kinds {
		kinds[k] = true
	}

	var out []Request
	for _, r := range requests {
		if r.Status != StatusPending {
			continue
		}
		if !kinds[r.Kind] {
			continue
		}
		if !models[r.Model] {
			continue
		}
		out = append(out, r)
	}
	return out
}
