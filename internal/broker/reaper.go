package broker

import (
	"context"
	"time"

	"github.com/cloudrift-ai/inferline/internal/events"
	"github.com/cloudrift-ai/inferline/internal/log"
)

const abandonedMessage = "abandoned: no provider claimed request within TTL"

// Reaper periodically fails pending requests no provider ever claimed and
// purges terminal requests whose results nobody collected. Both happen for
// requests whose waiters timed out or disconnected.
type Reaper struct {
	requests        *RequestStore
	hub             *events.Hub
	pendingTTL      time.Duration
	resultRetention time.Duration
	interval        time.Duration
}

func NewReaper(requests *RequestStore, hub *events.Hub, pendingTTL, resultRetention, interval time.Duration) *Reaper {
	if pendingTTL <= 0 {
		pendingTTL = 10 * time.Minute
	}
	if resultRetention <= 0 {
		resultRetention = time.Hour
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		requests:        requests,
		hub:             hub,
		pendingTTL:      pendingTTL,
		resultRetention: resultRetention,
		interval:        interval,
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	logger := log.WithComponent("reaper")
	logger.Info("reaper started",
		"pending_ttl", r.pendingTTL.String(),
		"result_retention", r.resultRetention.String(),
		"interval", r.interval.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Exposed for tests and for a final sweep on shutdown.
func (r *Reaper) Sweep(ctx context.Context) {
	logger := log.WithComponent("reaper")
	now := time.Now().UTC()

	ids, err := r.requests.AbandonStale(ctx, now.Add(-r.pendingTTL), abandonedMessage)
	if err != nil {
		logger.Error("abandon sweep failed", "error", err)
	}
	for _, id := range ids {
		logger.Warn("abandoned stale request", "request_id", id)
		r.hub.PublishRequest(events.TypeRequestFailed, id, map[string]any{
			"request_id": id,
			"status":     string(StatusFailed),
			"error":      abandonedMessage,
		})
	}

	purged, err := r.requests.PurgeTerminal(ctx, now.Add(-r.resultRetention))
	if err != nil {
		logger.Error("purge sweep failed", "error", err)
	}
	if purged > 0 {
		logger.Info("purged uncollected requests", "count", purged)
	}
}
