package broker

import (
	"context"
	"errors"
	"time"

	"github.com/cloudrift-ai/inferline/internal/events"
)

// Waiter blocks a submitter until its request reaches a terminal state.
// It subscribes to the event hub before the first status check, so a
// completion between check and wait cannot be missed; a periodic re-check
// covers dropped events from a saturated subscriber channel.
type Waiter struct {
	requests *RequestStore
	results  *ResultStore
	hub      *events.Hub
	recheck  time.Duration
}

func NewWaiter(requests *RequestStore, results *ResultStore, hub *events.Hub, recheck time.Duration) *Waiter {
	if recheck <= 0 {
		recheck = time.Second
	}
	return &Waiter{requests: requests, results: results, hub: hub, recheck: recheck}
}

// Wait blocks until the request terminates, the timeout elapses, or ctx is
// cancelled. On completion it consumes the result and removes the request;
// on failure it returns *UpstreamError and removes the request. On timeout
// or cancellation the request stays queued.
func (w *Waiter) Wait(ctx context.Context, id string, timeout time.Duration) (*Result, error) {
	ch, cancel := w.hub.Subscribe()
	defer cancel()

	res, done, err := w.check(ctx, id)
	if done {
		return res, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(w.recheck)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil, errors.New("event stream closed")
			}
			if ev.Subject != id {
				continue
			}
			if res, done, err := w.check(ctx, id); done {
				return res, err
			}
		case <-ticker.C:
			if res, done, err := w.check(ctx, id); done {
				return res, err
			}
		case <-timer.C:
			return nil, ErrWaitTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// check resolves a terminal request. done=false means keep waiting.
func (w *Waiter) check(ctx context.Context, id string) (*Result, bool, error) {
	req, err := w.requests.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// Another consumer collected it first.
		return nil, true, ErrNotFound
	}
	if err != nil {
		return nil, true, err
	}

	switch req.Status {
	case StatusCompleted:
		res, err := w.results.TakeAndDelete(ctx, id)
		if err != nil {
			return nil, true, err
		}
		if err := w.requests.Remove(ctx, id); err != nil {
			return nil, true, err
		}
		return res, true, nil
	case StatusFailed:
		msg := "unknown failure"
		if req.LastError != nil {
			msg = *req.LastError
		}
		if err := w.requests.Remove(ctx, id); err != nil {
			return nil, true, err
		}
		return nil, true, &UpstreamError{Message: msg}
	default:
		return nil, false, nil
	}
}
