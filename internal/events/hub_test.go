package events

import (
	"testing"
	"time"
)

func TestHubPublishSubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(16)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.PublishRequest(TypeRequestCompleted, "req-1", map[string]any{"status": "completed"})

	select {
	case ev := <-ch:
		if ev.Type != TypeRequestCompleted {
			t.Fatalf("unexpected type: %q", ev.Type)
		}
		if ev.Subject != "req-1" {
			t.Fatalf("unexpected subject: %q", ev.Subject)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestHubSnapshotSince(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	for i := 0; i < 6; i++ {
		h.Publish("request.queued", nil)
	}

	all := h.SnapshotSince(0)
	if len(all) != 4 {
		t.Fatalf("expected ring capacity 4, got %d", len(all))
	}
	// Oldest two events were overwritten.
	if all[0].ID != 3 {
		t.Fatalf("expected oldest retained ID 3, got %d", all[0].ID)
	}

	tail := h.SnapshotSince(all[2].ID)
	if len(tail) != 1 || tail[0].ID != all[3].ID {
		t.Fatalf("unexpected tail snapshot: %#v", tail)
	}
}

func TestHubCancelledSubscriberDropped(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	ch, cancel := h.Subscribe()
	cancel()

	// Publishing after cancel must not panic or block.
	h.Publish("request.queued", nil)

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}
}
