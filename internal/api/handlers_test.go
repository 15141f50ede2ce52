package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudrift-ai/inferline/internal/broker"
	"github.com/cloudrift-ai/inferline/internal/events"
	"github.com/cloudrift-ai/inferline/internal/log"
	"github.com/cloudrift-ai/inferline/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *broker.Broker) {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	hub := events.NewHub(64)
	b := broker.New(db, hub, broker.Options{WaitRecheck: 50 * time.Millisecond})

	s := New(Config{
		Listen:            "127.0.0.1:0",
		SyncTimeout:       2 * time.Second,
		MaxSyncTimeout:    5 * time.Second,
		MaxConcurrentSync: 4,
	}, b, hub, log.WithComponent("api-test"))

	ts := httptest.NewServer(s.setupRoutes())
	t.Cleanup(ts.Close)
	return ts, b
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	health := decodeBody[HealthzResponse](t, resp)
	if health.Status != "ok" {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestSubmitAndStatusLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/queue/submit", SubmitRequest{
		Model:   "llama-3-8b",
		Kind:    "completion",
		Payload: json.RawMessage(`{"prompt":"hi"}`),
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	submitted := decodeBody[SubmitResponse](t, resp)
	if submitted.RequestID == "" || submitted.Status != "pending" {
		t.Fatalf("unexpected submit response: %+v", submitted)
	}

	// Provider claims the request.
	resp = postJSON(t, ts.URL+"/v1/queue/next", PollRequest{
		ProviderID:      "worker-1",
		SupportedModels: []string{"llama-3-8b"},
		SupportedKinds:  []string{"completion"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 poll, got %d", resp.StatusCode)
	}
	claimed := decodeBody[PollResponse](t, resp)
	if claimed.RequestID != submitted.RequestID {
		t.Fatalf("claimed %q, want %q", claimed.RequestID, submitted.RequestID)
	}
	if string(claimed.Payload) != `{"prompt":"hi"}` {
		t.Fatalf("unexpected payload: %s", claimed.Payload)
	}

	// Second poll finds nothing.
	resp = postJSON(t, ts.URL+"/v1/queue/next", PollRequest{
		ProviderID:      "worker-1",
		SupportedModels: []string{"llama-3-8b"},
		SupportedKinds:  []string{"completion"},
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Provider reports the result.
	resp = postJSON(t, ts.URL+"/v1/queue/result", ResultRequest{
		RequestID: claimed.RequestID,
		Result:    json.RawMessage(`{"text":"hello"}`),
		Usage:     json.RawMessage(`{"total_tokens":2}`),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 result, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Status poll collects the result.
	resp, err := http.Get(ts.URL + "/v1/queue/status/" + claimed.RequestID)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 status, got %d", resp.StatusCode)
	}
	status := decodeBody[StatusResponse](t, resp)
	if status.Status != "completed" || string(status.Result) != `{"text":"hello"}` {
		t.Fatalf("unexpected status: %+v", status)
	}

	// Terminal observation is one-shot.
	resp, err = http.Get(ts.URL + "/v1/queue/status/" + claimed.RequestID)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after collection, got %d", resp.StatusCode)
	}
}

func TestSyncCompletionRoundTrip(t *testing.T) {
	ts, b := newTestServer(t)

	// Background provider.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		caps := broker.ProviderCapabilities{
			ProviderID: "worker-1",
			Models:     []string{"llama-3-8b"},
			Kinds:      []string{KindCompletion},
		}
		for ctx.Err() == nil {
			req, err := b.Poll(ctx, caps)
			if err != nil || req == nil {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			_ = b.CompleteRequest(ctx, req.ID, []byte(`{"text":"served"}`), nil)
		}
	}()

	resp := postJSON(t, ts.URL+"/v1/completions", SubmitRequest{
		Model:   "llama-3-8b",
		Payload: json.RawMessage(`{"prompt":"hi"}`),
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != `{"text":"served"}` {
		t.Fatalf("expected verbatim provider payload, got %s", body)
	}
}

func TestSyncCompletionUpstreamFailure(t *testing.T) {
	ts, b := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		caps := broker.ProviderCapabilities{
			ProviderID: "worker-1",
			Models:     []string{"llama-3-8b"},
			Kinds:      []string{KindCompletion},
		}
		for ctx.Err() == nil {
			req, err := b.Poll(ctx, caps)
			if err != nil || req == nil {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			_ = b.FailRequest(ctx, req.ID, "model crashed")
		}
	}()

	resp := postJSON(t, ts.URL+"/v1/completions", SubmitRequest{
		Model:   "llama-3-8b",
		Payload: json.RawMessage(`{"prompt":"hi"}`),
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	errResp := decodeBody[ErrorResponse](t, resp)
	if errResp.Error != "model crashed" {
		t.Fatalf("unexpected error message: %q", errResp.Error)
	}
}

func TestSyncCompletionTimeout(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/completions", SubmitRequest{
		Model:          "llama-3-8b",
		Payload:        json.RawMessage(`{"prompt":"hi"}`),
		TimeoutSeconds: 1,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
}

func TestResultForUnknownAndUnclaimedRequest(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/queue/result", ResultRequest{
		RequestID: "does-not-exist",
		Result:    json.RawMessage(`{}`),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	submit := postJSON(t, ts.URL+"/v1/queue/submit", SubmitRequest{
		Model:   "m",
		Payload: json.RawMessage(`{}`),
	})
	submitted := decodeBody[SubmitResponse](t, submit)

	// Result for a request nobody claimed.
	resp = postJSON(t, ts.URL+"/v1/queue/result", ResultRequest{
		RequestID: submitted.RequestID,
		Result:    json.RawMessage(`{}`),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestModelsListsActiveProviders(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/providers/register", RegisterRequest{
		ProviderID:      "worker-1",
		SupportedModels: []string{"llama-3-8b", "mistral-7b"},
		SupportedKinds:  []string{"completion"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 register, got %d", resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/v1/models")
	if err != nil {
		t.Fatalf("GET /v1/models: %v", err)
	}
	models := decodeBody[ModelsResponse](t, resp)
	if models.Object != "list" || len(models.Data) != 2 {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestSubmitValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	for name, body := range map[string]SubmitRequest{
		"missing model":   {Payload: json.RawMessage(`{}`)},
		"missing payload": {Model: "m"},
	} {
		resp := postJSON(t, ts.URL+"/v1/queue/submit", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestHomePageRendersModels(t *testing.T) {
	ts, b := newTestServer(t)

	if err := b.RegisterProvider(context.Background(), broker.ProviderCapabilities{
		ProviderID: "worker-1",
		Models:     []string{"llama-3-8b"},
		Kinds:      []string{"completion"},
	}); err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "llama-3-8b") {
		t.Fatalf("home page missing model card: status=%d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/model/llama-3-8b")
	if err != nil {
		t.Fatalf("GET /model: %v", err)
	}
	defer resp.Body.Close()
	detail, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(detail), "/v1/completions") {
		t.Fatalf("model detail missing instructions: status=%d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/model/unknown-model")
	if err != nil {
		t.Fatalf("GET /model unknown: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown model, got %d", resp.StatusCode)
	}
}

func TestEventsStreamReplaysBufferedEvents(t *testing.T) {
	ts, b := newTestServer(t)

	id, err := b.Submit(context.Background(), broker.EnqueueRequest{
		Kind:  "completion",
		Model: "m",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/events: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", resp.Header.Get("Content-Type"))
	}

	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	chunk := string(buf[:n])
	if !strings.Contains(chunk, "event: request.queued") || !strings.Contains(chunk, id) {
		t.Fatalf("expected replayed queued event for %s, got: %s", id, chunk)
	}
}
