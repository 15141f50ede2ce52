package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloudrift-ai/inferline/internal/broker"
)

// Request kinds accepted by the synchronous endpoints.
const (
	KindCompletion     = "completion"
	KindChatCompletion = "chat.completion"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.broker.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}
	providers, err := s.broker.ActiveProviders(r.Context())
	if err != nil {
		s.logger.Error("failed to list providers", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:      depth,
		ActiveProviders: len(providers),
	})
}

// handleCompletions handles POST /v1/completions: enqueue a completion
// request and block until a provider serves it.
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	s.handleSync(w, r, KindCompletion)
}

// handleChatCompletions handles POST /v1/chat/completions.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.handleSync(w, r, KindChatCompletion)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, kind string) {
	req, ok := s.decodeSubmit(w, r)
	if !ok {
		return
	}

	// Bound in-flight synchronous waits.
	select {
	case s.syncSemaphore <- struct{}{}:
		defer func() { <-s.syncSemaphore }()
	default:
		s.writeError(w, http.StatusServiceUnavailable, "too many concurrent synchronous requests")
		return
	}

	timeout := s.syncTimeout(req.TimeoutSeconds)
	id, res, err := s.broker.SubmitAndWait(r.Context(), broker.EnqueueRequest{
		Kind:    kind,
		Model:   req.Model,
		Payload: req.Payload,
	}, timeout)
	if err != nil {
		s.writeSyncError(w, r.Context(), id, err)
		return
	}

	// The provider's payload is returned verbatim.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Payload)
}

func (s *Server) writeSyncError(w http.ResponseWriter, ctx context.Context, id string, err error) {
	var upstream *broker.UpstreamError
	switch {
	case errors.As(err, &upstream):
		s.writeError(w, http.StatusBadGateway, upstream.Message)
	case errors.Is(err, broker.ErrWaitTimeout):
		s.writeError(w, http.StatusGatewayTimeout, "request "+id+" timed out waiting for a provider")
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		// Client went away; the response is best-effort.
		s.writeError(w, http.StatusGatewayTimeout, "request cancelled")
	default:
		s.logger.Error("synchronous submission failed", "request_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "submission failed")
	}
}

// handleSubmit handles POST /v1/queue/submit: async enqueue.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSubmit(w, r)
	if !ok {
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = KindCompletion
	}

	id, err := s.broker.Submit(r.Context(), broker.EnqueueRequest{
		Kind:    kind,
		Model:   req.Model,
		Payload: req.Payload,
	})
	if err != nil {
		s.logger.Error("failed to enqueue request", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue request")
		return
	}

	respondJSON(w, http.StatusAccepted, SubmitResponse{
		RequestID: id,
		Status:    string(broker.StatusPending),
	})
}

// handlePoll handles POST /v1/queue/next: provider work poll.
// 204 means no matching work, which is the common case.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	var req PollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProviderID == "" {
		s.writeError(w, http.StatusBadRequest, "provider_id is required")
		return
	}

	claimed, err := s.broker.Poll(r.Context(), broker.ProviderCapabilities{
		ProviderID: req.ProviderID,
		Models:     req.SupportedModels,
		Kinds:      req.SupportedKinds,
	})
	if err != nil {
		s.logger.Error("poll failed", "provider_id", req.ProviderID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "poll failed")
		return
	}
	if claimed == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	respondJSON(w, http.StatusOK, PollResponse{
		RequestID: claimed.ID,
		Kind:      claimed.Kind,
		Model:     claimed.Model,
		Payload:   claimed.Payload,
		CreatedAt: claimed.CreatedAt,
	})
}

// handleResult handles POST /v1/queue/result: a provider reporting the
// outcome of a claimed request.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	var req ResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RequestID == "" {
		s.writeError(w, http.StatusBadRequest, "request_id is required")
		return
	}

	var err error
	if req.ErrorMessage != "" {
		err = s.broker.FailRequest(r.Context(), req.RequestID, req.ErrorMessage)
	} else {
		err = s.broker.CompleteRequest(r.Context(), req.RequestID, req.Result, req.Usage)
	}
	switch {
	case errors.Is(err, broker.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "request not found")
	case errors.Is(err, broker.ErrInvalidState):
		s.writeError(w, http.StatusConflict, "request is not in a state that accepts results")
	case err != nil:
		s.logger.Error("failed to record result", "request_id", req.RequestID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to record result")
	default:
		respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	}
}

// handleStatus handles GET /v1/queue/status/{requestID}. Observing a
// terminal state consumes the request: repeat polls return 404.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestID")

	report, err := s.broker.CollectStatus(r.Context(), id)
	if errors.Is(err, broker.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		s.logger.Error("status lookup failed", "request_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}

	resp := StatusResponse{
		RequestID:   report.Request.ID,
		Status:      string(report.Request.Status),
		Model:       report.Request.Model,
		Kind:        report.Request.Kind,
		CreatedAt:   report.Request.CreatedAt,
		StartedAt:   report.Request.StartedAt,
		CompletedAt: report.Request.CompletedAt,
	}
	if report.Request.LastError != nil {
		resp.Error = *report.Request.LastError
	}
	if report.Result != nil {
		resp.Result = report.Result.Payload
		resp.Usage = report.Result.Usage
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleStats handles GET /v1/queue/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.broker.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleRegister handles POST /v1/providers/register.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProviderID == "" {
		s.writeError(w, http.StatusBadRequest, "provider_id is required")
		return
	}

	if err := s.broker.RegisterProvider(r.Context(), broker.ProviderCapabilities{
		ProviderID: req.ProviderID,
		Models:     req.SupportedModels,
		Kinds:      req.SupportedKinds,
	}); err != nil {
		s.logger.Error("provider registration failed", "provider_id", req.ProviderID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// handleProviders handles GET /v1/providers: active providers and their
// capability sets.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.broker.ActiveProviders(r.Context())
	if err != nil {
		s.logger.Error("provider list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "provider list failed")
		return
	}

	out := make([]ProviderInfo, 0, len(providers))
	for _, p := range providers {
		out = append(out, ProviderInfo{
			ProviderID:      p.ProviderID,
			SupportedModels: p.Models,
			SupportedKinds:  p.Kinds,
			LastSeen:        p.LastSeen,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// handleModels handles GET /v1/models: union of models served by active
// providers, OpenAI list shape.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.broker.ActiveModels(r.Context())
	if err != nil {
		s.logger.Error("model list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "model list failed")
		return
	}

	data := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		data = append(data, ModelInfo{ID: m, Object: "model", OwnedBy: "inferline"})
	}
	respondJSON(w, http.StatusOK, ModelsResponse{Object: "list", Data: data})
}

func (s *Server) decodeSubmit(w http.ResponseWriter, r *http.Request) (SubmitRequest, bool) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if req.Model == "" {
		s.writeError(w, http.StatusBadRequest, "model is required")
		return req, false
	}
	if len(req.Payload) == 0 {
		s.writeError(w, http.StatusBadRequest, "payload is required")
		return req, false
	}
	return req, true
}

func (s *Server) syncTimeout(seconds int) time.Duration {
	timeout := s.config.SyncTimeout
	if seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}
	if timeout > s.config.MaxSyncTimeout {
		timeout = s.config.MaxSyncTimeout
	}
	return timeout
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
