package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cloudrift-ai/inferline/internal/broker"
	"github.com/cloudrift-ai/inferline/internal/events"
)

// Config holds API server configuration
type Config struct {
	Listen            string
	SyncTimeout       time.Duration
	MaxSyncTimeout    time.Duration
	MaxConcurrentSync int
}

// Server represents the HTTP API server
type Server struct {
	config        Config
	broker        *broker.Broker
	hub           *events.Hub
	logger        *slog.Logger
	server        *http.Server
	startedAt     time.Time
	syncSemaphore chan struct{}
}

// New creates a new API server instance
func New(config Config, b *broker.Broker, hub *events.Hub, logger *slog.Logger) *Server {
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = 120 * time.Second
	}
	if config.MaxSyncTimeout < config.SyncTimeout {
		config.MaxSyncTimeout = config.SyncTimeout
	}
	if config.MaxConcurrentSync <= 0 {
		config.MaxConcurrentSync = 256
	}
	return &Server{
		config:        config,
		broker:        b,
		hub:           hub,
		logger:        logger,
		startedAt:     time.Now(),
		syncSemaphore: make(chan struct{}, config.MaxConcurrentSync),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		// Long enough for synchronous waits and SSE keep-alives.
		WriteTimeout: s.config.MaxSyncTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/completions", s.handleCompletions)
		r.Post("/chat/completions", s.handleChatCompletions)
		r.Post("/queue/submit", s.handleSubmit)
		r.Post("/queue/next", s.handlePoll)
		r.Post("/queue/result", s.handleResult)
		r.Get("/queue/status/{requestID}", s.handleStatus)
		r.Get("/queue/stats", s.handleStats)
		r.Post("/providers/register", s.handleRegister)
		r.Get("/providers", s.handleProviders)
		r.Get("/models", s.handleModels)
		r.Get("/events", s.handleEvents)
	})

	// HTML frontend
	r.Get("/", s.handleHome)
	r.Get("/model/{model}", s.handleModelDetail)

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
