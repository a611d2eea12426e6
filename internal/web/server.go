// Package web is the HTTP ingress and result boundary: task submission,
// result polling and a health probe. Everything else happens behind the
// queue.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/presenceio/presenced/internal/pipeline"
	"github.com/presenceio/presenced/internal/results"
	"github.com/presenceio/presenced/internal/store"
)

// Enqueuer publishes tasks onto the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *pipeline.Task) error
}

// Server serves the task API.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	producer   Enqueuer
	results    results.Store
	templates  store.TemplateStore
	logger     *zap.Logger
}

// NewServer wires the API routes. The template store is only used by the
// health endpoint and may be nil.
func NewServer(host string, port int, producer Enqueuer, resultStore results.Store, templates store.TemplateStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	s := &Server{
		router:    r,
		producer:  producer,
		results:   resultStore,
		templates: templates,
		logger:    logger,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", s.handleSubmitTask)
		r.Get("/tasks/{taskID}", s.handleGetResult)
		r.Get("/health", s.handleHealth)
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router exposes the chi router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
