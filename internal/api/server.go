// Package api provides the HTTP command surface of the Chime daemon.
package api

import (
	"encoding/json/v2"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chimeapp/chime-server/internal/http/response"
	"github.com/chimeapp/chime-server/internal/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	dispatcher *Dispatcher
	sseHandler *sse.Handler
	router     *chi.Mux
	logger     *slog.Logger
	corsOrigin string
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(dispatcher *Dispatcher, sseHandler *sse.Handler, corsOrigin string, logger *slog.Logger) *Server {
	s := &Server{
		dispatcher: dispatcher,
		sseHandler: sseHandler,
		router:     chi.NewRouter(),
		logger:     logger,
		corsOrigin: corsOrigin,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{s.corsOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Health check.
	s.router.Get("/health", s.handleHealthCheck)

	// API v1.
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/command", s.handleCommand)
		r.Get("/events", s.sseHandler.ServeHTTP)
	})
}

// handleHealthCheck returns server health status.
func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	response.Success(w, map[string]string{
		"status": "healthy",
	}, s.logger)
}

// handleCommand decodes one command and runs it through the dispatcher.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.UnmarshalRead(r.Body, &cmd); err != nil {
		response.BadRequest(w, "invalid command payload", s.logger)
		return
	}

	data, err := s.dispatcher.Dispatch(r.Context(), &cmd)
	if err != nil {
		s.logger.Warn("command failed", "action", cmd.Action, "error", err)
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, data, s.logger)
}
