// ABOUTME: HTTP surface of the assistant gateway consumed by the CRM frontend
// ABOUTME: chi router with JWT auth; all assistant routes under /api/assistant

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brokerdesk/assistant-gateway/internal/auth"
	"github.com/brokerdesk/assistant-gateway/internal/conversation"
	"github.com/brokerdesk/assistant-gateway/internal/dedupe"
	"github.com/brokerdesk/assistant-gateway/internal/orchestrator"
	"github.com/brokerdesk/assistant-gateway/internal/session"
	"github.com/brokerdesk/assistant-gateway/internal/store"
)

// idempotencyTTL bounds how long a send idempotency key suppresses replays.
const idempotencyTTL = 10 * time.Minute

// idempotencyCacheSize caps the number of tracked keys.
const idempotencyCacheSize = 10000

// Directory is the read side of the CRM directory used for display labels.
type Directory interface {
	ListClients(ctx context.Context, ownerID string) ([]*store.Client, error)
	ListLenders(ctx context.Context, ownerID string) ([]*store.Lender, error)
	ListDocuments(ctx context.Context, ownerID string) ([]*store.Document, error)
}

// Server holds the wired assistant components behind the HTTP routes.
type Server struct {
	orch       *orchestrator.Orchestrator
	controller *session.Controller
	manager    *conversation.Manager
	directory  Directory
	verifier   auth.TokenVerifier
	idem       *dedupe.Cache
	logger     *slog.Logger
}

// NewServer creates the HTTP server wiring. Close releases the idempotency
// cache's background goroutine.
func NewServer(orch *orchestrator.Orchestrator, controller *session.Controller, manager *conversation.Manager, directory Directory, verifier auth.TokenVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		orch:       orch,
		controller: controller,
		manager:    manager,
		directory:  directory,
		verifier:   verifier,
		idem:       dedupe.New(idempotencyTTL, idempotencyCacheSize),
		logger:     logger.With("component", "api"),
	}
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.idem.Close()
}

// Routes builds the chi router for the service.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/assistant", func(api chi.Router) {
		api.Use(auth.Middleware(s.verifier))

		api.Get("/state", s.handleState)
		api.Post("/send", s.handleSend)
		api.Get("/conversations", s.handleListConversations)
		api.Post("/conversations/{id}/select", s.handleSelectConversation)
		api.Delete("/conversations/{id}", s.handleDeleteConversation)
		api.Get("/conversations/{id}/messages", s.handleMessages)
		api.Post("/new", s.handleStartNew)
		api.Post("/library", s.handleOpenLibrary)
		api.Put("/context", s.handleSetContext)
	})

	return r
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
