package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"petitions/internal/actions"
	"petitions/internal/cache"
	"petitions/internal/models"
	"petitions/internal/storage"
	"petitions/internal/upload"
)

// PetitionCache is the list view the API serves from
type PetitionCache interface {
	Snapshot() cache.State
	Refresh(ctx context.Context) error
	RefreshByCategory(ctx context.Context, category int) error
}

// PetitionReader serves single petition lookups
type PetitionReader interface {
	GetOne(ctx context.Context, identifier string) (*models.Petition, error)
	GetSigners(ctx context.Context, identifier string) ([]models.Signer, error)
}

// Actions runs write actions. nil means the service is read-only.
type Actions interface {
	CreatePetition(ctx context.Context, d *upload.Draft, progress upload.ProgressFunc) (*actions.Outcome, error)
	SignPetition(ctx context.Context, identifier, message string) (*actions.Outcome, error)
}

// Deps are the collaborators the handlers use
type Deps struct {
	Cache   PetitionCache
	Reader  PetitionReader
	Actions Actions
	Journal storage.Repository
	Logger  *zap.Logger
	// ActionTimeout bounds a write action once accepted
	ActionTimeout time.Duration
}

// Server represents the HTTP API server
// Provides endpoints for Prometheus metrics, health checks, and the petition REST API
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	deps       Deps
	logger     *zap.Logger
	port       int
}

// NewServer creates a new API server instance
func NewServer(port int, deps Deps) *Server {
	mux := http.NewServeMux()

	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ActionTimeout <= 0 {
		deps.ActionTimeout = 2 * time.Minute
	}

	s := &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", port),
			Handler:     mux,
			ReadTimeout: 30 * time.Second,
			// write actions wait for uploads, the receipt and the event
			WriteTimeout: deps.ActionTimeout + 15*time.Second,
			IdleTimeout:  60 * time.Second,
		},
		mux:    mux,
		deps:   deps,
		logger: deps.Logger.Named("api"),
		port:   port,
	}

	// Register all HTTP routes
	s.registerRoutes()

	return s
}

// Handler exposes the routes, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// registerRoutes sets up all HTTP routes
func (s *Server) registerRoutes() {
	// Core endpoints
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", s.handleMetrics())

	// Petition endpoints
	s.mux.HandleFunc("/petitions", s.handlePetitions)
	s.mux.HandleFunc("/petitions/", s.handlePetitionRoutes)

	// Journal
	s.mux.HandleFunc("/transactions/", s.handleGetTransaction)
}

// handlePetitions routes the collection endpoint (without trailing slash)
func (s *Server) handlePetitions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListPetitions(w, r)
	case http.MethodPost:
		s.handleCreatePetition(w, r)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePetitionRoutes routes petition sub-endpoints (with trailing slash)
func (s *Server) handlePetitionRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/petitions/"), "/")
	parts := strings.Split(path, "/")

	if parts[0] == "" {
		s.sendError(w, "Petition ID required", http.StatusBadRequest)
		return
	}

	// GET /petitions/{id}
	if len(parts) == 1 && r.Method == http.MethodGet {
		s.handleGetPetition(w, r, parts[0])
		return
	}

	// GET /petitions/{id}/signers
	if len(parts) == 2 && parts[1] == "signers" && r.Method == http.MethodGet {
		s.handleGetSigners(w, r, parts[0])
		return
	}

	// POST /petitions/{id}/sign
	if len(parts) == 2 && parts[1] == "sign" && r.Method == http.MethodPost {
		s.handleSignPetition(w, r, parts[0])
		return
	}

	if len(parts) == 1 || (len(parts) == 2 && (parts[1] == "signers" || parts[1] == "sign")) {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendError(w, "Endpoint not found", http.StatusNotFound)
}

// Start starts the HTTP server in a goroutine
// Returns immediately after starting the server
func (s *Server) Start() error {
	go func() {
		s.logger.Info("API server starting",
			zap.Int("port", s.port),
			zap.Strings("endpoints", []string{"/", "/health", "/metrics", "/petitions", "/transactions"}),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()

	// Give the server a moment to start
	time.Sleep(100 * time.Millisecond)

	return nil
}

// Shutdown gracefully shuts down the HTTP server
// Waits for active connections to close or context to timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("API server shutting down...")
	return s.httpServer.Shutdown(ctx)
}
