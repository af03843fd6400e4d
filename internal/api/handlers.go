package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"petitions/internal/actions"
	"petitions/internal/failure"
	"petitions/internal/models"
	"petitions/internal/petition"
	"petitions/internal/storage"
	"petitions/internal/upload"
)

const (
	maxFormBytes = 4 << 20
	maxSignBytes = 16 << 10
)

// handleIndex returns basic service information
// GET / - Returns service info and available endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	info := map[string]interface{}{
		"service":     "Petitions",
		"version":     "1.0.0",
		"description": "Petition contract reader and action service",
		"readOnly":    s.deps.Actions == nil,
		"endpoints": map[string]string{
			"GET /":                       "This page - Service information",
			"GET /health":                 "Health check endpoint",
			"GET /metrics":                "Prometheus metrics for monitoring",
			"GET /petitions":              "Cached petition list (supports ?category=, ?refresh=1)",
			"GET /petitions/{id}":         "Petition by bytes32 id or token id",
			"GET /petitions/{id}/signers": "Signatures of a petition",
			"POST /petitions":             "Create a petition from a multipart draft",
			"POST /petitions/{id}/sign":   "Sign a petition",
			"GET /transactions/{id}":      "Journaled action by id or transaction hash",
		},
	}

	s.sendJSON(w, http.StatusOK, info)
}

// handleHealth returns health status
// GET /health - Health check for monitoring systems
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if s.deps.Journal != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Journal.Ping(ctx); err != nil {
			s.logger.Warn("Journal ping failed", zap.Error(err))
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"service":   "petitiond",
	}

	s.sendJSON(w, code, health)
}

// handleMetrics returns Prometheus metrics
// GET /metrics - Prometheus scraping endpoint
func (s *Server) handleMetrics() http.Handler {
	return promhttp.Handler()
}

// =============================================================================
// PETITION ENDPOINTS
// =============================================================================

// handleListPetitions serves the cache snapshot
// GET /petitions?category=ENVIRONMENTAL&refresh=1
func (s *Server) handleListPetitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	if raw := query.Get("category"); raw != "" {
		code, ok := parseCategory(raw)
		if !ok {
			s.sendError(w, "Unknown category", http.StatusBadRequest)
			return
		}
		if err := s.deps.Cache.RefreshByCategory(ctx, code); err != nil {
			s.logger.Warn("Category refresh failed", zap.Int("category", code), zap.Error(err))
		}
	} else if isTruthy(query.Get("refresh")) {
		if err := s.deps.Cache.Refresh(ctx); err != nil {
			s.logger.Warn("Refresh failed", zap.Error(err))
		}
	}

	s.sendJSON(w, http.StatusOK, s.deps.Cache.Snapshot())
}

// handleGetPetition returns one normalized petition
// GET /petitions/{id}
func (s *Server) handleGetPetition(w http.ResponseWriter, r *http.Request, id string) {
	p, err := s.deps.Reader.GetOne(r.Context(), id)
	if err != nil {
		s.sendReadError(w, id, err)
		return
	}
	s.sendJSON(w, http.StatusOK, p)
}

// handleGetSigners returns the signatures of a petition
// GET /petitions/{id}/signers
func (s *Server) handleGetSigners(w http.ResponseWriter, r *http.Request, id string) {
	signers, err := s.deps.Reader.GetSigners(r.Context(), id)
	if err != nil {
		s.sendReadError(w, id, err)
		return
	}
	if signers == nil {
		signers = []models.Signer{}
	}
	s.sendJSON(w, http.StatusOK, models.SignersResponse{
		PetitionID: id,
		Signers:    signers,
		Total:      len(signers),
	})
}

// handleCreatePetition runs the create flow for a multipart draft
// POST /petitions
func (s *Server) handleCreatePetition(w http.ResponseWriter, r *http.Request) {
	if s.deps.Actions == nil {
		s.sendError(w, "Service is read-only", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseMultipartForm(maxFormBytes); err != nil {
		s.sendError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	draft, err := DraftFromForm(r.MultipartForm)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := draft.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := s.actionContext(r)
	defer cancel()

	out, err := s.deps.Actions.CreatePetition(ctx, draft, func(p upload.Progress) {
		s.logger.Debug("Create progress", zap.Int("step", p.Step), zap.String("message", p.Message))
	})
	s.sendOutcome(w, out, err, http.StatusCreated)
}

// handleSignPetition signs a petition
// POST /petitions/{id}/sign {"message": "..."}
func (s *Server) handleSignPetition(w http.ResponseWriter, r *http.Request, id string) {
	if s.deps.Actions == nil {
		s.sendError(w, "Service is read-only", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Message string `json:"message"`
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSignBytes)).Decode(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	ctx, cancel := s.actionContext(r)
	defer cancel()

	out, err := s.deps.Actions.SignPetition(ctx, id, strings.TrimSpace(body.Message))
	s.sendOutcome(w, out, err, http.StatusOK)
}

// handleGetTransaction returns a journal row by id or transaction hash
// GET /transactions/{id}
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Journal == nil {
		s.sendError(w, "Journal not configured", http.StatusServiceUnavailable)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/transactions/"), "/")
	if id == "" || strings.Contains(id, "/") {
		s.sendError(w, "Transaction ID required", http.StatusBadRequest)
		return
	}

	var (
		rec *models.TxRecord
		err error
	)
	if strings.HasPrefix(id, "0x") {
		rec, err = s.deps.Journal.GetTransactionByTxID(r.Context(), id)
	} else {
		rec, err = s.deps.Journal.GetTransaction(r.Context(), id)
	}

	if errors.Is(err, storage.ErrNotFound) {
		s.sendError(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Failed to get transaction", zap.String("id", id), zap.Error(err))
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, rec)
}

// actionContext detaches a write from the client connection so the
// journal sees the real outcome, bounded by ActionTimeout
func (s *Server) actionContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), s.deps.ActionTimeout)
}

func (s *Server) sendOutcome(w http.ResponseWriter, out *actions.Outcome, err error, okCode int) {
	switch {
	case errors.Is(err, actions.ErrActionInFlight):
		s.sendError(w, "This action is already in progress", http.StatusConflict)
		return
	case err != nil:
		s.sendReadError(w, "", err)
		return
	}

	s.sendJSON(w, outcomeStatus(out, okCode), models.ActionResponse{
		Status:  string(out.Status),
		Kind:    string(out.Kind),
		Message: out.Message,
		TxID:    out.TxID,
		Payload: models.ActionPayload{
			ID:         out.ID,
			PetitionID: out.PetitionID,
			TokenID:    out.TokenID,
		},
	})
}

// sendReadError maps reader failures onto HTTP codes
func (s *Server) sendReadError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, petition.ErrNotFound):
		s.sendError(w, "Petition not found", http.StatusNotFound)
	case errors.Is(err, petition.ErrInvalidIdentifier):
		s.sendError(w, "Invalid petition identifier", http.StatusBadRequest)
	default:
		c := failure.Classify(err)
		s.logger.Warn("Read failed", zap.String("id", id), zap.String("kind", string(c.Kind)), zap.Error(err))
		s.sendKindError(w, c, http.StatusBadGateway)
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

// sendError sends a JSON error response
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}

func (s *Server) sendKindError(w http.ResponseWriter, c failure.Classification, code int) {
	s.sendJSON(w, code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: c.Message,
		Kind:    string(c.Kind),
		Code:    code,
	})
}
