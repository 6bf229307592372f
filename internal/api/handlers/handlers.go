// Package handlers implements the HTTP handlers for the panrag query
// service: the query endpoint, conversation history, and health/version.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/panrag/panrag/internal/memory"
	"github.com/panrag/panrag/internal/pipeline"
	"github.com/panrag/panrag/pkg/models"
)

// healthCheckTimeout bounds each dependency probe on /health.
const healthCheckTimeout = 3 * time.Second

// QueryRunner executes one query through the pipeline.
// Implementation: internal/pipeline.Pipeline.
type QueryRunner interface {
	Run(ctx context.Context, question, convID, domain string) (*models.QueryResult, error)
}

// HealthCheck probes one backing dependency.
type HealthCheck func(ctx context.Context) error

// Handlers holds all handler dependencies.
type Handlers struct {
	Pipeline QueryRunner
	Memory   *memory.Manager
	Version  string
	Checks   map[string]HealthCheck
}

// New creates a Handlers instance. Checks may be nil.
func New(p QueryRunner, mem *memory.Manager, version string, checks map[string]HealthCheck) *Handlers {
	return &Handlers{Pipeline: p, Memory: mem, Version: version, Checks: checks}
}

// ── Query ────────────────────────────────────────────────────

type queryRequest struct {
	Question string `json:"question"`
	ConvID   string `json:"conv_id"`
	Domain   string `json:"domain"`
}

// Query handles POST /api/v1/query.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, http.StatusBadRequest, "question is required")
		return
	}

	result, err := h.Pipeline.Run(r.Context(), req.Question, req.ConvID, req.Domain)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyQuestion) {
			respondError(w, http.StatusBadRequest, "question is required")
			return
		}
		log.Error().Err(err).Msg("query pipeline failed")
		respondError(w, http.StatusServiceUnavailable, "query service unavailable")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ── Conversation History ─────────────────────────────────────

// History handles GET /api/v1/conversations/{convID}/turns, returning
// the recent window (backfilled from the durable log when needed).
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "convID")
	if convID == "" {
		respondError(w, http.StatusBadRequest, "conversation id is required")
		return
	}
	turns := h.Memory.Context(r.Context(), convID)
	if turns == nil {
		turns = []models.ConversationTurn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conv_id": convID,
		"turns":   turns,
	})
}

// ── Health & Version ─────────────────────────────────────────

// Health handles GET /health. Any failing dependency check degrades the
// status to 503 and names the component.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	failing := []string{}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			log.Warn().Err(err).Str("component", name).Msg("health check failed")
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "degraded",
			"service": "panrag",
			"failing": failing,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "panrag",
	})
}

func (h *Handlers) VersionInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
		"service": "panrag",
	})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
