package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sagelab/researchd/internal/research"
	"github.com/sagelab/researchd/internal/session"
	"github.com/sagelab/researchd/internal/streaming"
	"github.com/sagelab/researchd/internal/workflow"
)

// ResearchHandler exposes the research session API: start a run, poll
// its status, and fetch the finished paper.
type ResearchHandler struct {
	registry *session.Registry
	streams  *streaming.Manager
	engine   *workflow.Engine

	// baseCtx bounds background runs to the server lifetime; each run
	// also stops when its starting event consumer disconnects.
	baseCtx context.Context
	logger  *zap.Logger
}

func NewResearchHandler(registry *session.Registry, streams *streaming.Manager, engine *workflow.Engine, baseCtx context.Context, logger *zap.Logger) *ResearchHandler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &ResearchHandler{
		registry: registry,
		streams:  streams,
		engine:   engine,
		baseCtx:  baseCtx,
		logger:   logger,
	}
}

// RegisterRoutes registers the research API routes.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/research/start", h.handleStart)
	mux.HandleFunc("/api/research/status/", h.handleStatus)
	mux.HandleFunc("/api/research/paper/", h.handlePaper)
}

// handleStart creates a session, launches its workflow in the
// background, and streams the session's events to the caller as SSE.
// POST /api/research/start
func (h *ResearchHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sess, err := h.registry.Create(r.Context())
	if err != nil {
		h.logger.Error("Session create failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	// The run outlives its HTTP request but not the server; cancelling on
	// SSE return stops stage work once the consumer is gone.
	runCtx, cancel := context.WithCancel(h.baseCtx)
	defer cancel()
	go h.engine.Run(runCtx, sess)

	serveSSE(w, r, h.streams, sess.ID, 0, h.logger)
}

// handleStatus reports a session snapshot.
// GET /api/research/status/{id}
func (h *ResearchHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/research/status/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}
	sess, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, id, err)
		return
	}

	st := sess.State
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"status":     st.Status,
		"iteration":  st.Iteration,
		"domain":     st.DomainName(),
		"question":   st.QuestionText(),
		"confidence": st.OverallConfidence(),
		"messages":   len(st.Messages),
		"finalized":  sess.Finalized,
		"created_at": sess.CreatedAt.Format(time.RFC3339),
		"updated_at": sess.UpdatedAt.Format(time.RFC3339),
	})
}

// handlePaper returns the assembled paper as markdown.
// GET /api/research/paper/{id}
func (h *ResearchHandler) handlePaper(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/research/paper/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}
	sess, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, id, err)
		return
	}
	st := sess.State
	if st.Paper == nil {
		if st.Status == research.StatusError {
			writeError(w, http.StatusConflict, "session ended in error, no paper available")
			return
		}
		writeError(w, http.StatusConflict, fmt.Sprintf("paper not ready, session status is %s", st.Status))
		return
	}

	title := fmt.Sprintf("%s: An Autonomous AI Investigation", st.DomainName())
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, st.Paper.Markdown(title))
}

func (h *ResearchHandler) notFoundOr500(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	h.logger.Error("Session lookup failed", zap.String("session_id", id), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "session lookup failed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
