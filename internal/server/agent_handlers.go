package server

import (
	"net/http"
	"strings"

	"github.com/webwraith/wraith/internal/trace"
)

// AgentRunRequest is the POST /agent/run body. Limits left at zero fall
// back to the server defaults.
type AgentRunRequest struct {
	Task           string   `json:"task"`
	MaxSteps       int      `json:"max_steps,omitempty"`
	MaxWallTimeMS  int64    `json:"max_wall_time_ms,omitempty"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	AllowedTools   []string `json:"allowed_tools,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
	CustomerID     string   `json:"customer_id,omitempty"`
}

func (h *Handler) handleAgentRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config.Engine == nil {
		h.jsonError(w, "agent disabled", http.StatusNotFound)
		return
	}

	var req AgentRunRequest
	if err := h.decode(r, &req); err != nil {
		h.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		h.jsonError(w, "task is required", http.StatusBadRequest)
		return
	}

	cfg := h.config.DefaultRun
	if req.MaxSteps > 0 {
		cfg.MaxSteps = req.MaxSteps
	}
	if req.MaxWallTimeMS > 0 {
		cfg.MaxWallTimeMS = req.MaxWallTimeMS
	}
	if len(req.AllowedDomains) > 0 {
		cfg.AllowedDomains = req.AllowedDomains
	}
	if len(req.AllowedTools) > 0 {
		cfg.AllowedTools = req.AllowedTools
	}

	result, summary := h.config.Engine.Run(r.Context(), req.Task, cfg)
	h.rememberRun(r.Context(), req.CustomerID, req.SessionID, summary)
	h.jsonResponse(w, result)
}

func (h *Handler) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	runID := strings.TrimPrefix(r.URL.Path, "/agent/status/")
	if runID == "" || strings.Contains(runID, "/") {
		h.jsonError(w, "run id required", http.StatusBadRequest)
		return
	}

	h.runMu.RLock()
	summary, ok := h.runs[runID]
	h.runMu.RUnlock()
	if ok {
		h.jsonResponse(w, summary)
		return
	}

	// Fall through to the trace store for runs from before a restart.
	if h.config.TraceStore != nil {
		customerID := r.URL.Query().Get("customer_id")
		sessionID := r.URL.Query().Get("session_id")
		stored, err := h.config.TraceStore.Load(r.Context(), customerID, sessionID, runID)
		if err == nil {
			h.jsonResponse(w, stored)
			return
		}
		if err != trace.ErrNotFound {
			h.log.Warn("trace load failed", "run_id", runID, "error", err)
		}
	}
	h.jsonError(w, "run not found", http.StatusNotFound)
}

// AgentGhostRequest is the POST /agent/ghost body: a direct invocation of
// the vision extraction path, bypassing the agent loop.
type AgentGhostRequest struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id,omitempty"`
}

func (h *Handler) handleAgentGhost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config.Ghost == nil {
		h.jsonError(w, "ghost disabled", http.StatusNotFound)
		return
	}

	var req AgentGhostRequest
	if err := h.decode(r, &req); err != nil {
		h.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		h.jsonError(w, "url is required", http.StatusBadRequest)
		return
	}

	result := h.config.Ghost.Run(r.Context(), req.URL, req.SessionID)
	h.jsonResponse(w, result)
}
