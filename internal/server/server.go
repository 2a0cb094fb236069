// Package server exposes the HTTP surface: agent runs, crawls, mesh wire
// protocol, and live browser streaming.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webwraith/wraith/internal/agent"
	"github.com/webwraith/wraith/internal/browser"
	"github.com/webwraith/wraith/internal/crawl"
	"github.com/webwraith/wraith/internal/mesh"
	"github.com/webwraith/wraith/internal/observability"
	"github.com/webwraith/wraith/internal/trace"
)

// Config wires the handler's dependencies. Nil optional fields disable
// their endpoints.
type Config struct {
	Engine       *agent.Engine
	Orchestrator *crawl.Orchestrator
	Ghost        *crawl.Ghost
	Pool         *browser.Pool
	Coordinator  *mesh.Coordinator
	MeshDisp     *mesh.Dispatcher
	MeshSecret   string
	TraceStore   trace.Store
	DefaultRun   agent.RunConfig
	// StreamQuality is the JPEG quality for live frames; 0 uses the
	// default.
	StreamQuality int
	Logger        *observability.Logger
}

// Handler is the HTTP handler for all endpoints.
type Handler struct {
	config Config
	log    *observability.Logger
	mux    *http.ServeMux

	runMu sync.RWMutex
	runs  map[string]agent.RunSummary
}

// NewHandler builds the handler and registers routes.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.DefaultRun.MaxSteps == 0 {
		cfg.DefaultRun = agent.DefaultRunConfig()
	}
	h := &Handler{
		config: cfg,
		log:    cfg.Logger,
		mux:    http.NewServeMux(),
		runs:   make(map[string]agent.RunSummary),
	}
	h.routes()
	return h
}

func (h *Handler) routes() {
	h.mux.HandleFunc("/agent/run", h.handleAgentRun)
	h.mux.HandleFunc("/agent/status/", h.handleAgentStatus)
	h.mux.HandleFunc("/agent/ghost", h.handleAgentGhost)

	h.mux.HandleFunc("/crawl", h.handleCrawl)
	h.mux.HandleFunc("/markdown", h.handleMarkdown)
	h.mux.HandleFunc("/batch", h.handleBatch)

	h.mux.HandleFunc("/mesh/join", h.meshAuth(h.handleMeshJoin))
	h.mux.HandleFunc("/mesh/heartbeat", h.meshAuth(h.handleMeshHeartbeat))
	h.mux.HandleFunc("/mesh/execute", h.meshAuth(h.handleMeshExecute))
	h.mux.HandleFunc("/mesh/leave", h.meshAuth(h.handleMeshLeave))
	h.mux.HandleFunc("/mesh/peers", h.handleMeshPeers)
	h.mux.HandleFunc("/mesh/status", h.handleMeshStatus)

	h.mux.HandleFunc("/stream/", h.handleStream)

	h.mux.HandleFunc("/healthz", h.handleHealthz)
	h.mux.Handle("/metrics", promhttp.Handler())
}

// ServeHTTP applies the observation middleware and dispatches.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(sw, r)

	path := routeLabel(r.URL.Path)
	observability.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
	observability.HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	h.log.Debug("http request",
		"method", r.Method, "path", r.URL.Path,
		"status", sw.status, "duration_ms", time.Since(start).Milliseconds())
}

// routeLabel collapses parameterized paths so metric cardinality stays
// bounded.
func routeLabel(path string) string {
	switch {
	case len(path) > len("/agent/status/") && path[:len("/agent/status/")] == "/agent/status/":
		return "/agent/status/{run_id}"
	case len(path) > len("/stream/") && path[:len("/stream/")] == "/stream/":
		return "/stream/{session_id}"
	default:
		return path
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijack unsupported")
	}
	return hj.Hijack()
}

// Flush keeps the MJPEG stream unbuffered.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// meshAuth verifies the shared-secret token on mesh wire endpoints.
func (h *Handler) meshAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.config.MeshSecret == "" {
			h.jsonError(w, "mesh disabled", http.StatusNotFound)
			return
		}
		token := r.Header.Get("X-Mesh-Token")
		if err := mesh.VerifyToken(h.config.MeshSecret, token, time.Now()); err != nil {
			h.log.Warn("mesh auth rejected", "remote", r.RemoteAddr, "error", err)
			h.jsonError(w, "invalid mesh token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if h.config.Pool != nil {
		free, leased := h.config.Pool.Stats()
		status["browser_pool"] = map[string]int{"leased": leased, "free": free}
	}
	h.jsonResponse(w, status)
}

func (h *Handler) jsonResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response", "error", err)
	}
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *Handler) decode(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// rememberRun keeps the summary queryable via the status endpoint and
// persists it best effort.
func (h *Handler) rememberRun(ctx context.Context, customerID, sessionID string, summary agent.RunSummary) {
	h.runMu.Lock()
	h.runs[summary.RunID] = summary
	h.runMu.Unlock()

	if h.config.TraceStore == nil {
		return
	}
	if err := h.config.TraceStore.Save(ctx, customerID, sessionID, summary); err != nil {
		h.log.Warn("trace persist failed", "run_id", summary.RunID, "error", err)
	}
}
