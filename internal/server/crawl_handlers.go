package server

import (
	"net/http"

	"github.com/webwraith/wraith/internal/crawl"
)

// CrawlRequest is the POST /crawl and /markdown body.
type CrawlRequest struct {
	URL             string   `json:"url"`
	WaitStrategy    string   `json:"wait_strategy,omitempty"`
	WaitSelector    string   `json:"wait_selector,omitempty"`
	JSPayload       string   `json:"js_payload,omitempty"`
	WaitAfterLoadMS int64    `json:"wait_after_load_ms,omitempty"`
	TimeoutMS       int64    `json:"timeout_ms,omitempty"`
	SessionID       string   `json:"session_id,omitempty"`
	AllowedDomains  []string `json:"allowed_domains,omitempty"`
	SkipPrecheck    bool     `json:"skip_precheck,omitempty"`
	DisableGhost    bool     `json:"disable_ghost,omitempty"`
}

func (r CrawlRequest) options() crawl.Options {
	return crawl.Options{
		WaitStrategy:    r.WaitStrategy,
		WaitSelector:    r.WaitSelector,
		JSPayload:       r.JSPayload,
		WaitAfterLoadMS: r.WaitAfterLoadMS,
		TimeoutMS:       r.TimeoutMS,
		SessionID:       r.SessionID,
		AllowedDomains:  r.AllowedDomains,
		SkipPrecheck:    r.SkipPrecheck,
		DisableGhost:    r.DisableGhost,
	}
}

func (h *Handler) handleCrawl(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCrawl(w, r)
	if !ok {
		return
	}
	result := h.config.Orchestrator.Crawl(r.Context(), req.URL, req.options())
	h.respondCrawl(w, result)
}

func (h *Handler) handleMarkdown(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCrawl(w, r)
	if !ok {
		return
	}
	result := h.config.Orchestrator.Crawl(r.Context(), req.URL, req.options())
	if !result.Success {
		h.respondCrawl(w, result)
		return
	}
	h.jsonResponse(w, map[string]any{
		"url":      result.URL,
		"title":    result.Title,
		"markdown": result.Markdown,
	})
}

// BatchRequest is the POST /batch body.
type BatchRequest struct {
	URLs           []string `json:"urls"`
	SessionID      string   `json:"session_id,omitempty"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	SkipPrecheck   bool     `json:"skip_precheck,omitempty"`
	DisableGhost   bool     `json:"disable_ghost,omitempty"`
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config.Orchestrator == nil {
		h.jsonError(w, "crawler disabled", http.StatusNotFound)
		return
	}

	var req BatchRequest
	if err := h.decode(r, &req); err != nil {
		h.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.URLs) == 0 {
		h.jsonError(w, "urls is required", http.StatusBadRequest)
		return
	}
	if len(req.URLs) > crawl.MaxBatchURLs {
		h.jsonError(w, "too many urls", http.StatusBadRequest)
		return
	}

	results := h.config.Orchestrator.Batch(r.Context(), req.URLs, crawl.Options{
		SessionID:      req.SessionID,
		AllowedDomains: req.AllowedDomains,
		SkipPrecheck:   req.SkipPrecheck,
		DisableGhost:   req.DisableGhost,
	})
	h.jsonResponse(w, map[string]any{"results": results})
}

func (h *Handler) decodeCrawl(w http.ResponseWriter, r *http.Request) (CrawlRequest, bool) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return CrawlRequest{}, false
	}
	if h.config.Orchestrator == nil {
		h.jsonError(w, "crawler disabled", http.StatusNotFound)
		return CrawlRequest{}, false
	}
	var req CrawlRequest
	if err := h.decode(r, &req); err != nil {
		h.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return CrawlRequest{}, false
	}
	if req.URL == "" {
		h.jsonError(w, "url is required", http.StatusBadRequest)
		return CrawlRequest{}, false
	}
	return req, true
}

// respondCrawl maps pipeline failures onto HTTP codes: saturation is 503
// so callers know to retry elsewhere, everything else stays 200 with the
// failure described in the body.
func (h *Handler) respondCrawl(w http.ResponseWriter, result crawl.Result) {
	if result.Error == "browser pool saturated" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	h.jsonResponse(w, result)
}
