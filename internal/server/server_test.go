package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/webwraith/wraith/internal/agent"
	"github.com/webwraith/wraith/internal/mesh"
	"github.com/webwraith/wraith/internal/trace"
)

func newMeshHandler(t *testing.T) (*Handler, *mesh.Coordinator) {
	t.Helper()
	coordinator := mesh.NewCoordinator(mesh.CoordinatorConfig{
		Node:   mesh.NodeInfo{NodeID: "self", AdvertiseURL: "http://self:8000"},
		Secret: "s3cret",
	}, nil, nil)
	local := agent.NewDispatcher(agent.NewRegistry(), agent.DispatcherConfig{}, nil)
	disp := mesh.NewDispatcher(local, mesh.NewRouter(coordinator), coordinator, "s3cret", nil)
	h := NewHandler(Config{
		Coordinator: coordinator,
		MeshDisp:    disp,
		MeshSecret:  "s3cret",
	})
	return h, coordinator
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Mesh-Token", token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := NewHandler(Config{})
	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestDisabledEndpoints(t *testing.T) {
	h := NewHandler(Config{})
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/agent/run"},
		{http.MethodPost, "/agent/ghost"},
		{http.MethodPost, "/crawl"},
		{http.MethodPost, "/markdown"},
		{http.MethodPost, "/batch"},
		{http.MethodGet, "/mesh/peers"},
		{http.MethodGet, "/mesh/status"},
	}
	for _, tt := range tests {
		rec := doJSON(t, h, tt.method, tt.path, "", map[string]any{"task": "x", "url": "x", "urls": []string{"x"}})
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404 with no backend wired", tt.method, tt.path, rec.Code)
		}
	}
}

func TestAgentRunValidation(t *testing.T) {
	// A nil engine is checked before the body, so use mesh-only handler plus
	// a synthetic engine-backed case is covered in engine tests. Here the
	// validation path needs any non-nil engine; the zero value suffices
	// because validation rejects before Run is reached.
	h := NewHandler(Config{Engine: &agent.Engine{}})

	rec := doJSON(t, h, http.MethodGet, "/agent/run", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /agent/run = %d, want 405", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/agent/run", "", map[string]any{"task": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank task = %d, want 400", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/agent/run", "", map[string]any{"bogus_field": 1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field = %d, want 400", rec.Code)
	}
}

func TestAgentStatusFromMemoryAndStore(t *testing.T) {
	store, err := trace.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	h := NewHandler(Config{TraceStore: store})

	// In-memory hit.
	h.rememberRun(context.Background(), "cust-1", "sess-1", agent.RunSummary{RunID: "run-mem", Steps: 2})
	rec := doJSON(t, h, http.MethodGet, "/agent/status/run-mem", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var summary agent.RunSummary
	json.Unmarshal(rec.Body.Bytes(), &summary)
	if summary.RunID != "run-mem" || summary.Steps != 2 {
		t.Errorf("summary = %+v, want in-memory run", summary)
	}

	// Store-only hit, as after a restart.
	if err := store.Save(context.Background(), "cust-1", "sess-1", agent.RunSummary{RunID: "run-old"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	fresh := NewHandler(Config{TraceStore: store})
	rec = doJSON(t, fresh, http.MethodGet, "/agent/status/run-old?customer_id=cust-1&session_id=sess-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status from store = %d, want 200", rec.Code)
	}

	// Miss.
	rec = doJSON(t, fresh, http.MethodGet, "/agent/status/run-unknown", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown run = %d, want 404", rec.Code)
	}

	// Missing or nested run id.
	rec = doJSON(t, fresh, http.MethodGet, "/agent/status/a/b", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("nested run id = %d, want 400", rec.Code)
	}
}

func TestMeshAuth(t *testing.T) {
	h, _ := newMeshHandler(t)

	// No token.
	rec := doJSON(t, h, http.MethodPost, "/mesh/join", "", mesh.JoinRequest{})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", rec.Code)
	}

	// Wrong secret.
	bad := mesh.MintToken("wrong", time.Now())
	rec = doJSON(t, h, http.MethodPost, "/mesh/join", bad, mesh.JoinRequest{})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret = %d, want 401", rec.Code)
	}

	// Stale token.
	stale := mesh.MintToken("s3cret", time.Now().Add(-2*time.Minute))
	rec = doJSON(t, h, http.MethodPost, "/mesh/join", stale, mesh.JoinRequest{})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("stale token = %d, want 401", rec.Code)
	}

	// Mesh disabled entirely.
	disabled := NewHandler(Config{})
	rec = doJSON(t, disabled, http.MethodPost, "/mesh/join", mesh.MintToken("s3cret", time.Now()), mesh.JoinRequest{})
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled mesh = %d, want 404", rec.Code)
	}
}

func TestMeshJoinFlow(t *testing.T) {
	h, coordinator := newMeshHandler(t)
	token := mesh.MintToken("s3cret", time.Now())

	// First joiner sees an empty peer list, never itself.
	rec := doJSON(t, h, http.MethodPost, "/mesh/join", token, mesh.JoinRequest{
		Node: mesh.NodeInfo{NodeID: "peer-1", AdvertiseURL: "http://peer-1:8000"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("join = %d: %s", rec.Code, rec.Body.String())
	}
	var resp mesh.JoinResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Accepted {
		t.Errorf("Accepted = false")
	}
	if resp.Self.NodeID != "self" {
		t.Errorf("Self.NodeID = %q, want self", resp.Self.NodeID)
	}
	if len(resp.Peers) != 0 {
		t.Errorf("first joiner got peers %v, want none", resp.Peers)
	}

	// Second joiner learns about the first.
	rec = doJSON(t, h, http.MethodPost, "/mesh/join", token, mesh.JoinRequest{
		Node: mesh.NodeInfo{NodeID: "peer-2", AdvertiseURL: "http://peer-2:8000"},
	})
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Peers) != 1 || resp.Peers[0].NodeID != "peer-1" {
		t.Errorf("second joiner peers = %v, want [peer-1]", resp.Peers)
	}

	// Missing fields are rejected.
	rec = doJSON(t, h, http.MethodPost, "/mesh/join", token, mesh.JoinRequest{
		Node: mesh.NodeInfo{NodeID: "peer-3"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("join without advertise_url = %d, want 400", rec.Code)
	}

	if got := len(coordinator.Peers()); got != 2 {
		t.Errorf("coordinator peers = %d, want 2", got)
	}
}

func TestMeshHeartbeatReportsLoad(t *testing.T) {
	h, coordinator := newMeshHandler(t)
	token := mesh.MintToken("s3cret", time.Now())

	rec := doJSON(t, h, http.MethodPost, "/mesh/heartbeat", token, mesh.HeartbeatRequest{
		Node: mesh.NodeInfo{NodeID: "peer-1", AdvertiseURL: "http://peer-1:8000"},
		Load: mesh.NodeLoad{BrowserPoolFree: 2, MaxConcurrentCrawls: 4},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("heartbeat = %d", rec.Code)
	}
	var resp mesh.HeartbeatResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.OK || resp.Node.NodeID != "self" {
		t.Errorf("response = %+v, want receiver identity", resp)
	}

	peers := coordinator.Peers()
	if len(peers) != 1 || peers[0].Load == nil || peers[0].Load.BrowserPoolFree != 2 {
		t.Errorf("heartbeat load not folded into peer table: %+v", peers)
	}
}

func TestMeshExecute(t *testing.T) {
	h, _ := newMeshHandler(t)
	token := mesh.MintToken("s3cret", time.Now())

	rec := doJSON(t, h, http.MethodPost, "/mesh/execute", token, mesh.MeshToolRequest{
		ToolCall: agent.ToolCall{ID: "1", Name: "crawl"},
		HopCount: 1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute = %d", rec.Code)
	}
	var result mesh.MeshToolResult
	json.Unmarshal(rec.Body.Bytes(), &result)
	// The registry is empty, so the structured answer is tool_unavailable,
	// executed here.
	if result.OK {
		t.Errorf("OK = true, want structured failure from empty registry")
	}
	if result.ErrorCode != agent.ErrCodeUnavailable {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, agent.ErrCodeUnavailable)
	}
	if result.ExecutedBy != "self" {
		t.Errorf("ExecutedBy = %q, want self", result.ExecutedBy)
	}

	// Missing tool name.
	rec = doJSON(t, h, http.MethodPost, "/mesh/execute", token, mesh.MeshToolRequest{HopCount: 1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("execute without tool = %d, want 400", rec.Code)
	}
}

func TestMeshLeave(t *testing.T) {
	h, coordinator := newMeshHandler(t)
	token := mesh.MintToken("s3cret", time.Now())
	coordinator.Observe(mesh.NodeInfo{NodeID: "peer-1", AdvertiseURL: "http://peer-1:8000"}, nil)

	rec := doJSON(t, h, http.MethodPost, "/mesh/leave", token, mesh.JoinRequest{
		Node: mesh.NodeInfo{NodeID: "peer-1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("leave = %d", rec.Code)
	}
	if got := len(coordinator.Peers()); got != 0 {
		t.Errorf("peers after leave = %d, want 0", got)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/agent/run", "/agent/run"},
		{"/agent/status/run-123", "/agent/status/{run_id}"},
		{"/stream/sess-1", "/stream/{session_id}"},
		{"/healthz", "/healthz"},
	}
	for _, tt := range tests {
		if got := routeLabel(tt.path); got != tt.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
