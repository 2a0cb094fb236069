package mesh

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webwraith/wraith/internal/agent"
)

// localStub is the in-process dispatcher the mesh wraps.
type localStub struct {
	calls atomic.Int64
	fn    func(agent.ToolCall) agent.ToolResult
}

func (s *localStub) Dispatch(_ context.Context, call agent.ToolCall) agent.ToolResult {
	s.calls.Add(1)
	if s.fn != nil {
		return s.fn(call)
	}
	return agent.ToolResult{ToolCallID: call.ID, OK: true, Payload: "local"}
}

func (s *localStub) DispatchMany(ctx context.Context, calls []agent.ToolCall) []agent.ToolResult {
	out := make([]agent.ToolResult, len(calls))
	for i, call := range calls {
		out[i] = s.Dispatch(ctx, call)
	}
	return out
}

func newMeshDispatcher(c *Coordinator, local agent.ToolDispatcher) *Dispatcher {
	return NewDispatcher(local, NewRouter(c), c, "s3cret", nil)
}

func TestDispatchLocalWhenAlone(t *testing.T) {
	c := newTestCoordinator(NodeInfo{NodeID: "self"}, nil)
	local := &localStub{}
	d := newMeshDispatcher(c, local)

	result := d.Dispatch(context.Background(), agent.ToolCall{ID: "1", Name: "crawl"})

	if !result.OK || result.Payload != "local" {
		t.Errorf("result = %+v, want local execution", result)
	}
	if local.calls.Load() != 1 {
		t.Errorf("local calls = %d, want 1", local.calls.Load())
	}
}

func TestDispatchForwardsToIdlePeer(t *testing.T) {
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mesh/execute" {
			t.Errorf("path = %q, want /mesh/execute", r.URL.Path)
		}
		if err := VerifyToken("s3cret", r.Header.Get("X-Mesh-Token"), time.Now()); err != nil {
			t.Errorf("forward token invalid: %v", err)
		}
		var req MeshToolRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.HopCount != 1 {
			t.Errorf("HopCount = %d, want 1", req.HopCount)
		}
		if req.Context.OriginatingNode != "self" {
			t.Errorf("OriginatingNode = %q, want self", req.Context.OriginatingNode)
		}
		json.NewEncoder(w).Encode(MeshToolResult{
			ToolCallID: req.ToolCall.ID,
			OK:         true,
			Payload:    "remote",
			ExecutedBy: "peer-1",
		})
	}))
	defer peer.Close()

	c := newTestCoordinator(NodeInfo{NodeID: "self"}, func() NodeLoad {
		return NodeLoad{ActiveCrawls: 4, MaxConcurrentCrawls: 4}
	})
	c.Observe(NodeInfo{NodeID: "peer-1", AdvertiseURL: peer.URL},
		&NodeLoad{BrowserPoolFree: 4, MaxConcurrentCrawls: 4})

	local := &localStub{}
	d := newMeshDispatcher(c, local)
	result := d.Dispatch(context.Background(), agent.ToolCall{ID: "1", Name: "crawl"})

	if !result.OK || result.Payload != "remote" {
		t.Errorf("result = %+v, want remote execution", result)
	}
	if local.calls.Load() != 0 {
		t.Errorf("local calls = %d, want 0", local.calls.Load())
	}
}

func TestDispatchFallsBackOnForwardFailure(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	dead.Close() // connection refused

	c := newTestCoordinator(NodeInfo{NodeID: "self"}, func() NodeLoad {
		return NodeLoad{ActiveCrawls: 4, MaxConcurrentCrawls: 4}
	})
	c.Observe(NodeInfo{NodeID: "peer-1", AdvertiseURL: dead.URL},
		&NodeLoad{BrowserPoolFree: 4, MaxConcurrentCrawls: 4})

	local := &localStub{}
	d := newMeshDispatcher(c, local)
	result := d.Dispatch(context.Background(), agent.ToolCall{ID: "1", Name: "crawl"})

	if !result.OK || result.Payload != "local" {
		t.Errorf("result = %+v, want local fallback", result)
	}
	if local.calls.Load() != 1 {
		t.Errorf("local calls = %d, want 1", local.calls.Load())
	}
}

func TestDispatchRemoteStructuredFailureIsFinal(t *testing.T) {
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req MeshToolRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(MeshToolResult{
			ToolCallID:   req.ToolCall.ID,
			OK:           false,
			ErrorCode:    agent.ErrCodeExecution,
			ErrorMessage: "crawl failed remotely",
			ExecutedBy:   "peer-1",
		})
	}))
	defer peer.Close()

	c := newTestCoordinator(NodeInfo{NodeID: "self"}, func() NodeLoad {
		return NodeLoad{ActiveCrawls: 4, MaxConcurrentCrawls: 4}
	})
	c.Observe(NodeInfo{NodeID: "peer-1", AdvertiseURL: peer.URL},
		&NodeLoad{BrowserPoolFree: 4, MaxConcurrentCrawls: 4})

	local := &localStub{}
	d := newMeshDispatcher(c, local)
	result := d.Dispatch(context.Background(), agent.ToolCall{ID: "1", Name: "crawl"})

	// The peer executed and failed; that answer stands without re-running
	// locally.
	if result.OK {
		t.Errorf("OK = true, want structured remote failure")
	}
	if result.ErrorCode != agent.ErrCodeExecution {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, agent.ErrCodeExecution)
	}
	if local.calls.Load() != 0 {
		t.Errorf("local calls = %d, want 0", local.calls.Load())
	}
}

func TestHandleRemoteExecutesLocally(t *testing.T) {
	c := newTestCoordinator(NodeInfo{NodeID: "self"}, nil)
	local := &localStub{}
	d := newMeshDispatcher(c, local)

	result := d.HandleRemote(context.Background(), MeshToolRequest{
		ToolCall: agent.ToolCall{ID: "1", Name: "crawl"},
		HopCount: 1,
	})

	if !result.OK {
		t.Errorf("OK = false, want execution")
	}
	if result.ExecutedBy != "self" {
		t.Errorf("ExecutedBy = %q, want self", result.ExecutedBy)
	}
}

func TestHandleRemoteRefusesExhaustedHops(t *testing.T) {
	c := newTestCoordinator(NodeInfo{NodeID: "self"}, nil)
	local := &localStub{}
	d := newMeshDispatcher(c, local)

	result := d.HandleRemote(context.Background(), MeshToolRequest{
		ToolCall: agent.ToolCall{ID: "1", Name: "crawl"},
		HopCount: 0,
	})

	if result.OK {
		t.Errorf("OK = true, want refusal")
	}
	if result.ErrorCode != agent.ErrCodeUnavailable {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, agent.ErrCodeUnavailable)
	}
	if local.calls.Load() != 0 {
		t.Errorf("local calls = %d, want 0: exhausted requests never execute", local.calls.Load())
	}
}

func TestDispatchManyRoutesEachCall(t *testing.T) {
	c := newTestCoordinator(NodeInfo{NodeID: "self"}, nil)
	local := &localStub{}
	d := newMeshDispatcher(c, local)

	calls := []agent.ToolCall{
		{ID: "a", Name: "crawl"},
		{ID: "b", Name: "markdown"},
		{ID: "c", Name: "crawl"},
	}
	results := d.DispatchMany(context.Background(), calls)

	if len(results) != len(calls) {
		t.Fatalf("results = %d, want %d", len(results), len(calls))
	}
	for i, res := range results {
		if res.ToolCallID != calls[i].ID {
			t.Errorf("result %d ToolCallID = %q, want %q", i, res.ToolCallID, calls[i].ID)
		}
	}
}
