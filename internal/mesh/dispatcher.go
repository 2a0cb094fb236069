package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/webwraith/wraith/internal/agent"
	"github.com/webwraith/wraith/internal/observability"
)

// Dispatcher wraps the local tool dispatcher with mesh routing. Every
// remote failure falls back to local execution, so a degraded mesh is
// never worse than no mesh.
type Dispatcher struct {
	local       agent.ToolDispatcher
	router      *Router
	coordinator *Coordinator
	secret      string
	log         *observability.Logger
	client      *http.Client
	now         func() time.Time
}

// NewDispatcher builds the mesh-aware dispatcher around a local one.
func NewDispatcher(local agent.ToolDispatcher, router *Router, coordinator *Coordinator, secret string, log *observability.Logger) *Dispatcher {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Dispatcher{
		local:       local,
		router:      router,
		coordinator: coordinator,
		secret:      secret,
		log:         log,
		client:      &http.Client{Timeout: 60 * time.Second},
		now:         time.Now,
	}
}

// Dispatch routes one call: remote when a peer scores higher, local
// otherwise or on any forwarding failure.
func (d *Dispatcher) Dispatch(ctx context.Context, call agent.ToolCall) agent.ToolResult {
	decision := d.router.Route(call.Name)
	if decision.IsLocal {
		return d.local.Dispatch(ctx, call)
	}

	result, err := d.forward(ctx, decision, call)
	if err != nil {
		observability.MeshForwards.WithLabelValues("failed").Inc()
		observability.MeshFallbacks.Inc()
		d.log.Warn("mesh forward failed, executing locally",
			"tool", call.Name, "peer", decision.TargetNodeID, "error", err)
		return d.local.Dispatch(ctx, call)
	}
	observability.MeshForwards.WithLabelValues("ok").Inc()
	return result
}

// DispatchMany fans calls out with per-call routing.
func (d *Dispatcher) DispatchMany(ctx context.Context, calls []agent.ToolCall) []agent.ToolResult {
	results := make([]agent.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call agent.ToolCall) {
			defer wg.Done()
			results[i] = d.Dispatch(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// HandleRemote executes a request received from another node. The hop
// budget is spent on arrival: a request with no hops left is refused, and
// nothing executed here is ever forwarded again.
func (d *Dispatcher) HandleRemote(ctx context.Context, req MeshToolRequest) MeshToolResult {
	self := d.coordinator.Self().NodeID
	if req.HopCount <= 0 {
		return MeshToolResult{
			ToolCallID:   req.ToolCall.ID,
			ErrorCode:    agent.ErrCodeUnavailable,
			ErrorMessage: "hop budget exhausted",
			ExecutedBy:   self,
		}
	}

	result := d.local.Dispatch(ctx, req.ToolCall)
	return MeshToolResult{
		ToolCallID:   result.ToolCallID,
		OK:           result.OK,
		Payload:      result.Payload,
		ErrorCode:    result.ErrorCode,
		ErrorMessage: result.ErrorMessage,
		Retriable:    result.Retriable,
		DurationMS:   result.DurationMS,
		ExecutedBy:   self,
	}
}

func (d *Dispatcher) forward(ctx context.Context, decision RouteDecision, call agent.ToolCall) (agent.ToolResult, error) {
	req := MeshToolRequest{
		ToolCall: call,
		Context: RequestContext{
			OriginatingNode: d.coordinator.Self().NodeID,
		},
		HopCount: 1,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return agent.ToolResult{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, decision.TargetURL+"/mesh/execute", bytes.NewReader(payload))
	if err != nil {
		return agent.ToolResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Mesh-Token", MintToken(d.secret, d.now()))

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return agent.ToolResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return agent.ToolResult{}, fmt.Errorf("peer returned %d", resp.StatusCode)
	}

	var remote MeshToolResult
	if err := json.NewDecoder(resp.Body).Decode(&remote); err != nil {
		return agent.ToolResult{}, fmt.Errorf("decode response: %w", err)
	}
	// A structured remote failure is still a valid dispatch outcome; only
	// transport and protocol errors trigger the local fallback.
	return agent.ToolResult{
		ToolCallID:   remote.ToolCallID,
		OK:           remote.OK,
		Payload:      remote.Payload,
		ErrorCode:    remote.ErrorCode,
		ErrorMessage: remote.ErrorMessage,
		Retriable:    remote.Retriable,
		DurationMS:   remote.DurationMS,
	}, nil
}
