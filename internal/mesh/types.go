// Package mesh lets independent nodes share tool capacity. Nodes join
// through seed peers, heartbeat their load, and route tool calls to
// whichever node has free browser capacity, always falling back to local
// execution when the mesh misbehaves.
package mesh

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/webwraith/wraith/internal/agent"
)

// Heartbeat and expiry cadence.
const (
	HeartbeatInterval = 15 * time.Second
	UnhealthyAfter    = 45 * time.Second
	RemoveAfter       = 120 * time.Second
)

// NewNodeID returns a random 12-character hex node identifier.
func NewNodeID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%012x", time.Now().UnixNano()&0xffffffffffff)
	}
	return hex.EncodeToString(b)
}

// NodeInfo identifies a node and what it offers to the mesh. An empty
// Tools list means the node runs the full tool set.
type NodeInfo struct {
	NodeID       string   `json:"node_id"`
	NodeName     string   `json:"node_name,omitempty"`
	AdvertiseURL string   `json:"advertise_url"`
	Tools        []string `json:"tools,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Version      string   `json:"version,omitempty"`
	JoinedAtMS   int64    `json:"joined_at_ms,omitempty"`
}

// NodeLoad is a node's capacity snapshot, piggybacked on heartbeats.
type NodeLoad struct {
	NodeID              string `json:"node_id"`
	ActiveCrawls        int64  `json:"active_crawls"`
	ActiveAgentRuns     int64  `json:"active_agent_runs"`
	BrowserPoolFree     int64  `json:"browser_pool_free"`
	MaxConcurrentCrawls int64  `json:"max_concurrent_crawls"`
	TimestampMS         int64  `json:"timestamp_ms"`
}

// PeerState is a remote node as seen from the local peer table. Load is
// nil until the first heartbeat carrying one arrives.
type PeerState struct {
	Info             NodeInfo  `json:"info"`
	Load             *NodeLoad `json:"load,omitempty"`
	LastHeartbeatMS  int64     `json:"last_heartbeat_ms"`
	MissedHeartbeats int       `json:"missed_heartbeats"`
	Healthy          bool      `json:"healthy"`
}

// JoinRequest is sent to a seed node when joining.
type JoinRequest struct {
	Node NodeInfo `json:"node"`
	Load NodeLoad `json:"load"`
}

// JoinResponse carries the seed's view of the mesh back to the joiner.
type JoinResponse struct {
	Accepted bool       `json:"accepted"`
	Self     NodeInfo   `json:"self"`
	Peers    []NodeInfo `json:"peers"`
}

// HeartbeatRequest refreshes a peer entry with a fresh load snapshot.
type HeartbeatRequest struct {
	Node NodeInfo `json:"node"`
	Load NodeLoad `json:"load"`
}

// HeartbeatResponse acknowledges and returns the receiver's own load so
// heartbeats double as load gossip.
type HeartbeatResponse struct {
	OK   bool     `json:"ok"`
	Node NodeInfo `json:"node"`
	Load NodeLoad `json:"load"`
}

// RequestContext carries run correlation across a forwarded call.
type RequestContext struct {
	RunID           string `json:"run_id,omitempty"`
	CustomerID      string `json:"customer_id,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
	OriginatingNode string `json:"originating_node"`
}

// MeshToolRequest is a tool call forwarded to another node. HopCount is
// decremented on receipt; a request arriving with no hops left is refused
// rather than forwarded again.
type MeshToolRequest struct {
	ToolCall agent.ToolCall `json:"tool_call"`
	Context  RequestContext `json:"context"`
	HopCount int            `json:"hop_count"`
}

// MeshToolResult is the forwarded call's outcome.
type MeshToolResult struct {
	ToolCallID   string `json:"tool_call_id"`
	OK           bool   `json:"ok"`
	Payload      any    `json:"payload,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Retriable    bool   `json:"retriable"`
	DurationMS   int64  `json:"duration_ms"`
	ExecutedBy   string `json:"executed_by"`
}

// RouteDecision records where a call went and why.
type RouteDecision struct {
	TargetNodeID string  `json:"target_node_id"`
	TargetURL    string  `json:"target_url,omitempty"`
	IsLocal      bool    `json:"is_local"`
	Score        float64 `json:"score"`
	Reason       string  `json:"reason"`
}
