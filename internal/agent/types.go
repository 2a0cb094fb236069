// Package agent implements the bounded agentic loop: plan, execute, observe,
// stop. The engine asks an LLM provider for the next action, dispatches tool
// calls through a policy gate, and accumulates a replayable trace.
package agent

import (
	"encoding/json"
	"time"
)

// ToolCall is a single tool invocation requested by the assistant.
// It is immutable once created by the provider adapter.
type ToolCall struct {
	// ID is opaque but unique within a run.
	ID string `json:"id"`

	// Name is the registered tool name.
	Name string `json:"name"`

	// Args are the call arguments as decoded JSON.
	Args map[string]any `json:"args"`
}

// ToolResult is the normalized outcome of one dispatched tool call.
// Every failure mode maps to a closed set of error codes; the dispatcher
// never surfaces a Go error to the engine.
type ToolResult struct {
	ToolCallID   string `json:"tool_call_id"`
	OK           bool   `json:"ok"`
	Payload      any    `json:"payload,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Retriable    bool   `json:"retriable"`
	DurationMS   int64  `json:"duration_ms"`
}

// Error codes attached to ToolResult and RunResult. Closed set.
const (
	ErrCodeValidation    = "validation_error"
	ErrCodePolicyDenied  = "policy_denied"
	ErrCodeUnavailable   = "tool_unavailable"
	ErrCodeTimeout       = "tool_timeout"
	ErrCodeExecution     = "execution_error"
	ErrCodeProvider      = "provider_error"
	ErrCodeStopCondition = "stop_condition"
)

// RunConfig is the immutable configuration carried through one run.
// Empty allow lists mean allow-all.
type RunConfig struct {
	MaxSteps           int      `json:"max_steps"`
	MaxWallTimeMS      int64    `json:"max_wall_time_ms"`
	MaxFailures        int      `json:"max_failures"`
	AllowedTools       []string `json:"allowed_tools,omitempty"`
	AllowedDomains     []string `json:"allowed_domains,omitempty"`
	BlockPrivateRanges bool     `json:"block_private_ranges"`
	RedactSecrets      bool     `json:"redact_secrets"`
}

// DefaultRunConfig returns the run limits used when a request does not
// override them.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		MaxSteps:           12,
		MaxWallTimeMS:      90_000,
		MaxFailures:        3,
		BlockPrivateRanges: true,
		RedactSecrets:      true,
	}
}

// RunState is the engine's position in the plan/execute/observe cycle.
type RunState string

const (
	StateInit        RunState = "init"
	StatePlan        RunState = "plan"
	StateExecuteTool RunState = "execute_tool"
	StateObserve     RunState = "observe"
	StateRespond     RunState = "respond"
	StateStop        RunState = "stop"
	StateError       RunState = "error"
)

// StopReason explains why the loop terminated.
type StopReason string

const (
	StopMaxSteps     StopReason = "max_steps"
	StopMaxWallTime  StopReason = "max_wall_time"
	StopMaxFailures  StopReason = "max_failures"
	StopNoOpLoop     StopReason = "no_op_loop"
	StopPolicyDenied StopReason = "policy_denied"
	StopCompleted    StopReason = "completed"
)

// Message is one chat turn in the run's conversation. Tool turns reference
// the exact tool_call_id the assistant produced; adapters translate to
// provider shapes but never reorder.
type Message struct {
	Role       string     `json:"role"` // user | assistant | tool | system
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// RunContext is the mutable per-run state. It is owned exclusively by one
// engine invocation and never shared across goroutines.
type RunContext struct {
	RunID            string
	Task             string
	Config           RunConfig
	State            RunState
	Step             int
	Failures         int
	ConsecutiveNoOps int
	Messages         []Message
	Start            time.Time
}

// RunResult is returned to the caller when a run finishes.
type RunResult struct {
	RunID      string     `json:"run_id"`
	Success    bool       `json:"success"`
	StopReason StopReason `json:"stop_reason"`
	Response   string     `json:"response,omitempty"`
	Steps      int        `json:"steps"`
	WallTimeMS int64      `json:"wall_time_ms"`
	Trace      []Event    `json:"trace,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// AssistantAction is the tagged variant the provider adapter returns:
// either a terminal text response or a batch of tool calls.
type AssistantAction interface {
	isAssistantAction()
}

// Respond is the terminal action carrying the assistant's final text.
type Respond struct {
	Text string
}

// ToolCalls is the action requesting one or more tool executions.
type ToolCalls struct {
	Calls []ToolCall
}

func (Respond) isAssistantAction()   {}
func (ToolCalls) isAssistantAction() {}

// ToolOutput is what a tool's Execute returns before normalization.
type ToolOutput struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolSchema describes one tool for the provider adapter.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
