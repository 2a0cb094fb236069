package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/webwraith/wraith/internal/observability"
)

// NoOpThreshold is how many identical consecutive actions end a run.
const NoOpThreshold = 3

// PolicyGate decides whether a tool call may run under a run's config.
// A nil error allows the call; a non-nil error's message is the denial reason.
type PolicyGate interface {
	Check(name string, args map[string]any, cfg RunConfig) error
}

// Engine drives the bounded agentic loop: check stop conditions, ask the
// provider for the next action, execute tool calls through the gate and
// dispatcher, feed results back, repeat. Stop conditions are evaluated
// before each planning step, never after the fact.
type Engine struct {
	provider   Provider
	dispatcher ToolDispatcher
	registry   *Registry
	gate       PolicyGate
	log        *observability.Logger

	subscribers []Handler
	systemText  string
	now         func() time.Time
	activeRuns  atomic.Int64
}

// NewEngine wires an engine. gate may be nil, which allows every call.
func NewEngine(provider Provider, dispatcher ToolDispatcher, registry *Registry, gate PolicyGate, log *observability.Logger) *Engine {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Engine{
		provider:   provider,
		dispatcher: dispatcher,
		registry:   registry,
		gate:       gate,
		log:        log,
		systemText: defaultSystemText,
		now:        time.Now,
	}
}

// Subscribe attaches a handler to every future run's event bus. Used by the
// streaming layer to relay live progress.
func (e *Engine) Subscribe(h Handler) {
	e.subscribers = append(e.subscribers, h)
}

// SetSystemText overrides the system prompt prepended to every run.
func (e *Engine) SetSystemText(text string) {
	if text != "" {
		e.systemText = text
	}
}

const defaultSystemText = "You are a web research agent. Use the available tools to " +
	"complete the task, then reply with a final answer. Do not repeat a tool call " +
	"that already returned the information you need."

// ActiveRuns reports how many runs are currently in flight, feeding the
// mesh load snapshot.
func (e *Engine) ActiveRuns() int64 {
	return e.activeRuns.Load()
}

// Run executes one task to completion and returns both the caller-facing
// result and the persistable summary.
func (e *Engine) Run(ctx context.Context, task string, cfg RunConfig) (RunResult, RunSummary) {
	e.activeRuns.Add(1)
	defer e.activeRuns.Add(-1)

	if cfg.MaxSteps <= 0 {
		cfg = DefaultRunConfig()
	}

	rc := &RunContext{
		RunID:  uuid.NewString(),
		Task:   task,
		Config: cfg,
		State:  StateInit,
		Start:  e.now(),
		Messages: []Message{
			{Role: "system", Content: e.systemText},
			{Role: "user", Content: task},
		},
	}

	bus := NewBus()
	bus.now = e.now
	var redactor Redactor
	if cfg.RedactSecrets {
		redactor = traceRedactor
	}
	collector := NewTraceCollector(bus, redactor)
	for _, h := range e.subscribers {
		bus.OnAll(h)
	}

	bus.Emit(Event{Kind: EventRunStart, RunID: rc.RunID, Task: task, Config: &cfg})
	e.log.Info("run started", "run_id", rc.RunID, "max_steps", cfg.MaxSteps)

	result := e.loop(ctx, rc, bus)

	result.WallTimeMS = e.now().Sub(rc.Start).Milliseconds()
	result.Steps = rc.Step
	bus.Emit(Event{
		Kind:       EventRunEnd,
		RunID:      rc.RunID,
		StopReason: result.StopReason,
		Success:    result.Success,
		Response:   result.Response,
		Error:      result.Error,
		DurationMS: result.WallTimeMS,
	})

	summary := collector.Finalize(rc.Step, rc.Failures)
	result.Trace = summary.Trace
	observability.AgentRuns.WithLabelValues(string(result.StopReason)).Inc()
	e.log.Info("run finished",
		"run_id", rc.RunID, "stop_reason", result.StopReason,
		"steps", rc.Step, "failures", rc.Failures, "wall_ms", result.WallTimeMS)
	return result, summary
}

func (e *Engine) loop(ctx context.Context, rc *RunContext, bus *Bus) RunResult {
	tools := e.registry.Schemas()
	deniedFailures := 0

	for {
		if reason, ok := e.shouldStop(rc, deniedFailures); ok {
			rc.State = StateStop
			return RunResult{
				RunID:      rc.RunID,
				StopReason: reason,
				Error:      fmt.Sprintf("stopped: %s", reason),
			}
		}

		rc.Step++
		rc.State = StatePlan
		bus.Emit(Event{Kind: EventStepStart, RunID: rc.RunID, Step: rc.Step})

		action, err := e.provider.Complete(ctx, rc.Messages, tools)
		if err != nil {
			rc.Failures++
			e.log.Warn("provider error", "run_id", rc.RunID, "step", rc.Step, "error", err)
			bus.Emit(Event{
				Kind: EventStepEnd, RunID: rc.RunID, Step: rc.Step,
				Action: "no_op", Error: err.Error(),
			})
			continue
		}

		switch act := action.(type) {
		case Respond:
			rc.State = StateRespond
			bus.Emit(Event{Kind: EventStepEnd, RunID: rc.RunID, Step: rc.Step, Action: "respond"})
			return RunResult{
				RunID:      rc.RunID,
				Success:    true,
				StopReason: StopCompleted,
				Response:   act.Text,
			}

		case ToolCalls:
			if len(act.Calls) == 0 {
				rc.ConsecutiveNoOps++
				bus.Emit(Event{Kind: EventStepEnd, RunID: rc.RunID, Step: rc.Step, Action: "no_op"})
				continue
			}

			rc.ConsecutiveNoOps = 0
			rc.State = StateExecuteTool
			results := e.executeCalls(ctx, rc, bus, act.Calls)
			rc.State = StateObserve

			rc.Messages = append(rc.Messages, Message{Role: "assistant", ToolCalls: act.Calls})
			for i, res := range results {
				if !res.OK {
					rc.Failures++
					if res.ErrorCode == ErrCodePolicyDenied {
						deniedFailures++
					}
				}
				rc.Messages = append(rc.Messages, Message{
					Role:       "tool",
					ToolCallID: act.Calls[i].ID,
					Content:    renderResult(res),
				})
			}
			bus.Emit(Event{Kind: EventStepEnd, RunID: rc.RunID, Step: rc.Step, Action: "tool_calls"})

		default:
			rc.Failures++
			bus.Emit(Event{
				Kind: EventStepEnd, RunID: rc.RunID, Step: rc.Step,
				Action: "no_op", Error: "provider returned unknown action",
			})
		}
	}
}

// shouldStop checks the stop conditions in their fixed priority order.
func (e *Engine) shouldStop(rc *RunContext, deniedFailures int) (StopReason, bool) {
	if rc.Step >= rc.Config.MaxSteps {
		return StopMaxSteps, true
	}
	if rc.Config.MaxWallTimeMS > 0 && e.now().Sub(rc.Start).Milliseconds() >= rc.Config.MaxWallTimeMS {
		return StopMaxWallTime, true
	}
	if rc.Config.MaxFailures > 0 && rc.Failures >= rc.Config.MaxFailures {
		if deniedFailures >= rc.Failures {
			return StopPolicyDenied, true
		}
		return StopMaxFailures, true
	}
	if rc.ConsecutiveNoOps >= NoOpThreshold {
		return StopNoOpLoop, true
	}
	return "", false
}

// executeCalls gates every call, dispatches the allowed ones concurrently,
// and returns one result per call in the original call order. Denied calls
// get synthetic policy_denied results without ever reaching a tool.
func (e *Engine) executeCalls(ctx context.Context, rc *RunContext, bus *Bus, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	allowed := make([]ToolCall, 0, len(calls))
	allowedIdx := make([]int, 0, len(calls))

	for i, call := range calls {
		hash := ArgsHash(call.Args)
		if e.gate != nil {
			if err := e.gate.Check(call.Name, call.Args, rc.Config); err != nil {
				results[i] = ToolResult{
					ToolCallID:   call.ID,
					ErrorCode:    ErrCodePolicyDenied,
					ErrorMessage: err.Error(),
				}
				bus.Emit(Event{
					Kind: EventPolicyDenied, RunID: rc.RunID, Step: rc.Step,
					ToolName: call.Name, ToolCallID: call.ID, ArgsHash: hash,
					Reason: err.Error(),
				})
				continue
			}
		}
		bus.Emit(Event{
			Kind: EventToolDispatch, RunID: rc.RunID, Step: rc.Step,
			ToolName: call.Name, ToolCallID: call.ID, ArgsHash: hash,
		})
		allowed = append(allowed, call)
		allowedIdx = append(allowedIdx, i)
	}

	dispatched := e.dispatcher.DispatchMany(ctx, allowed)
	for j, res := range dispatched {
		i := allowedIdx[j]
		results[i] = res
		r := res
		bus.Emit(Event{
			Kind: EventToolResult, RunID: rc.RunID, Step: rc.Step,
			ToolName: calls[i].Name, ToolCallID: calls[i].ID, Result: &r,
		})
	}
	return results
}

// renderResult turns a tool result into the text the model observes.
func renderResult(res ToolResult) string {
	if res.OK {
		return renderPayload(res.Payload)
	}
	return fmt.Sprintf("ERROR [%s]: %s", res.ErrorCode, res.ErrorMessage)
}

func renderPayload(payload any) string {
	switch p := payload.(type) {
	case nil:
		return "ok"
	case string:
		return p
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Sprintf("%v", p)
		}
		return string(data)
	}
}
