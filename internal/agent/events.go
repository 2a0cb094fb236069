package agent

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventKind identifies one of the closed set of lifecycle events a run emits.
type EventKind string

const (
	EventRunStart     EventKind = "run_start"
	EventStepStart    EventKind = "step_start"
	EventToolDispatch EventKind = "tool_dispatch"
	EventToolResult   EventKind = "tool_result"
	EventPolicyDenied EventKind = "policy_denied"
	EventStepEnd      EventKind = "step_end"
	EventRunEnd       EventKind = "run_end"
)

// Event is one record in a run's trace. Fields beyond the header are
// populated per kind; unused ones are omitted from JSON. Sequence numbers
// are monotonic within a run, so the trace replays in emission order.
type Event struct {
	Seq         uint64    `json:"seq"`
	Kind        EventKind `json:"kind"`
	RunID       string    `json:"run_id"`
	Step        int       `json:"step,omitempty"`
	TimestampMS int64     `json:"timestamp_ms"`

	// run_start
	Task   string     `json:"task,omitempty"`
	Config *RunConfig `json:"config,omitempty"`

	// tool_dispatch / tool_result / policy_denied
	ToolName   string      `json:"tool_name,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	ArgsHash   string      `json:"args_hash,omitempty"`
	Result     *ToolResult `json:"result,omitempty"`
	Reason     string      `json:"reason,omitempty"`

	// step_end
	Action string `json:"action,omitempty"` // respond | tool_calls | no_op

	// run_end
	StopReason StopReason `json:"stop_reason,omitempty"`
	Success    bool       `json:"success,omitempty"`
	Response   string     `json:"response,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
}

// Handler receives events synchronously on the emitting goroutine.
// Handlers must not block; a panicking handler is recovered and skipped so
// one bad subscriber cannot kill a run.
type Handler func(Event)

// Bus is a per-run event bus with kind-scoped and catch-all subscriptions.
// Emission is synchronous: by the time Emit returns, every subscriber has
// seen the event, which keeps traces complete even when the run ends
// immediately afterwards.
type Bus struct {
	mu       sync.RWMutex
	byKind   map[EventKind][]Handler
	all      []Handler
	sequence uint64

	now func() time.Time
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		byKind: make(map[EventKind][]Handler),
		now:    time.Now,
	}
}

// On subscribes a handler to one event kind.
func (b *Bus) On(kind EventKind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byKind[kind] = append(b.byKind[kind], h)
}

// OnAll subscribes a handler to every event.
func (b *Bus) OnAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Emit stamps the event with the next sequence number and timestamp, then
// delivers it to catch-all handlers followed by kind handlers.
func (b *Bus) Emit(ev Event) Event {
	ev.Seq = atomic.AddUint64(&b.sequence, 1)
	if ev.TimestampMS == 0 {
		ev.TimestampMS = b.now().UnixMilli()
	}

	b.mu.RLock()
	all := b.all
	kind := b.byKind[ev.Kind]
	b.mu.RUnlock()

	for _, h := range all {
		safeDeliver(h, ev)
	}
	for _, h := range kind {
		safeDeliver(h, ev)
	}
	return ev
}

func safeDeliver(h Handler, ev Event) {
	defer func() {
		_ = recover()
	}()
	h(ev)
}
