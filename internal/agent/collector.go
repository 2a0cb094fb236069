package agent

import (
	"sync"
)

// RunSummary is the persisted record of a completed run. It round-trips
// through JSON unchanged, which is what makes traces replayable.
type RunSummary struct {
	RunID         string     `json:"run_id"`
	Task          string     `json:"task"`
	Config        RunConfig  `json:"config"`
	Success       bool       `json:"success"`
	StopReason    StopReason `json:"stop_reason"`
	Response      string     `json:"response,omitempty"`
	Steps         int        `json:"steps"`
	Failures      int        `json:"failures"`
	PolicyDenials int        `json:"policy_denials"`
	StartedAtMS   int64      `json:"started_at_ms"`
	EndedAtMS     int64      `json:"ended_at_ms"`
	WallTimeMS    int64      `json:"wall_time_ms"`
	Trace         []Event    `json:"trace"`
}

// Redactor rewrites a value before it enters the trace. The collector applies
// it to tool result payloads and error messages when the run asks for secret
// redaction.
type Redactor func(any) any

// TraceCollector subscribes to every event on a run's bus and accumulates the
// ordered trace. Collection is append-only; Finalize snapshots the summary.
type TraceCollector struct {
	mu       sync.Mutex
	summary  RunSummary
	redactor Redactor
}

// NewTraceCollector attaches a collector to the bus. redactor may be nil.
func NewTraceCollector(bus *Bus, redactor Redactor) *TraceCollector {
	c := &TraceCollector{redactor: redactor}
	bus.OnAll(c.collect)
	return c
}

func (c *TraceCollector) collect(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case EventRunStart:
		c.summary.RunID = ev.RunID
		c.summary.Task = ev.Task
		if ev.Config != nil {
			c.summary.Config = *ev.Config
		}
		c.summary.StartedAtMS = ev.TimestampMS
	case EventPolicyDenied:
		c.summary.PolicyDenials++
	case EventToolResult:
		// The trace records outcome metadata only; payloads stay out of
		// persisted summaries no matter what redaction is configured.
		if ev.Result != nil {
			r := *ev.Result
			r.Payload = nil
			ev.Result = &r
		}
	case EventRunEnd:
		c.summary.Success = ev.Success
		c.summary.StopReason = ev.StopReason
		c.summary.Response = ev.Response
		c.summary.EndedAtMS = ev.TimestampMS
		c.summary.WallTimeMS = ev.DurationMS
	}

	if c.redactor != nil {
		ev = c.redactEvent(ev)
	}
	if ev.Kind == EventStepStart {
		c.summary.Steps = ev.Step
	}
	c.summary.Trace = append(c.summary.Trace, ev)
}

func (c *TraceCollector) redactEvent(ev Event) Event {
	if ev.Result != nil {
		r := *ev.Result
		r.Payload = c.redactor(r.Payload)
		if msg, ok := c.redactor(r.ErrorMessage).(string); ok {
			r.ErrorMessage = msg
		}
		ev.Result = &r
	}
	if ev.Response != "" {
		if s, ok := c.redactor(ev.Response).(string); ok {
			ev.Response = s
		}
	}
	return ev
}

// Finalize returns the completed summary with final counters applied.
func (c *TraceCollector) Finalize(steps, failures int) RunSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Steps = steps
	c.summary.Failures = failures
	out := c.summary
	out.Trace = make([]Event, len(c.summary.Trace))
	copy(out.Trace, c.summary.Trace)
	return out
}

// Events returns a snapshot of the trace collected so far.
func (c *TraceCollector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.summary.Trace))
	copy(out, c.summary.Trace)
	return out
}
