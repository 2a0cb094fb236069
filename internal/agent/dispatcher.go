package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/webwraith/wraith/internal/observability"
)

// ToolDispatcher executes tool calls and reports coded results. The engine
// depends on this interface so a mesh-aware dispatcher can forward calls to
// peers while keeping the local one as fallback.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call ToolCall) ToolResult
	DispatchMany(ctx context.Context, calls []ToolCall) []ToolResult
}

// DispatcherConfig tunes execution limits. The zero value is replaced by
// defaults in NewDispatcher.
type DispatcherConfig struct {
	// Timeout bounds a single tool execution attempt.
	Timeout time.Duration

	// MaxRetries is the number of re-attempts after a timeout-class failure.
	MaxRetries int

	// RetryBackoff is the pause before a retry attempt.
	RetryBackoff time.Duration

	// MaxConcurrency limits parallel executions in DispatchMany.
	MaxConcurrency int
}

// DefaultDispatcherConfig returns the production execution limits.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Timeout:        30 * time.Second,
		MaxRetries:     1,
		RetryBackoff:   250 * time.Millisecond,
		MaxConcurrency: 5,
	}
}

// Dispatcher validates and executes tool calls. Every outcome, including
// panics and timeouts, is normalized into a ToolResult with a coded error;
// Dispatch has no error return on purpose.
type Dispatcher struct {
	registry *Registry
	config   DispatcherConfig
	log      *observability.Logger
	sem      chan struct{}
}

// NewDispatcher creates a dispatcher over the registry.
func NewDispatcher(registry *Registry, config DispatcherConfig, log *observability.Logger) *Dispatcher {
	if config.Timeout <= 0 {
		config.Timeout = DefaultDispatcherConfig().Timeout
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultDispatcherConfig().RetryBackoff
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultDispatcherConfig().MaxConcurrency
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &Dispatcher{
		registry: registry,
		config:   config,
		log:      log,
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
}

// Dispatch runs one tool call through lookup, schema validation, and bounded
// execution. Timeout-class failures are retried up to MaxRetries times with a
// fixed backoff; all other failures are final.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) ToolResult {
	start := time.Now()

	tool, err := d.registry.Get(call.Name)
	if err != nil {
		observability.ToolExecutions.WithLabelValues(call.Name, "unavailable").Inc()
		return d.failure(call, start, ErrCodeUnavailable, fmt.Sprintf("unknown tool %q", call.Name), false)
	}

	if err := d.registry.Validate(call.Name, call.Args); err != nil {
		observability.ToolExecutions.WithLabelValues(call.Name, "invalid").Inc()
		return d.failure(call, start, ErrCodeValidation, err.Error(), false)
	}

	var result ToolResult
	for attempt := 0; ; attempt++ {
		result = d.executeOnce(ctx, tool, call)
		if result.OK || result.ErrorCode != ErrCodeTimeout || attempt >= d.config.MaxRetries {
			break
		}
		observability.ToolRetries.WithLabelValues(call.Name).Inc()
		d.log.Warn("tool timed out, retrying",
			"tool", call.Name, "attempt", attempt+1, "backoff", d.config.RetryBackoff)
		select {
		case <-time.After(d.config.RetryBackoff):
		case <-ctx.Done():
			result.ErrorMessage = "canceled during retry backoff: " + result.ErrorMessage
			result.DurationMS = time.Since(start).Milliseconds()
			return result
		}
	}

	result.DurationMS = time.Since(start).Milliseconds()
	status := "ok"
	if !result.OK {
		status = result.ErrorCode
	}
	observability.ToolExecutions.WithLabelValues(call.Name, status).Inc()
	observability.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	return result
}

// DispatchMany executes calls concurrently under the semaphore and returns
// results in call order regardless of completion order.
func (d *Dispatcher) DispatchMany(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			d.sem <- struct{}{}
			defer func() { <-d.sem }()
			results[i] = d.Dispatch(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// executeOnce runs a single attempt in its own goroutine so a hung tool
// cannot wedge the dispatcher past the deadline. Panics inside the tool are
// recovered and reported as execution errors.
func (d *Dispatcher) executeOnce(ctx context.Context, tool Tool, call ToolCall) ToolResult {
	execCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	type outcome struct {
		output *ToolOutput
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("tool panicked",
					"tool", call.Name, "panic", r, "stack", string(debug.Stack()))
				ch <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		output, err := tool.Execute(execCtx, call.Args)
		ch <- outcome{output: output, err: err}
	}()

	select {
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			observability.ToolTimeouts.WithLabelValues(call.Name).Inc()
			return ToolResult{
				ToolCallID:   call.ID,
				ErrorCode:    ErrCodeTimeout,
				ErrorMessage: fmt.Sprintf("tool %q exceeded %s", call.Name, d.config.Timeout),
				Retriable:    true,
			}
		}
		return ToolResult{
			ToolCallID:   call.ID,
			ErrorCode:    ErrCodeExecution,
			ErrorMessage: "canceled: " + execCtx.Err().Error(),
		}
	case out := <-ch:
		if out.err != nil {
			return ToolResult{
				ToolCallID:   call.ID,
				ErrorCode:    ErrCodeExecution,
				ErrorMessage: out.err.Error(),
			}
		}
		if out.output == nil {
			return ToolResult{
				ToolCallID:   call.ID,
				ErrorCode:    ErrCodeExecution,
				ErrorMessage: "tool returned no output",
			}
		}
		if !out.output.Success {
			return ToolResult{
				ToolCallID:   call.ID,
				ErrorCode:    ErrCodeExecution,
				ErrorMessage: out.output.Error,
			}
		}
		return ToolResult{
			ToolCallID: call.ID,
			OK:         true,
			Payload:    out.output.Data,
		}
	}
}

func (d *Dispatcher) failure(call ToolCall, start time.Time, code, msg string, retriable bool) ToolResult {
	return ToolResult{
		ToolCallID:   call.ID,
		ErrorCode:    code,
		ErrorMessage: msg,
		Retriable:    retriable,
		DurationMS:   time.Since(start).Milliseconds(),
	}
}
