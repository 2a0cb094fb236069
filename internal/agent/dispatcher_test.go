package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newTestDispatcher(t *testing.T, config DispatcherConfig, tools ...Tool) *Dispatcher {
	t.Helper()
	registry := NewRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}
	return NewDispatcher(registry, config, nil)
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newTestDispatcher(t, DispatcherConfig{})

	result := d.Dispatch(context.Background(), ToolCall{ID: "1", Name: "missing"})

	if result.OK {
		t.Errorf("OK = true, want false")
	}
	if result.ErrorCode != ErrCodeUnavailable {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, ErrCodeUnavailable)
	}
	if result.Retriable {
		t.Errorf("Retriable = true, want false")
	}
}

func TestDispatchValidationError(t *testing.T) {
	tool := &fakeTool{name: "strict", fn: func(context.Context, map[string]any) (*ToolOutput, error) {
		return &ToolOutput{Success: true}, nil
	}}
	registry := NewRegistry()
	strictSchema := &schemaTool{fakeTool: tool, schema: `{
		"type": "object",
		"properties": {"url": {"type": "string"}},
		"required": ["url"],
		"additionalProperties": false
	}`}
	if err := registry.Register(strictSchema); err != nil {
		t.Fatalf("register: %v", err)
	}
	d := NewDispatcher(registry, DispatcherConfig{}, nil)

	result := d.Dispatch(context.Background(), ToolCall{ID: "1", Name: "strict", Args: map[string]any{"bogus": 1}})

	if result.ErrorCode != ErrCodeValidation {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, ErrCodeValidation)
	}
}

// schemaTool overrides the permissive fake schema.
type schemaTool struct {
	*fakeTool
	schema string
}

func (t *schemaTool) Schema() json.RawMessage { return json.RawMessage(t.schema) }

func TestDispatchNeverRaises(t *testing.T) {
	tests := []struct {
		name     string
		tool     *fakeTool
		wantCode string
	}{
		{
			name: "panicking tool",
			tool: &fakeTool{name: "boom", fn: func(context.Context, map[string]any) (*ToolOutput, error) {
				panic("kaboom")
			}},
			wantCode: ErrCodeExecution,
		},
		{
			name: "tool returns error",
			tool: &fakeTool{name: "erring", fn: func(context.Context, map[string]any) (*ToolOutput, error) {
				return nil, errors.New("broke")
			}},
			wantCode: ErrCodeExecution,
		},
		{
			name: "tool reports failure",
			tool: &fakeTool{name: "failing", fn: func(context.Context, map[string]any) (*ToolOutput, error) {
				return &ToolOutput{Success: false, Error: "no dice"}, nil
			}},
			wantCode: ErrCodeExecution,
		},
		{
			name: "nil output",
			tool: &fakeTool{name: "empty", fn: func(context.Context, map[string]any) (*ToolOutput, error) {
				return nil, nil
			}},
			wantCode: ErrCodeExecution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t, DispatcherConfig{}, tt.tool)
			result := d.Dispatch(context.Background(), ToolCall{ID: "1", Name: tt.tool.name})
			if result.OK {
				t.Errorf("OK = true, want false")
			}
			if result.ErrorCode != tt.wantCode {
				t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, tt.wantCode)
			}
		})
	}
}

func TestDispatchTimeoutRetriesOnce(t *testing.T) {
	var attempts atomic.Int64
	slow := &fakeTool{name: "slow", fn: func(ctx context.Context, _ map[string]any) (*ToolOutput, error) {
		attempts.Add(1)
		select {
		case <-time.After(500 * time.Millisecond):
			return &ToolOutput{Success: true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	d := newTestDispatcher(t, DispatcherConfig{
		Timeout:      30 * time.Millisecond,
		MaxRetries:   1,
		RetryBackoff: 5 * time.Millisecond,
	}, slow)

	start := time.Now()
	result := d.Dispatch(context.Background(), ToolCall{ID: "1", Name: "slow"})
	elapsed := time.Since(start)

	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if result.ErrorCode != ErrCodeTimeout {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, ErrCodeTimeout)
	}
	if !result.Retriable {
		t.Errorf("Retriable = false, want true")
	}
	// Two timeout windows plus one backoff.
	if elapsed < 65*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 65ms", elapsed)
	}
}

func TestDispatchNonTimeoutNotRetried(t *testing.T) {
	var attempts atomic.Int64
	tool := &fakeTool{name: "failing", fn: func(context.Context, map[string]any) (*ToolOutput, error) {
		attempts.Add(1)
		return &ToolOutput{Success: false, Error: "permanent"}, nil
	}}
	d := newTestDispatcher(t, DispatcherConfig{MaxRetries: 1}, tool)

	d.Dispatch(context.Background(), ToolCall{ID: "1", Name: "failing"})

	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestDispatchManyPreservesOrder(t *testing.T) {
	echo := &fakeTool{name: "echo", fn: func(_ context.Context, args map[string]any) (*ToolOutput, error) {
		return &ToolOutput{Success: true, Data: args["n"]}, nil
	}}
	d := newTestDispatcher(t, DispatcherConfig{MaxConcurrency: 3}, echo)

	calls := make([]ToolCall, 6)
	for i := range calls {
		calls[i] = ToolCall{ID: string(rune('a' + i)), Name: "echo", Args: map[string]any{"n": i}}
	}
	results := d.DispatchMany(context.Background(), calls)

	if len(results) != len(calls) {
		t.Fatalf("results = %d, want %d", len(results), len(calls))
	}
	for i, res := range results {
		if res.ToolCallID != calls[i].ID {
			t.Errorf("result %d ToolCallID = %q, want %q", i, res.ToolCallID, calls[i].ID)
		}
		if res.Payload != i {
			t.Errorf("result %d payload = %v, want %d", i, res.Payload, i)
		}
	}
}
