package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is an executable capability the agent can invoke.
//
// Implementations declare their parameters as a JSON schema; the dispatcher
// validates arguments against it before execution.
type Tool interface {
	// Name returns the tool name used for LLM function calling.
	Name() string

	// Description helps the LLM decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool. Failures the LLM should observe are reported
	// through ToolOutput, not the error return.
	Execute(ctx context.Context, args map[string]any) (*ToolOutput, error)
}

// ErrToolNotFound is returned by Registry.Get for unknown names.
var ErrToolNotFound = errors.New("tool not found")

// Registry maps tool names to implementations with their compiled schemas.
// Registration happens once at startup; lookups are read-only after that.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, replacing any previous tool of the same name.
// An invalid schema is an error: tools with broken schemas would fail every
// dispatch anyway.
func (r *Registry) Register(tool Tool) error {
	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("inline://%s.json", tool.Name())
	if err := compiler.AddResource(resource, bytesReader(tool.Schema())); err != nil {
		return fmt.Errorf("tool %s: add schema: %w", tool.Name(), err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", tool.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = schema
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// Validate checks args against the tool's compiled schema.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	// The validator wants plain JSON types.
	normalized, err := normalizeJSON(args)
	if err != nil {
		return err
	}
	return schema.Validate(normalized)
}

// Schemas returns all registered tool schemas, sorted by name for stable
// provider payloads.
func (r *Registry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize args: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize args: %w", err)
	}
	return out, nil
}
