package tools

import (
	"context"
	"encoding/json"

	"github.com/webwraith/wraith/internal/agent"
	"github.com/webwraith/wraith/internal/crawl"
)

// GhostRunner is the slice of the ghost pipeline the tool needs.
type GhostRunner interface {
	Run(ctx context.Context, url, sessionID string) crawl.GhostResult
}

// GhostTool forces the screenshot-and-vision extraction path, for pages
// the LLM already knows resist DOM extraction.
type GhostTool struct {
	ghost GhostRunner
}

// NewGhostTool wraps the ghost pipeline.
func NewGhostTool(ghost GhostRunner) *GhostTool {
	return &GhostTool{ghost: ghost}
}

func (t *GhostTool) Name() string { return "ghost_extract" }

func (t *GhostTool) Description() string {
	return "Extract a page's content from a screenshot using vision. Slower and more expensive than crawl; use only when crawl returns blocked content."
}

func (t *GhostTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to extract"},
			"session_id": {"type": "string", "description": "Reuse the browser session with this id"}
		},
		"required": ["url"],
		"additionalProperties": false
	}`)
}

func (t *GhostTool) Execute(ctx context.Context, args map[string]any) (*agent.ToolOutput, error) {
	url, _ := args["url"].(string)
	sessionID, _ := args["session_id"].(string)

	result := t.ghost.Run(ctx, url, sessionID)
	if !result.Success {
		return &agent.ToolOutput{Success: false, Error: result.Error}, nil
	}
	payload := map[string]any{
		"url":         result.URL,
		"content":     result.Content,
		"render_mode": result.RenderMode,
		"provider":    result.Provider,
	}
	if result.BlockedContent {
		payload["blocked_content"] = true
		payload["block_reason"] = result.BlockReason
	}
	return &agent.ToolOutput{Success: true, Data: payload}, nil
}

// RegisterAll puts the full tool set into a registry.
func RegisterAll(registry *agent.Registry, crawler Crawler, ghost GhostRunner) error {
	set := []agent.Tool{
		NewCrawlTool(crawler),
		NewMarkdownTool(crawler),
		NewBatchCrawlTool(crawler),
	}
	if ghost != nil {
		set = append(set, NewGhostTool(ghost))
	}
	for _, tool := range set {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
