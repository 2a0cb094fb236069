// Package tools exposes the crawl pipeline to the agent loop as
// schema-validated tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/webwraith/wraith/internal/agent"
	"github.com/webwraith/wraith/internal/crawl"
)

// Crawler is the slice of the orchestrator the tools need.
type Crawler interface {
	Crawl(ctx context.Context, url string, opts crawl.Options) crawl.Result
	Batch(ctx context.Context, urls []string, opts crawl.Options) []crawl.Result
}

// CrawlTool fetches one page through the escalating pipeline and returns
// its content as markdown plus crawl telemetry.
type CrawlTool struct {
	crawler Crawler
}

// NewCrawlTool wraps the orchestrator.
func NewCrawlTool(crawler Crawler) *CrawlTool {
	return &CrawlTool{crawler: crawler}
}

func (t *CrawlTool) Name() string { return "crawl" }

func (t *CrawlTool) Description() string {
	return "Fetch a web page and return its content as markdown. Handles JavaScript rendering and anti-bot challenges automatically."
}

func (t *CrawlTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to fetch"},
			"wait_strategy": {"type": "string", "enum": ["domcontentloaded", "networkidle", "selector"], "description": "How long to wait for the page to settle"},
			"wait_selector": {"type": "string", "description": "CSS selector to wait for when wait_strategy is selector"},
			"session_id": {"type": "string", "description": "Reuse the browser session with this id"}
		},
		"required": ["url"],
		"additionalProperties": false
	}`)
}

func (t *CrawlTool) Execute(ctx context.Context, args map[string]any) (*agent.ToolOutput, error) {
	url, _ := args["url"].(string)
	opts := crawl.Options{}
	if v, ok := args["wait_strategy"].(string); ok {
		opts.WaitStrategy = v
	}
	if v, ok := args["wait_selector"].(string); ok {
		opts.WaitSelector = v
	}
	if v, ok := args["session_id"].(string); ok {
		opts.SessionID = v
	}

	result := t.crawler.Crawl(ctx, url, opts)
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = fmt.Sprintf("crawl failed: quality=%s block=%s", result.ContentQuality, result.BlockReason)
		}
		return &agent.ToolOutput{Success: false, Error: msg}, nil
	}
	return &agent.ToolOutput{Success: true, Data: crawlPayload(result)}, nil
}

// MarkdownTool is the lightweight variant: markdown only, no telemetry.
type MarkdownTool struct {
	crawler Crawler
}

// NewMarkdownTool wraps the orchestrator.
func NewMarkdownTool(crawler Crawler) *MarkdownTool {
	return &MarkdownTool{crawler: crawler}
}

func (t *MarkdownTool) Name() string { return "markdown" }

func (t *MarkdownTool) Description() string {
	return "Fetch a web page and return only its readable content as markdown."
}

func (t *MarkdownTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to fetch"}
		},
		"required": ["url"],
		"additionalProperties": false
	}`)
}

func (t *MarkdownTool) Execute(ctx context.Context, args map[string]any) (*agent.ToolOutput, error) {
	url, _ := args["url"].(string)
	result := t.crawler.Crawl(ctx, url, crawl.Options{})
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = fmt.Sprintf("crawl failed: quality=%s block=%s", result.ContentQuality, result.BlockReason)
		}
		return &agent.ToolOutput{Success: false, Error: msg}, nil
	}
	return &agent.ToolOutput{Success: true, Data: result.Markdown}, nil
}

// BatchCrawlTool fetches several pages concurrently.
type BatchCrawlTool struct {
	crawler Crawler
}

// NewBatchCrawlTool wraps the orchestrator.
func NewBatchCrawlTool(crawler Crawler) *BatchCrawlTool {
	return &BatchCrawlTool{crawler: crawler}
}

func (t *BatchCrawlTool) Name() string { return "batch_crawl" }

func (t *BatchCrawlTool) Description() string {
	return "Fetch up to 10 web pages concurrently and return each page's markdown."
}

func (t *BatchCrawlTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"urls": {
				"type": "array",
				"items": {"type": "string"},
				"minItems": 1,
				"maxItems": 10,
				"description": "The URLs to fetch"
			}
		},
		"required": ["urls"],
		"additionalProperties": false
	}`)
}

func (t *BatchCrawlTool) Execute(ctx context.Context, args map[string]any) (*agent.ToolOutput, error) {
	raw, _ := args["urls"].([]any)
	urls := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			urls = append(urls, s)
		}
	}
	if len(urls) == 0 {
		return &agent.ToolOutput{Success: false, Error: "no urls given"}, nil
	}

	results := t.crawler.Batch(ctx, urls, crawl.Options{})
	payload := make([]map[string]any, len(results))
	for i, r := range results {
		payload[i] = crawlPayload(r)
	}
	return &agent.ToolOutput{Success: true, Data: payload}, nil
}

func crawlPayload(r crawl.Result) map[string]any {
	out := map[string]any{
		"url":             r.URL,
		"success":         r.Success,
		"title":           r.Title,
		"markdown":        r.Markdown,
		"status_code":     r.StatusCode,
		"content_quality": string(r.ContentQuality),
		"render_mode":     r.RenderMode,
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.BlockReason != "" {
		out["block_reason"] = r.BlockReason
	}
	if r.ChallengeDetected {
		out["challenge_detected"] = true
		out["challenge_resolved"] = r.ChallengeResolved
	}
	return out
}
