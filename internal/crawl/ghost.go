package crawl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/webwraith/wraith/internal/agent"
	"github.com/webwraith/wraith/internal/browser"
	"github.com/webwraith/wraith/internal/observability"
)

// GhostExtractionPrompt instructs the vision model when DOM extraction is
// off the table.
const GhostExtractionPrompt = `Transcribe all visible text in this webpage screenshot faithfully, preserving headings, paragraphs, and list structure as markdown. Do not summarize or paraphrase. If the image shows a verification or challenge page instead of content, describe what it shows and begin your answer with the word BLOCKED.`

// ghostBlockedIndicators in the vision output mean the screenshot itself was
// a challenge page.
var ghostBlockedIndicators = []string{
	"anti-bot", "captcha", "challenge", "verify you are human",
	"access denied", "please complete the security check", "blocked",
}

const ghostDOMMinChars = 200

// ShouldTriggerGhost decides whether a blocked crawl escalates to the
// vision fallback. Plain authorization failures are not anti-bot walls, so
// low-confidence ACCESS_DENIED stays out.
func ShouldTriggerGhost(det BlockDetection, ghostEnabled, autoTrigger bool) bool {
	if !ghostEnabled || !autoTrigger {
		return false
	}
	if !det.Blocked {
		return false
	}
	if det.Signal == SignalAccessDenied && det.Confidence < 0.85 {
		return false
	}
	return true
}

// Ghost runs the screenshot-and-vision extraction pipeline.
type Ghost struct {
	pool      *browser.Pool
	provider  agent.Provider
	converter Converter
	log       *observability.Logger
}

// NewGhost creates the pipeline.
func NewGhost(pool *browser.Pool, provider agent.Provider, converter Converter, log *observability.Logger) *Ghost {
	if log == nil {
		log = observability.NopLogger()
	}
	if converter == nil {
		converter = NewConverter()
	}
	return &Ghost{pool: pool, provider: provider, converter: converter, log: log}
}

// Run captures the page and extracts its content, preferring a DOM markdown
// snapshot when one survives the block-signal check, falling back to vision.
func (g *Ghost) Run(ctx context.Context, url, sessionID string) GhostResult {
	start := time.Now()
	result := GhostResult{URL: url, RenderMode: "ghost"}

	slot, err := g.pool.Acquire(sessionID)
	if err != nil {
		result.Error = fmt.Sprintf("acquire browser: %v", err)
		observability.GhostRuns.WithLabelValues("error").Inc()
		return result
	}
	defer g.pool.Release(slot)

	captureStart := time.Now()
	if _, err := browser.Navigate(slot, url, browser.NavigateOptions{
		Wait:            browser.WaitNetworkIdle,
		WaitAfterLoadMS: 2000,
	}); err != nil {
		result.Error = fmt.Sprintf("navigate: %v", err)
		result.TotalMS = time.Since(start).Milliseconds()
		observability.GhostRuns.WithLabelValues("error").Inc()
		return result
	}

	// Viewport screenshot only; full-page captures of long pages arrive as
	// segments and the first segment is what the vision model reads anyway.
	image, err := browser.Screenshot(slot, false, 0)
	if err != nil {
		result.Error = fmt.Sprintf("screenshot: %v", err)
		result.TotalMS = time.Since(start).Milliseconds()
		observability.GhostRuns.WithLabelValues("error").Inc()
		return result
	}
	result.CaptureMS = time.Since(captureStart).Milliseconds()

	// Prefer the DOM snapshot when it carries real content past the block
	// phrases; a vision round-trip is slower and costs tokens.
	if html, err := browser.PageHTML(slot); err == nil && html != "" {
		if markdown, _, convErr := g.converter.Convert(html, url); convErr == nil {
			if NonBlockedChars(markdown) > ghostDOMMinChars {
				result.Success = true
				result.Content = markdown
				result.RenderMode = "ghost_dom"
				result.Provider = "dom_markdown"
				result.TotalMS = time.Since(start).Milliseconds()
				observability.GhostRuns.WithLabelValues("dom").Inc()
				return result
			}
		}
	}

	extractStart := time.Now()
	text, err := g.provider.Vision(ctx, image, GhostExtractionPrompt, "high")
	result.ExtractionMS = time.Since(extractStart).Milliseconds()
	result.TotalMS = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = fmt.Sprintf("vision extract: %v", err)
		observability.GhostRuns.WithLabelValues("error").Inc()
		return result
	}

	result.Success = true
	result.Content = text
	result.Provider = g.provider.Name()

	lower := strings.ToLower(text)
	for _, indicator := range ghostBlockedIndicators {
		if strings.Contains(lower, indicator) {
			result.BlockedContent = true
			result.BlockReason = fmt.Sprintf("vision output mentions %q", indicator)
			break
		}
	}
	if result.BlockedContent {
		observability.GhostRuns.WithLabelValues("blocked").Inc()
	} else {
		observability.GhostRuns.WithLabelValues("ok").Inc()
	}
	return result
}
