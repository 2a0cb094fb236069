// Package crawl implements the four-stage crawl pipeline: HTTP precheck,
// browser fetch, challenge resolution, and content extraction, with the
// screenshot-and-vision fallback for pages that block DOM extraction.
package crawl

// ContentQuality classifies what extraction produced.
type ContentQuality string

const (
	QualityBlocked    ContentQuality = "blocked"
	QualityEmpty      ContentQuality = "empty"
	QualityMinimal    ContentQuality = "minimal"
	QualitySufficient ContentQuality = "sufficient"
)

// BlockSignal names the anti-bot pattern that matched.
type BlockSignal string

const (
	SignalCloudflare    BlockSignal = "CLOUDFLARE"
	SignalCaptcha       BlockSignal = "CAPTCHA"
	SignalSessionVerify BlockSignal = "SESSION_VERIFY"
	SignalAccessDenied  BlockSignal = "ACCESS_DENIED"
	SignalBotChallenge  BlockSignal = "BOT_CHALLENGE"
	SignalEmptyShell    BlockSignal = "EMPTY_SHELL"
	SignalHTTP403       BlockSignal = "HTTP_403"
	SignalHTTP429       BlockSignal = "HTTP_429"
	SignalHTTP503       BlockSignal = "HTTP_503"
)

// BlockDetection is the block-signal detector's verdict on a page.
type BlockDetection struct {
	Blocked         bool        `json:"blocked"`
	Signal          BlockSignal `json:"signal,omitempty"`
	Reason          string      `json:"reason,omitempty"`
	CaptchaDetected bool        `json:"captcha_detected"`
	Confidence      float64     `json:"confidence"`
}

// PrecheckResult is the plain-HTTP probe outcome.
type PrecheckResult struct {
	Success       bool              `json:"success"`
	NeedsBrowser  bool              `json:"needs_browser"`
	StatusCode    int               `json:"status_code,omitempty"`
	Content       string            `json:"content,omitempty"`
	ContentLength int               `json:"content_length"`
	Headers       map[string]string `json:"headers,omitempty"`
	UsableContent string            `json:"usable_content,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Options control one crawl.
type Options struct {
	WaitStrategy    string   `json:"wait_strategy,omitempty"` // domcontentloaded | networkidle | selector
	WaitSelector    string   `json:"wait_selector,omitempty"`
	JSPayload       string   `json:"js_payload,omitempty"`
	WaitAfterLoadMS int64    `json:"wait_after_load_ms,omitempty"`
	TimeoutMS       int64    `json:"timeout_ms,omitempty"`
	SessionID       string   `json:"session_id,omitempty"`
	AllowedDomains  []string `json:"allowed_domains,omitempty"`
	SkipPrecheck    bool     `json:"skip_precheck,omitempty"`
	DisableGhost    bool     `json:"disable_ghost,omitempty"`
}

// Timings are per-stage durations in milliseconds.
type Timings struct {
	PrecheckMS  int64 `json:"precheck_ms,omitempty"`
	BrowserMS   int64 `json:"browser_ms,omitempty"`
	ChallengeMS int64 `json:"challenge_ms,omitempty"`
	ExtractMS   int64 `json:"extract_ms,omitempty"`
	GhostMS     int64 `json:"ghost_ms,omitempty"`
	TotalMS     int64 `json:"total_ms"`
}

// Result is the normalized crawl outcome.
type Result struct {
	Success           bool           `json:"success"`
	URL               string         `json:"url"`
	FinalURL          string         `json:"final_url,omitempty"`
	HTML              string         `json:"html,omitempty"`
	Markdown          string         `json:"markdown,omitempty"`
	Title             string         `json:"title,omitempty"`
	StatusCode        int            `json:"status_code,omitempty"`
	ContentQuality    ContentQuality `json:"content_quality"`
	Blocked           bool           `json:"blocked"`
	BlockReason       string         `json:"block_reason,omitempty"`
	CaptchaDetected   bool           `json:"captcha_detected"`
	RenderMode        string         `json:"render_mode"` // http_only | html_only | browser | ghost | ghost_dom
	ChallengeDetected bool           `json:"challenge_detected"`
	ChallengeResolved bool           `json:"challenge_resolved"`
	ChallengeMethod   string         `json:"challenge_method,omitempty"`
	ChallengeWaitMS   int64          `json:"challenge_wait_ms,omitempty"`
	HiddenTextRemoved bool           `json:"hidden_text_removed,omitempty"`
	Timings           Timings        `json:"timings_ms"`
	Error             string         `json:"error,omitempty"`
}

// GhostResult is the screenshot-and-vision extraction outcome.
type GhostResult struct {
	Success        bool        `json:"success"`
	URL            string      `json:"url"`
	Content        string      `json:"content,omitempty"`
	RenderMode     string      `json:"render_mode"` // ghost | ghost_dom
	BlockSignal    BlockSignal `json:"block_signal,omitempty"`
	BlockReason    string      `json:"block_reason,omitempty"`
	CaptureMS      int64       `json:"capture_ms"`
	ExtractionMS   int64       `json:"extraction_ms"`
	TotalMS        int64       `json:"total_ms"`
	Provider       string      `json:"provider,omitempty"`
	BlockedContent bool        `json:"blocked_content"`
	Error          string      `json:"error,omitempty"`
}
