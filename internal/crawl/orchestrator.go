package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/webwraith/wraith/internal/browser"
	"github.com/webwraith/wraith/internal/observability"
)

// MaxBatchURLs caps one batch request.
const MaxBatchURLs = 10

// URLChecker validates a URL before any network touch. Implemented by the
// policy gate.
type URLChecker interface {
	CheckURL(raw string, allowedDomains []string, blockPrivate bool) error
}

// OrchestratorConfig tunes the crawl pipeline.
type OrchestratorConfig struct {
	MaxConcurrent      int
	PrecheckEnabled    bool
	GhostEnabled       bool
	BlockPrivateRanges bool
	PerHostRate        rate.Limit
	DefaultTimeoutMS   int64
}

// Orchestrator drives a crawl through its four stages: precheck, browser
// fetch, challenge resolution, and extraction, escalating to the vision
// fallback when extraction is blocked.
type Orchestrator struct {
	config    OrchestratorConfig
	precheck  *Prechecker
	pool      *browser.Pool
	solver    *browser.Solver
	converter Converter
	ghost     *Ghost
	cookies   *CookieStore
	gate      URLChecker
	log       *observability.Logger

	sem chan struct{}

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	activeCrawls atomic.Int64
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(
	config OrchestratorConfig,
	precheck *Prechecker,
	pool *browser.Pool,
	solver *browser.Solver,
	converter Converter,
	ghost *Ghost,
	cookies *CookieStore,
	gate URLChecker,
	log *observability.Logger,
) *Orchestrator {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 5
	}
	if config.PerHostRate <= 0 {
		config.PerHostRate = 1
	}
	if config.DefaultTimeoutMS <= 0 {
		config.DefaultTimeoutMS = 30_000
	}
	if converter == nil {
		converter = NewConverter()
	}
	if cookies == nil {
		cookies = NewCookieStore(0)
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &Orchestrator{
		config:    config,
		precheck:  precheck,
		pool:      pool,
		solver:    solver,
		converter: converter,
		ghost:     ghost,
		cookies:   cookies,
		gate:      gate,
		log:       log,
		sem:       make(chan struct{}, config.MaxConcurrent),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// ActiveCrawls reports the number of crawls currently in flight, feeding
// the mesh load snapshot.
func (o *Orchestrator) ActiveCrawls() int64 {
	return o.activeCrawls.Load()
}

// Crawl runs the full pipeline for one URL.
func (o *Orchestrator) Crawl(ctx context.Context, rawURL string, opts Options) Result {
	start := time.Now()
	result := Result{URL: rawURL, RenderMode: "browser", ContentQuality: QualityEmpty}

	if o.gate != nil {
		if err := o.gate.CheckURL(rawURL, opts.AllowedDomains, o.config.BlockPrivateRanges); err != nil {
			result.Error = fmt.Sprintf("policy: %v", err)
			result.Timings.TotalMS = time.Since(start).Milliseconds()
			return result
		}
	}

	if err := o.waitForHost(ctx, rawURL); err != nil {
		result.Error = fmt.Sprintf("rate limit: %v", err)
		result.Timings.TotalMS = time.Since(start).Milliseconds()
		return result
	}

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		result.Error = ctx.Err().Error()
		result.Timings.TotalMS = time.Since(start).Milliseconds()
		return result
	}

	o.activeCrawls.Add(1)
	defer o.activeCrawls.Add(-1)

	defer func() {
		observability.CrawlRequests.WithLabelValues(result.RenderMode, string(result.ContentQuality)).Inc()
	}()

	// Stage 1: plain HTTP, when enabled.
	if o.config.PrecheckEnabled && !opts.SkipPrecheck && o.precheck != nil {
		stageStart := time.Now()
		pre := o.precheck.Precheck(ctx, rawURL)
		result.Timings.PrecheckMS = time.Since(stageStart).Milliseconds()
		if pre.UsableContent != "" {
			return o.finishFromHTML(result, rawURL, pre.UsableContent, pre.StatusCode, "html_only", start)
		}
	}

	// Stage 2: browser fetch.
	stageStart := time.Now()
	slot, err := o.pool.Acquire(opts.SessionID)
	if err != nil {
		if errors.Is(err, browser.ErrPoolSaturated) {
			result.Error = "browser pool saturated"
		} else {
			result.Error = fmt.Sprintf("acquire browser: %v", err)
		}
		result.Timings.TotalMS = time.Since(start).Milliseconds()
		return result
	}
	released := false
	release := func() {
		if !released {
			released = true
			o.pool.Release(slot)
		}
	}
	defer release()

	clearanceApplied := o.applyClearance(slot, rawURL)

	status, navErr := browser.Navigate(slot, rawURL, browser.NavigateOptions{
		Wait:            browser.WaitStrategy(opts.WaitStrategy),
		Selector:        opts.WaitSelector,
		JSPayload:       opts.JSPayload,
		WaitAfterLoadMS: opts.WaitAfterLoadMS,
		TimeoutMS:       o.timeoutMS(opts),
	})
	result.Timings.BrowserMS = time.Since(stageStart).Milliseconds()
	observability.CrawlStageDuration.WithLabelValues("browser_fetch").Observe(time.Since(stageStart).Seconds())
	if navErr != nil {
		result.Error = fmt.Sprintf("navigate: %v", navErr)
		result.Timings.TotalMS = time.Since(start).Milliseconds()
		return result
	}
	result.StatusCode = status
	result.FinalURL = slot.NavigatedURL

	// Stage 3: challenge resolution on the live page.
	if o.solver != nil {
		stageStart = time.Now()
		det := o.solver.Detect(slot.Page)
		if det.Detected {
			result.ChallengeDetected = true
			// A cached clearance that still hit a challenge is dead.
			if clearanceApplied {
				o.invalidateClearance(rawURL)
			}
			res := o.solver.Solve(ctx, slot.Page, rawURL, det)
			result.ChallengeResolved = res.Resolved
			result.ChallengeMethod = res.Method
			result.ChallengeWaitMS = res.WaitTimeMS
			if res.Resolved {
				if err := browser.WaitDOMReady(slot); err != nil {
					o.log.Debug("post-challenge load wait failed", "url", rawURL, "error", err)
				}
				o.storeClearance(slot, rawURL)
			}
		}
		result.Timings.ChallengeMS = time.Since(stageStart).Milliseconds()
		observability.CrawlStageDuration.WithLabelValues("challenge").Observe(time.Since(stageStart).Seconds())
	}

	// Stage 4: extraction.
	stageStart = time.Now()
	html, err := browser.PageHTML(slot)
	if err != nil {
		result.Error = fmt.Sprintf("read page: %v", err)
		result.Timings.TotalMS = time.Since(start).Milliseconds()
		return result
	}
	result.Title = browser.PageTitle(slot)
	result.HTML = html

	markdown, title, convErr := o.converter.Convert(html, rawURL)
	if convErr != nil {
		o.log.Debug("markdown conversion failed", "url", rawURL, "error", convErr)
	}
	if result.Title == "" {
		result.Title = title
	}

	// The converter drops hidden elements, so flagged snippets never reach
	// the markdown; the result only records that they were present.
	if hidden := DetectHiddenInstructions(html); len(hidden) > 0 {
		o.log.Warn("hidden instruction text quarantined", "url", rawURL, "snippets", len(hidden))
		result.HiddenTextRemoved = true
		for _, snippet := range hidden {
			if strings.Contains(markdown, snippet) {
				markdown = strings.ReplaceAll(markdown, snippet, "")
			}
		}
	}

	quality, det := ClassifyContent(html, status, markdown)
	result.ContentQuality = quality
	result.Blocked = det.Blocked
	result.BlockReason = det.Reason
	result.CaptchaDetected = det.CaptchaDetected
	result.Timings.ExtractMS = time.Since(stageStart).Milliseconds()
	observability.CrawlStageDuration.WithLabelValues("extract").Observe(time.Since(stageStart).Seconds())

	if quality == QualitySufficient {
		result.Success = true
		result.Markdown = markdown
		result.Timings.TotalMS = time.Since(start).Milliseconds()
		return result
	}

	// Escalate to the vision fallback for blocked pages. The slot is
	// released first so the ghost can lease it on single-slot pools.
	if o.ghost != nil && !opts.DisableGhost && ShouldTriggerGhost(det, o.config.GhostEnabled, true) {
		release()
		stageStart = time.Now()
		ghostRes := o.ghost.Run(ctx, rawURL, opts.SessionID)
		result.Timings.GhostMS = time.Since(stageStart).Milliseconds()
		observability.CrawlStageDuration.WithLabelValues("ghost").Observe(time.Since(stageStart).Seconds())
		if ghostRes.Success {
			result.Success = !ghostRes.BlockedContent
			result.Markdown = ghostRes.Content
			result.RenderMode = ghostRes.RenderMode
			if ghostRes.BlockedContent {
				result.BlockReason = ghostRes.BlockReason
			} else {
				result.ContentQuality = QualitySufficient
				result.Blocked = false
			}
		} else if ghostRes.Error != "" {
			result.Error = ghostRes.Error
		}
		result.Timings.TotalMS = time.Since(start).Milliseconds()
		return result
	}

	result.Markdown = markdown
	result.Success = quality != QualityBlocked
	result.Timings.TotalMS = time.Since(start).Milliseconds()
	return result
}

// Batch crawls up to MaxBatchURLs concurrently. Each URL gets its own
// result; one saturated or failing crawl never cancels its siblings.
func (o *Orchestrator) Batch(ctx context.Context, urls []string, opts Options) []Result {
	if len(urls) > MaxBatchURLs {
		urls = urls[:MaxBatchURLs]
	}
	results := make([]Result, len(urls))
	var g errgroup.Group
	g.SetLimit(o.config.MaxConcurrent)
	for i, u := range urls {
		g.Go(func() error {
			results[i] = o.Crawl(ctx, u, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) finishFromHTML(result Result, rawURL, html string, status int, renderMode string, start time.Time) Result {
	markdown, title, err := o.converter.Convert(html, rawURL)
	if err != nil {
		result.Error = fmt.Sprintf("convert: %v", err)
		result.Timings.TotalMS = time.Since(start).Milliseconds()
		return result
	}
	quality, det := ClassifyContent(html, status, markdown)
	result.RenderMode = renderMode
	result.StatusCode = status
	result.FinalURL = rawURL
	result.HTML = html
	result.Markdown = markdown
	result.Title = title
	result.ContentQuality = quality
	result.Blocked = det.Blocked
	result.BlockReason = det.Reason
	result.CaptchaDetected = det.CaptchaDetected
	result.Success = quality != QualityBlocked
	result.Timings.TotalMS = time.Since(start).Milliseconds()
	return result
}

// waitForHost paces crawls per hostname.
func (o *Orchestrator) waitForHost(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("unparseable url %q", rawURL)
	}
	host := parsed.Hostname()

	o.limiterMu.Lock()
	limiter, ok := o.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(o.config.PerHostRate, 2)
		o.limiters[host] = limiter
	}
	o.limiterMu.Unlock()

	return limiter.Wait(ctx)
}

func (o *Orchestrator) timeoutMS(opts Options) int64 {
	if opts.TimeoutMS > 0 {
		return opts.TimeoutMS
	}
	return o.config.DefaultTimeoutMS
}

// clearanceFor looks up a cached clearance cookie for the URL's hostname.
func (o *Orchestrator) clearanceFor(rawURL string) (domain, value string, ok bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return "", "", false
	}
	value, _, ok = o.cookies.Get(parsed.Hostname())
	return parsed.Hostname(), value, ok
}

// applyClearance injects a cached cf_clearance cookie into the slot's
// context before navigation, so a previously solved challenge is reused
// instead of re-solved.
func (o *Orchestrator) applyClearance(slot *browser.Slot, rawURL string) bool {
	domain, value, ok := o.clearanceFor(rawURL)
	if !ok || slot.Context == nil {
		return false
	}
	err := slot.Context.AddCookies([]playwright.OptionalCookie{{
		Name:   "cf_clearance",
		Value:  value,
		Domain: playwright.String(domain),
		Path:   playwright.String("/"),
	}})
	if err != nil {
		o.log.Debug("clearance cookie injection failed", "url", rawURL, "error", err)
		return false
	}
	return true
}

func (o *Orchestrator) invalidateClearance(rawURL string) {
	if parsed, err := url.Parse(rawURL); err == nil {
		o.cookies.Invalidate(parsed.Hostname())
	}
}

// storeClearance caches the cf_clearance cookie minted by a resolved
// challenge for the slot's domain.
func (o *Orchestrator) storeClearance(slot *browser.Slot, rawURL string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	cookies, err := slot.Context.Cookies()
	if err != nil {
		return
	}
	for _, c := range cookies {
		if c.Name == "cf_clearance" {
			o.cookies.Put(parsed.Hostname(), c.Value, "")
			return
		}
	}
}

