package crawl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/webwraith/wraith/internal/browser"
)

// denyAllGate refuses every URL.
type denyAllGate struct{}

func (denyAllGate) CheckURL(raw string, _ []string, _ bool) error {
	return errors.New("domain not allowed")
}

// allowAllGate passes everything through.
type allowAllGate struct{}

func (allowAllGate) CheckURL(string, []string, bool) error { return nil }

func newHTTPOnlyOrchestrator(gate URLChecker) *Orchestrator {
	// The pool is never started; any crawl that reaches stage two sees a
	// saturated pool.
	pool := browser.NewPool(browser.PoolConfig{Size: 1}, nil)
	return NewOrchestrator(OrchestratorConfig{
		MaxConcurrent:   2,
		PrecheckEnabled: true,
		PerHostRate:     1000,
	}, NewPrechecker(5*time.Second, nil), pool, nil, nil, nil, nil, gate, nil)
}

func TestCrawlPolicyDenied(t *testing.T) {
	o := newHTTPOnlyOrchestrator(denyAllGate{})

	result := o.Crawl(context.Background(), "https://example.com/", Options{})

	if result.Success {
		t.Errorf("Success = true, want policy denial")
	}
	if !strings.Contains(result.Error, "policy") {
		t.Errorf("Error = %q, want policy denial", result.Error)
	}
	if o.ActiveCrawls() != 0 {
		t.Errorf("ActiveCrawls = %d, want 0 after return", o.ActiveCrawls())
	}
}

func TestCrawlPrecheckServesStaticPage(t *testing.T) {
	page := "<html><head><title>Static</title></head><body>" +
		strings.Repeat("<p>server rendered words that make up a full article body</p>", 80) +
		"</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	o := newHTTPOnlyOrchestrator(allowAllGate{})
	result := o.Crawl(context.Background(), srv.URL, Options{})

	if !result.Success {
		t.Fatalf("Success = false, error %q", result.Error)
	}
	if result.RenderMode != "html_only" {
		t.Errorf("RenderMode = %q, want html_only", result.RenderMode)
	}
	if result.ContentQuality != QualitySufficient {
		t.Errorf("ContentQuality = %q, want sufficient", result.ContentQuality)
	}
	if result.Markdown == "" {
		t.Errorf("Markdown empty")
	}
	if result.Timings.PrecheckMS < 0 || result.Timings.TotalMS <= 0 {
		t.Errorf("timings not recorded: %+v", result.Timings)
	}
}

func TestCrawlSkipPrecheckHitsPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(strings.Repeat("content ", 1000)))
	}))
	defer srv.Close()

	o := newHTTPOnlyOrchestrator(allowAllGate{})
	result := o.Crawl(context.Background(), srv.URL, Options{SkipPrecheck: true})

	if result.Success {
		t.Errorf("Success = true, want pool saturation without a started pool")
	}
	if result.Error != "browser pool saturated" {
		t.Errorf("Error = %q, want saturation", result.Error)
	}
}

func TestBatchTruncatesAndPreservesOrder(t *testing.T) {
	o := newHTTPOnlyOrchestrator(denyAllGate{})

	urls := make([]string, MaxBatchURLs+3)
	for i := range urls {
		urls[i] = "https://example.com/page"
	}
	results := o.Batch(context.Background(), urls, Options{})

	if len(results) != MaxBatchURLs {
		t.Errorf("results = %d, want truncated to %d", len(results), MaxBatchURLs)
	}
	for i, r := range results {
		if r.URL != "https://example.com/page" {
			t.Errorf("result %d URL = %q", i, r.URL)
		}
		if r.Success {
			t.Errorf("result %d succeeded under a deny-all gate", i)
		}
	}
}

func TestCrawlRejectsUnparseableURL(t *testing.T) {
	o := newHTTPOnlyOrchestrator(allowAllGate{})
	result := o.Crawl(context.Background(), "http://bad url with spaces", Options{})
	if result.Success {
		t.Errorf("Success = true, want rate-limit stage rejection")
	}
	if result.Error == "" {
		t.Errorf("Error empty, want unparseable url")
	}
}

func TestClearanceCookieLifecycle(t *testing.T) {
	o := newHTTPOnlyOrchestrator(allowAllGate{})
	o.cookies.Put("example.com", "clearance-abc", "")

	domain, value, ok := o.clearanceFor("https://example.com/page")
	if !ok || domain != "example.com" || value != "clearance-abc" {
		t.Errorf("clearanceFor = (%q, %q, %v), want cached cookie", domain, value, ok)
	}
	if _, _, ok := o.clearanceFor("https://other.com/"); ok {
		t.Errorf("clearanceFor(other.com) = hit, want miss")
	}
	if _, _, ok := o.clearanceFor("http://bad url with spaces"); ok {
		t.Errorf("clearanceFor(unparseable) = hit, want miss")
	}

	// A slot without a browser context cannot take the cookie.
	if o.applyClearance(&browser.Slot{}, "https://example.com/page") {
		t.Errorf("applyClearance without a context = true, want false")
	}

	// A challenge seen despite the cookie drops it.
	o.invalidateClearance("https://example.com/page")
	if _, _, ok := o.clearanceFor("https://example.com/page"); ok {
		t.Errorf("clearance survived invalidation")
	}
}

func TestPerHostLimiterIsPerHost(t *testing.T) {
	o := newHTTPOnlyOrchestrator(allowAllGate{})
	ctx := context.Background()

	if err := o.waitForHost(ctx, "https://a.example.com/1"); err != nil {
		t.Fatalf("waitForHost: %v", err)
	}
	if err := o.waitForHost(ctx, "https://b.example.com/1"); err != nil {
		t.Fatalf("waitForHost: %v", err)
	}
	o.limiterMu.Lock()
	defer o.limiterMu.Unlock()
	if len(o.limiters) != 2 {
		t.Errorf("limiters = %d, want one per host", len(o.limiters))
	}
}
