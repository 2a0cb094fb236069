package crawl

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/webwraith/wraith/internal/observability"
)

// precheckBlockPhrases in the first 5 KB of a response mean the page wants a
// real browser.
var precheckBlockPhrases = []string{
	"cf-browser-verification",
	"cf-challenge-running",
	"challenge-platform",
	"_cf_chl",
	"managed-challenge",
	"<noscript>",
	"enable javascript",
	"browser check",
	"ddos-guard",
	"datadome",
}

const (
	precheckMinContent = 1024
	precheckScanBytes  = 5 * 1024
	precheckMaxBody    = 2 << 20 // 2 MiB cap on buffered body
)

// Prechecker probes a URL over plain HTTP before any browser is spent on it.
// One shared client with a tuned transport serves all prechecks.
type Prechecker struct {
	client *http.Client
	log    *observability.Logger
}

// NewPrechecker creates a prechecker with the given total timeout.
func NewPrechecker(timeout time.Duration, log *observability.Logger) *Prechecker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = observability.NopLogger()
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &Prechecker{
		client: &http.Client{Timeout: timeout, Transport: transport},
		log:    log,
	}
}

// Precheck issues one GET with browser-grade headers and classifies whether
// the page needs a real browser. Network failures fail safe to the browser
// path.
func (p *Prechecker) Precheck(ctx context.Context, url string) PrecheckResult {
	start := time.Now()
	defer func() {
		observability.CrawlStageDuration.WithLabelValues("precheck").Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PrecheckResult{NeedsBrowser: true, Error: err.Error()}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://www.google.com/")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("precheck network error", "url", url, "error", err)
		return PrecheckResult{NeedsBrowser: true, Error: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, precheckMaxBody))
	if err != nil {
		return PrecheckResult{
			NeedsBrowser: true,
			StatusCode:   resp.StatusCode,
			Error:        err.Error(),
		}
	}

	content := string(body)
	result := PrecheckResult{
		Success:       true,
		StatusCode:    resp.StatusCode,
		Content:       content,
		ContentLength: len(content),
		Headers:       flattenHeaders(resp.Header),
	}

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable:
		result.NeedsBrowser = true
	case result.ContentLength < precheckMinContent:
		result.NeedsBrowser = true
	case containsBlockPhrase(content):
		result.NeedsBrowser = true
	}

	if !result.NeedsBrowser && result.ContentLength > precheckMinContent {
		result.UsableContent = content
	}
	return result
}

func containsBlockPhrase(content string) bool {
	scan := content
	if len(scan) > precheckScanBytes {
		scan = scan[:precheckScanBytes]
	}
	scan = strings.ToLower(scan)
	for _, phrase := range precheckBlockPhrases {
		if strings.Contains(scan, phrase) {
			return true
		}
	}
	return false
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}
