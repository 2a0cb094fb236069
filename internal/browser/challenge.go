package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/webwraith/wraith/internal/observability"
)

// ChallengeType tags the kind of interstitial detected.
type ChallengeType string

const (
	ChallengeTurnstile    ChallengeType = "TURNSTILE"
	ChallengeJS           ChallengeType = "JS_CHALLENGE"
	ChallengeBrowserCheck ChallengeType = "BROWSER_CHECK"
	ChallengeManaged      ChallengeType = "MANAGED"
	ChallengeNone         ChallengeType = "NONE"
)

// ChallengeDetection is the outcome of probing a live page.
type ChallengeDetection struct {
	Detected        bool          `json:"detected"`
	ChallengeType   ChallengeType `json:"challenge_type"`
	Confidence      float64       `json:"confidence"`
	SelectorMatched string        `json:"selector_matched,omitempty"`
}

// ChallengeResult is the outcome of a resolution attempt.
type ChallengeResult struct {
	Resolved   bool   `json:"resolved"`
	Method     string `json:"method"` // none | auto_resolve | capsolver
	WaitTimeMS int64  `json:"wait_time_ms"`
	Error      string `json:"error,omitempty"`
}

// ChallengePage is the slice of playwright.Page the solver needs. Probing
// goes through Evaluate so tests can fake a page with canned responses.
type ChallengePage interface {
	Title() (string, error)
	Content() (string, error)
	Evaluate(expression string, arg ...any) (any, error)
}

// challengeTitles are interstitial page titles across the locales Cloudflare
// serves. Matching is case-insensitive substring.
var challengeTitles = []string{
	"just a moment", "attention required", "checking your browser",
	"please wait", "one more step", "verify you are human",
	"um momento", "verificação de segurança",
	"un momento", "verificación de seguridad",
	"un instant", "vérification de sécurité",
	"einen moment", "sicherheitsüberprüfung",
}

// challengeSelectors map DOM markers to challenge types, probed in order.
var challengeSelectors = []struct {
	selector string
	ctype    ChallengeType
}{
	{`iframe[src*="challenges.cloudflare.com"]`, ChallengeTurnstile},
	{`.cf-turnstile`, ChallengeTurnstile},
	{`#cf-challenge-running`, ChallengeManaged},
	{`#challenge-running`, ChallengeJS},
	{`.cf-browser-verification`, ChallengeBrowserCheck},
}

// contentMarkers feed the small-page heuristic: two or more hits on a page
// under 10 KB is a challenge.
var contentMarkers = []string{
	"cloudflare", "cf-browser-verification", "ray id",
	"challenge-platform", "turnstile", "cf_chl_opt",
	"performance & security by",
}

const (
	resolvedMarkerSelector = "#challenge-success"
	smallPageBytes         = 10 * 1024
)

// probeSelectorJS classifies one selector as absent, hidden, or visible.
const probeSelectorJS = `(sel) => {
  const el = document.querySelector(sel);
  if (!el) return 'absent';
  const style = window.getComputedStyle(el);
  const visible = !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length)
    && style.visibility !== 'hidden' && style.display !== 'none';
  return visible ? 'visible' : 'hidden';
}`

// SolverConfig tunes the challenge solver.
type SolverConfig struct {
	AutoWait     time.Duration // total budget for auto-resolve polling
	PollInterval time.Duration
	APIKey       string // external solver key; empty disables stage three
	CapsolverURL string
}

// Solver detects and resolves anti-bot interstitials in three stages:
// detect, wait for auto-resolve, then an external token service for
// Turnstile-class challenges.
type Solver struct {
	config    SolverConfig
	capsolver *CapsolverClient
	log       *observability.Logger
}

// NewSolver creates a solver. The capsolver client is only constructed when
// an API key is configured.
func NewSolver(config SolverConfig, log *observability.Logger) *Solver {
	if config.AutoWait <= 0 {
		config.AutoWait = 15 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if log == nil {
		log = observability.NopLogger()
	}
	s := &Solver{config: config, log: log}
	if config.APIKey != "" {
		s.capsolver = NewCapsolverClient(config.CapsolverURL, config.APIKey)
	}
	return s
}

// Detect probes the live page for challenge markers: title, selectors, then
// the small-page content heuristic.
func (s *Solver) Detect(page ChallengePage) ChallengeDetection {
	if title, err := page.Title(); err == nil {
		lower := strings.ToLower(title)
		for _, marker := range challengeTitles {
			if strings.Contains(lower, marker) {
				det := ChallengeDetection{
					Detected:      true,
					ChallengeType: ChallengeJS,
					Confidence:    0.9,
				}
				if sel := s.refineType(page, &det); sel != "" {
					det.SelectorMatched = sel
				}
				observability.ChallengeDetections.WithLabelValues(string(det.ChallengeType)).Inc()
				return det
			}
		}
	}

	for _, entry := range challengeSelectors {
		state, err := page.Evaluate(probeSelectorJS, entry.selector)
		if err != nil {
			continue
		}
		switch state {
		case "visible":
			observability.ChallengeDetections.WithLabelValues(string(entry.ctype)).Inc()
			return ChallengeDetection{
				Detected: true, ChallengeType: entry.ctype,
				Confidence: 0.95, SelectorMatched: entry.selector,
			}
		case "hidden":
			observability.ChallengeDetections.WithLabelValues(string(entry.ctype)).Inc()
			return ChallengeDetection{
				Detected: true, ChallengeType: entry.ctype,
				Confidence: 0.7, SelectorMatched: entry.selector,
			}
		}
	}

	if content, err := page.Content(); err == nil && len(content) < smallPageBytes {
		lower := strings.ToLower(content)
		hits := 0
		for _, marker := range contentMarkers {
			if strings.Contains(lower, marker) {
				hits++
			}
		}
		if hits >= 2 {
			observability.ChallengeDetections.WithLabelValues(string(ChallengeJS)).Inc()
			return ChallengeDetection{
				Detected: true, ChallengeType: ChallengeJS, Confidence: 0.8,
			}
		}
	}

	return ChallengeDetection{ChallengeType: ChallengeNone}
}

// refineType upgrades a title-based detection with a selector match when one
// is present, so the external stage knows whether this is Turnstile-class.
func (s *Solver) refineType(page ChallengePage, det *ChallengeDetection) string {
	for _, entry := range challengeSelectors {
		state, err := page.Evaluate(probeSelectorJS, entry.selector)
		if err != nil {
			continue
		}
		if state == "visible" || state == "hidden" {
			det.ChallengeType = entry.ctype
			return entry.selector
		}
	}
	return ""
}

// Solve runs the full pipeline against a detected challenge.
func (s *Solver) Solve(ctx context.Context, page ChallengePage, pageURL string, det ChallengeDetection) ChallengeResult {
	if !det.Detected {
		return ChallengeResult{Resolved: true, Method: "none"}
	}
	start := time.Now()

	if res := s.waitForAutoResolve(ctx, page); res.Resolved {
		res.WaitTimeMS = time.Since(start).Milliseconds()
		observability.ChallengeResolutions.WithLabelValues("auto_wait", "resolved").Inc()
		return res
	}

	if det.ChallengeType == ChallengeTurnstile || det.ChallengeType == ChallengeManaged {
		res := s.solveExternal(ctx, page, pageURL)
		res.WaitTimeMS = time.Since(start).Milliseconds()
		outcome := "failed"
		if res.Resolved {
			outcome = "resolved"
		}
		observability.ChallengeResolutions.WithLabelValues(res.Method, outcome).Inc()
		return res
	}

	observability.ChallengeResolutions.WithLabelValues("auto_wait", "failed").Inc()
	return ChallengeResult{
		Method:     "none",
		WaitTimeMS: time.Since(start).Milliseconds(),
		Error:      "challenge did not auto-resolve",
	}
}

// waitForAutoResolve polls Detect until the challenge clears, a resolved
// marker appears, or the budget runs out.
func (s *Solver) waitForAutoResolve(ctx context.Context, page ChallengePage) ChallengeResult {
	deadline := time.Now().Add(s.config.AutoWait)
	for {
		if det := s.Detect(page); !det.Detected {
			return ChallengeResult{Resolved: true, Method: "auto_resolve"}
		}
		if state, err := page.Evaluate(probeSelectorJS, resolvedMarkerSelector); err == nil && state == "visible" {
			return ChallengeResult{Resolved: true, Method: "auto_resolve"}
		}
		if time.Now().After(deadline) {
			return ChallengeResult{Method: "auto_resolve", Error: "auto-resolve timeout"}
		}
		select {
		case <-ctx.Done():
			return ChallengeResult{Method: "auto_resolve", Error: ctx.Err().Error()}
		case <-time.After(s.config.PollInterval):
		}
	}
}

// sitekeyJS pulls the Turnstile sitekey out of the known carriers.
const sitekeyJS = `() => {
  const a = document.querySelector('.cf-turnstile[data-sitekey]');
  if (a) return a.getAttribute('data-sitekey');
  const b = document.querySelector('div[data-turnstile-sitekey]');
  if (b) return b.getAttribute('data-turnstile-sitekey');
  const frame = document.querySelector('iframe[src*="challenges.cloudflare.com"]');
  if (frame) {
    try {
      const u = new URL(frame.src);
      return u.searchParams.get('sitekey') || u.searchParams.get('k');
    } catch (e) { return null; }
  }
  return null;
}`

// injectTokenJS fills every Turnstile response input, fires the widget
// callback if declared, and dispatches input/change events.
const injectTokenJS = `(token) => {
  const inputs = document.querySelectorAll('input[name="cf-turnstile-response"]');
  inputs.forEach((input) => {
    input.value = token;
    input.dispatchEvent(new Event('input', { bubbles: true }));
    input.dispatchEvent(new Event('change', { bubbles: true }));
  });
  const widget = document.querySelector('[data-callback]');
  if (widget) {
    const cb = widget.getAttribute('data-callback');
    if (cb && typeof window[cb] === 'function') {
      try { window[cb](token); } catch (e) {}
    }
  }
  return inputs.length;
}`

func (s *Solver) solveExternal(ctx context.Context, page ChallengePage, pageURL string) ChallengeResult {
	if s.capsolver == nil {
		// One warning per request, not one per poll.
		s.log.Warn("turnstile challenge present but external solver not configured", "url", pageURL)
		return ChallengeResult{Method: "none", Error: "external solver not configured"}
	}

	raw, err := page.Evaluate(sitekeyJS)
	if err != nil {
		return ChallengeResult{Method: "capsolver", Error: fmt.Sprintf("sitekey probe: %v", err)}
	}
	sitekey, _ := raw.(string)
	if sitekey == "" {
		return ChallengeResult{Method: "capsolver", Error: "no sitekey found"}
	}

	token, err := s.capsolver.SolveTurnstile(ctx, pageURL, sitekey)
	if err != nil {
		return ChallengeResult{Method: "capsolver", Error: err.Error()}
	}

	if _, err := page.Evaluate(injectTokenJS, token); err != nil {
		return ChallengeResult{Method: "capsolver", Error: fmt.Sprintf("token inject: %v", err)}
	}

	select {
	case <-ctx.Done():
		return ChallengeResult{Method: "capsolver", Error: ctx.Err().Error()}
	case <-time.After(2 * time.Second):
	}

	if det := s.Detect(page); det.Detected {
		return ChallengeResult{Method: "capsolver", Error: "challenge persisted after token injection"}
	}
	return ChallengeResult{Resolved: true, Method: "capsolver"}
}
