package crawl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockPhraseGroups map page phrases to block signals, checked in order.
// The first group with a hit wins.
var blockPhraseGroups = []struct {
	signal     BlockSignal
	confidence float64
	captcha    bool
	phrases    []string
}{
	{SignalCloudflare, 0.9, false, []string{
		"just a moment", "checking your browser", "cf-browser-verification",
		"challenge-platform", "cf-challenge-running", "managed-challenge",
		"performance & security by cloudflare",
	}},
	{SignalCaptcha, 0.85, true, []string{
		"recaptcha", "hcaptcha", "cf-turnstile", "complete the captcha",
		"solve the captcha", "i'm not a robot",
	}},
	{SignalBotChallenge, 0.85, false, []string{
		"ddos-guard", "datadome", "bot detection", "are you a robot",
		"automated access", "unusual traffic",
	}},
	{SignalSessionVerify, 0.7, false, []string{
		"verify your session", "session has expired", "please sign in to continue",
	}},
	{SignalAccessDenied, 0.8, false, []string{
		"access denied", "you don't have permission", "403 forbidden",
	}},
}

const (
	falsePositiveHTMLBytes = 10 * 1024
	falsePositiveMidHTML   = 5 * 1024
	falsePositiveMarkdown  = 2 * 1024

	emptyChars      = 80
	emptyWords      = 15
	minimalChars    = 600
	minimalWords    = 120
	emptyShellBytes = 2 * 1024
)

// errorPageSignatures downgrade a page to minimal even when it has text.
var errorPageSignatures = []string{
	"404 not found", "page not found", "this page doesn't exist",
	"internal server error", "something went wrong",
}

// DetectBlock scans HTML and status code for anti-bot signals, with the
// false-positive guard for large pages that merely mention their CDN.
func DetectBlock(html string, statusCode int, markdown string) BlockDetection {
	switch statusCode {
	case 403:
		return BlockDetection{Blocked: true, Signal: SignalHTTP403, Reason: "status 403", Confidence: 1}
	case 429:
		return BlockDetection{Blocked: true, Signal: SignalHTTP429, Reason: "status 429", Confidence: 1}
	case 503:
		return BlockDetection{Blocked: true, Signal: SignalHTTP503, Reason: "status 503", Confidence: 1}
	}

	lower := strings.ToLower(html)
	for _, group := range blockPhraseGroups {
		for _, phrase := range group.phrases {
			if !strings.Contains(lower, phrase) {
				continue
			}
			// Large pages that merely name Cloudflare in a script or
			// footer are not interstitials.
			if len(html) > falsePositiveHTMLBytes {
				continue
			}
			if len(html) >= falsePositiveMidHTML && len(markdown) > falsePositiveMarkdown {
				continue
			}
			return BlockDetection{
				Blocked:         true,
				Signal:          group.signal,
				Reason:          fmt.Sprintf("matched %q", phrase),
				CaptchaDetected: group.captcha,
				Confidence:      group.confidence,
			}
		}
	}

	// A big DOM with almost no text is a JS shell that never hydrated.
	if len(html) > emptyShellBytes {
		chars, words := countSubstantive(markdown)
		if chars < emptyChars && words < emptyWords {
			return BlockDetection{
				Blocked:    true,
				Signal:     SignalEmptyShell,
				Reason:     "large DOM with no extractable text",
				Confidence: 0.6,
			}
		}
	}

	return BlockDetection{}
}

// ClassifyContent assigns the quality class. Order matters: blocked, then
// empty, then minimal; adding body text can only move a page up the ladder.
func ClassifyContent(html string, statusCode int, markdown string) (ContentQuality, BlockDetection) {
	det := DetectBlock(html, statusCode, markdown)
	if det.Blocked || statusCode >= 500 {
		if !det.Blocked {
			det = BlockDetection{
				Blocked:    true,
				Signal:     SignalHTTP503,
				Reason:     fmt.Sprintf("status %d", statusCode),
				Confidence: 1,
			}
		}
		return QualityBlocked, det
	}

	chars, words := countSubstantive(markdown)
	if chars < emptyChars || words < emptyWords {
		return QualityEmpty, det
	}

	if statusCode >= 400 && statusCode < 500 {
		return QualityMinimal, det
	}
	lower := strings.ToLower(markdown)
	for _, sig := range errorPageSignatures {
		if strings.Contains(lower, sig) {
			return QualityMinimal, det
		}
	}
	if chars < minimalChars || words < minimalWords {
		return QualityMinimal, det
	}

	return QualitySufficient, det
}

var (
	mdImageRe   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdLinkRe    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdHeadingRe = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	mdNoiseRe   = regexp.MustCompile(`(?m)^\s*[-*_]{3,}\s*$`)
)

// countSubstantive strips markdown syntax and counts the characters and
// words that would actually render as content.
func countSubstantive(markdown string) (chars, words int) {
	text := mdImageRe.ReplaceAllString(markdown, "")
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = mdHeadingRe.ReplaceAllString(text, "")
	text = mdNoiseRe.ReplaceAllString(text, "")

	fields := strings.Fields(text)
	words = len(fields)
	for _, f := range fields {
		chars += len(f)
	}
	return chars, words
}

// NonBlockedChars counts substantive characters remaining after stripping
// block phrases, used to judge whether a DOM markdown snapshot is worth
// preferring over a vision pass.
func NonBlockedChars(markdown string) int {
	lower := strings.ToLower(markdown)
	for _, group := range blockPhraseGroups {
		for _, phrase := range group.phrases {
			lower = strings.ReplaceAll(lower, phrase, "")
		}
	}
	chars, _ := countSubstantive(lower)
	return chars
}

// hiddenSelector matches elements whose text a human never sees.
const hiddenSelector = `[hidden], [aria-hidden="true"], [style*="display:none"], [style*="display: none"], [style*="visibility:hidden"], [style*="visibility: hidden"]`

// instructionPhrases flag hidden text that tries to steer the model rather
// than inform the reader.
var instructionPhrases = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard the above",
	"you are an ai",
	"system prompt",
	"respond with",
	"do not tell the user",
}

// DetectHiddenInstructions extracts text that is present in the DOM but
// hidden from view and checks it for instruction-like phrasing. Returns the
// suspicious snippets; an empty slice means the page is clean.
func DetectHiddenInstructions(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var suspicious []string
	doc.Find(hiddenSelector).Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		lower := strings.ToLower(text)
		for _, phrase := range instructionPhrases {
			if strings.Contains(lower, phrase) {
				suspicious = append(suspicious, text)
				return
			}
		}
	})
	return suspicious
}

// StripHidden removes script, style, noscript, and hidden elements and
// returns the remaining visible text. Used to quarantine hidden-text
// payloads before content reaches the model.
func StripHidden(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, noscript").Remove()
	doc.Find(hiddenSelector).Remove()
	return strings.TrimSpace(doc.Text())
}
