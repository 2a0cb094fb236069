package browser

import (
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// errNoPage covers slots whose page was destroyed, e.g. after a failed
// recreate.
var errNoPage = errors.New("slot has no page")

// WaitStrategy selects how long navigation waits before handing the page
// over: DOM ready, network idle, or a specific selector.
type WaitStrategy string

const (
	WaitDOMContentLoaded WaitStrategy = "domcontentloaded"
	WaitNetworkIdle      WaitStrategy = "networkidle"
	WaitSelector         WaitStrategy = "selector"
)

// NavigateOptions control a single navigation.
type NavigateOptions struct {
	Wait            WaitStrategy
	Selector        string // required when Wait == WaitSelector
	JSPayload       string // optional script evaluated after load
	WaitAfterLoadMS int64
	TimeoutMS       int64
}

// Navigate drives the slot's page to url per the options and records the
// final URL on the slot.
func Navigate(slot *Slot, url string, opts NavigateOptions) (statusCode int, err error) {
	if slot.Page == nil {
		return 0, errNoPage
	}
	if opts.TimeoutMS <= 0 {
		opts.TimeoutMS = 30_000
	}

	gotoOpts := playwright.PageGotoOptions{
		Timeout: playwright.Float(float64(opts.TimeoutMS)),
	}
	switch opts.Wait {
	case WaitNetworkIdle:
		gotoOpts.WaitUntil = playwright.WaitUntilStateNetworkidle
	default:
		gotoOpts.WaitUntil = playwright.WaitUntilStateDomcontentloaded
	}

	resp, err := slot.Page.Goto(url, gotoOpts)
	if err != nil {
		return 0, fmt.Errorf("goto %s: %w", url, err)
	}
	if resp != nil {
		statusCode = resp.Status()
	}
	slot.NavigatedURL = slot.Page.URL()

	if opts.Wait == WaitSelector && opts.Selector != "" {
		if _, err := slot.Page.WaitForSelector(opts.Selector, playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(float64(opts.TimeoutMS)),
		}); err != nil {
			return statusCode, fmt.Errorf("wait for selector %q: %w", opts.Selector, err)
		}
	}

	if opts.JSPayload != "" {
		if _, err := slot.Page.Evaluate(opts.JSPayload); err != nil {
			return statusCode, fmt.Errorf("inject payload: %w", err)
		}
	}

	if opts.WaitAfterLoadMS > 0 {
		time.Sleep(time.Duration(opts.WaitAfterLoadMS) * time.Millisecond)
	}
	return statusCode, nil
}

// WaitDOMReady waits for the page's DOM ready state, used after a challenge
// resolves and the page re-navigates itself.
func WaitDOMReady(slot *Slot) error {
	return slot.Page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateDomcontentloaded,
	})
}

// Screenshot captures the page. fullPage captures beyond the viewport;
// quality applies to JPEG only (0 means PNG).
func Screenshot(slot *Slot, fullPage bool, jpegQuality int) ([]byte, error) {
	if slot.Page == nil {
		return nil, errNoPage
	}
	opts := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
	}
	if jpegQuality > 0 {
		opts.Type = playwright.ScreenshotTypeJpeg
		opts.Quality = playwright.Int(jpegQuality)
	} else {
		opts.Type = playwright.ScreenshotTypePng
	}
	return slot.Page.Screenshot(opts)
}

// PageHTML returns the page's serialized DOM.
func PageHTML(slot *Slot) (string, error) {
	return slot.Page.Content()
}

// PageTitle returns the page title, empty on error.
func PageTitle(slot *Slot) string {
	title, err := slot.Page.Title()
	if err != nil {
		return ""
	}
	return title
}
