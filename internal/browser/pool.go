// Package browser manages warm playwright sessions: a fixed-size slot pool
// with lease reclamation, the anti-bot challenge solver, and screenshot
// capture for the vision fallback and live streaming.
package browser

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/sync/errgroup"

	"github.com/webwraith/wraith/internal/observability"
)

// ErrPoolSaturated is returned by Acquire when every slot is leased.
var ErrPoolSaturated = errors.New("browser pool saturated")

// Slot is one warm browser session: browser, isolated context, one page.
// Slots are created at startup and live until shutdown; Release resets them
// instead of destroying them.
type Slot struct {
	ID      string
	Browser playwright.Browser
	Context playwright.BrowserContext
	Page    playwright.Page

	SessionID    string
	NavigatedURL string
	Leased       bool
	LeasedAt     time.Time
}

// PoolConfig configures the slot pool.
type PoolConfig struct {
	Size           int
	Headless       bool
	MaxLease       time.Duration
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
}

// Pool is a fixed-size pool of warm browser sessions. One mutex guards the
// slot vector; Acquire never blocks waiting for a free slot.
type Pool struct {
	config PoolConfig
	log    *observability.Logger

	mu     sync.Mutex
	slots  []*Slot
	closed bool
	pw     *playwright.Playwright

	// uaIdx is atomic, not guarded by mu: slot creation runs both from
	// Start and from releaseLocked, which already holds mu.
	uaIdx atomic.Int64

	now       func() time.Time
	newSlot   func() (*Slot, error)
	resetSlot func(*Slot) error
}

// NewPool creates an unstarted pool.
func NewPool(config PoolConfig, log *observability.Logger) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.MaxLease <= 0 {
		config.MaxLease = 300 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ViewportWidth <= 0 {
		config.ViewportWidth = 1920
	}
	if config.ViewportHeight <= 0 {
		config.ViewportHeight = 1080
	}
	if log == nil {
		log = observability.NopLogger()
	}
	p := &Pool{
		config: config,
		log:    log,
		now:    time.Now,
	}
	p.newSlot = p.createSlot
	p.resetSlot = p.blankSlot
	return p
}

// Start launches playwright and creates all slots concurrently.
func (p *Pool) Start() error {
	if err := playwright.Install(&playwright.RunOptions{Verbose: false}); err != nil {
		p.log.Warn("playwright install failed, assuming browsers present", "error", err)
	}
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}
	p.pw = pw

	var g errgroup.Group
	created := make([]*Slot, p.config.Size)
	for i := 0; i < p.config.Size; i++ {
		g.Go(func() error {
			slot, err := p.newSlot()
			if err != nil {
				return err
			}
			created[i] = slot
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, s := range created {
			if s != nil {
				destroySlot(s)
			}
		}
		return fmt.Errorf("warm pool: %w", err)
	}

	p.mu.Lock()
	p.slots = created
	p.mu.Unlock()
	observability.PoolFree.Set(float64(p.config.Size))
	p.log.Info("browser pool started", "size", p.config.Size)
	return nil
}

// Acquire reclaims expired leases, then leases the first free slot to the
// session. It never blocks; a saturated pool returns ErrPoolSaturated.
func (p *Pool) Acquire(sessionID string) (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("browser pool closed")
	}

	p.reclaimExpiredLocked()

	for _, slot := range p.slots {
		if slot.Leased {
			continue
		}
		slot.Leased = true
		slot.LeasedAt = p.now()
		slot.SessionID = sessionID
		p.updateGaugesLocked()
		return slot, nil
	}
	observability.PoolSaturation.Inc()
	return nil, ErrPoolSaturated
}

// Release resets the slot to blank and frees it. If the reset fails, the
// slot is destroyed and rebuilt from scratch so one broken session cannot
// shrink the pool.
func (p *Pool) Release(slot *Slot) {
	if slot == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(slot)
	p.updateGaugesLocked()
}

func (p *Pool) releaseLocked(slot *Slot) {
	if err := p.resetSlot(slot); err != nil {
		p.log.Warn("slot reset failed, recreating", "slot", slot.ID, "error", err)
		destroySlot(slot)
		fresh, createErr := p.newSlot()
		if createErr != nil {
			p.log.Error("slot recreate failed", "slot", slot.ID, "error", createErr)
			// The destroyed slot stays leased so Acquire cannot hand it
			// out; the lease clock restarts, and the next reclaim past
			// MaxLease retries creation.
			slot.SessionID = ""
			slot.NavigatedURL = ""
			slot.LeasedAt = p.now()
			return
		}
		for i, s := range p.slots {
			if s == slot {
				p.slots[i] = fresh
				break
			}
		}
		slot = fresh
	}
	slot.Leased = false
	slot.SessionID = ""
	slot.NavigatedURL = ""
}

// LookupBySession returns the slot currently leased to a session, if any.
// Streaming endpoints use it to attach to an in-flight crawl.
func (p *Pool) LookupBySession(sessionID string) *Slot {
	if sessionID == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, slot := range p.slots {
		if slot.Leased && slot.SessionID == sessionID {
			return slot
		}
	}
	return nil
}

// Stats returns (free, leased) counts.
func (p *Pool) Stats() (free, leased int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, slot := range p.slots {
		if slot.Leased {
			leased++
		} else {
			free++
		}
	}
	return free, leased
}

// Size returns the configured slot count.
func (p *Pool) Size() int {
	return p.config.Size
}

// Shutdown closes every slot and stops playwright.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, slot := range p.slots {
		destroySlot(slot)
	}
	p.slots = nil
	if p.pw != nil {
		if err := p.pw.Stop(); err != nil {
			p.log.Warn("playwright stop failed", "error", err)
		}
	}
}

// reclaimExpiredLocked resets slots whose lease has outlived MaxLease, so a
// crashed consumer cannot starve the pool.
func (p *Pool) reclaimExpiredLocked() {
	now := p.now()
	for _, slot := range p.slots {
		if slot.Leased && now.Sub(slot.LeasedAt) > p.config.MaxLease {
			p.log.Warn("reclaiming expired lease",
				"slot", slot.ID, "session_id", slot.SessionID,
				"held", now.Sub(slot.LeasedAt))
			observability.PoolReclaims.Inc()
			p.releaseLocked(slot)
		}
	}
}

func (p *Pool) updateGaugesLocked() {
	var leased int
	for _, slot := range p.slots {
		if slot.Leased {
			leased++
		}
	}
	observability.PoolLeased.Set(float64(leased))
	observability.PoolFree.Set(float64(len(p.slots) - leased))
}

// nextUserAgent rotates through the UA list. It must stay safe to call
// with p.mu held: releaseLocked recreates slots under the lock.
func (p *Pool) nextUserAgent() string {
	idx := p.uaIdx.Add(1) - 1
	return userAgents[int(idx)%len(userAgents)]
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

func (p *Pool) createSlot() (*Slot, error) {
	if p.pw == nil {
		return nil, errors.New("playwright not started")
	}

	browser, err := p.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(p.config.Headless),
		Timeout:  playwright.Float(float64(p.config.Timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(p.nextUserAgent()),
		Viewport: &playwright.Size{
			Width:  p.config.ViewportWidth,
			Height: p.config.ViewportHeight,
		},
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("create context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	page.SetDefaultTimeout(float64(p.config.Timeout.Milliseconds()))

	return &Slot{
		ID:      fmt.Sprintf("slot-%d", time.Now().UnixNano()),
		Browser: browser,
		Context: context,
		Page:    page,
	}, nil
}

func (p *Pool) blankSlot(slot *Slot) error {
	if slot.Page == nil {
		return errors.New("slot has no page")
	}
	_, err := slot.Page.Goto("about:blank")
	return err
}

func destroySlot(slot *Slot) {
	if slot == nil {
		return
	}
	if slot.Page != nil {
		slot.Page.Close()
	}
	if slot.Context != nil {
		slot.Context.Close()
	}
	if slot.Browser != nil {
		slot.Browser.Close()
	}
}
