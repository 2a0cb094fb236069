package crawl

import (
	"sync"
	"time"
)

// defaultClearanceTTL is how long a clearance cookie stays trusted when no
// TTL is configured. Cloudflare clearance tokens are valid for about 30
// minutes; expiring early avoids presenting a stale one and re-triggering
// the challenge.
const defaultClearanceTTL = 25 * time.Minute

type cookieEntry struct {
	value     string
	userAgent string
	storedAt  time.Time
}

// CookieStore caches per-domain clearance cookies so a solved challenge is
// reused across crawls instead of re-solved every time.
type CookieStore struct {
	mu      sync.Mutex
	entries map[string]cookieEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewCookieStore creates an empty store. A non-positive ttl uses the
// default.
func NewCookieStore(ttl time.Duration) *CookieStore {
	if ttl <= 0 {
		ttl = defaultClearanceTTL
	}
	return &CookieStore{
		entries: make(map[string]cookieEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put records a clearance cookie for a domain, along with the user agent it
// was minted under (clearance is UA-bound).
func (s *CookieStore) Put(domain, value, userAgent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[domain] = cookieEntry{
		value:     value,
		userAgent: userAgent,
		storedAt:  s.now(),
	}
}

// Get returns the cached cookie and its user agent if one is still fresh.
func (s *CookieStore) Get(domain string) (value, userAgent string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, found := s.entries[domain]
	if !found {
		return "", "", false
	}
	if s.now().Sub(entry.storedAt) > s.ttl {
		delete(s.entries, domain)
		return "", "", false
	}
	return entry.value, entry.userAgent, true
}

// Invalidate drops a domain's cached cookie, used when a crawl with the
// cookie still hit a challenge.
func (s *CookieStore) Invalidate(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, domain)
}
