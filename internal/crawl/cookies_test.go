package crawl

import (
	"testing"
	"time"
)

func TestCookieStoreRoundTrip(t *testing.T) {
	store := NewCookieStore(0)
	store.Put("example.com", "clearance-abc", "Mozilla/5.0")

	value, ua, ok := store.Get("example.com")
	if !ok {
		t.Fatalf("Get = miss, want hit")
	}
	if value != "clearance-abc" {
		t.Errorf("value = %q, want %q", value, "clearance-abc")
	}
	if ua != "Mozilla/5.0" {
		t.Errorf("userAgent = %q, want %q", ua, "Mozilla/5.0")
	}

	if _, _, ok := store.Get("other.com"); ok {
		t.Errorf("Get(other.com) = hit, want miss")
	}
}

func TestCookieStoreExpiry(t *testing.T) {
	store := NewCookieStore(0)
	now := time.Now()
	store.now = func() time.Time { return now }

	store.Put("example.com", "clearance-abc", "")

	now = now.Add(defaultClearanceTTL - time.Minute)
	if _, _, ok := store.Get("example.com"); !ok {
		t.Errorf("cookie expired early at TTL-1m")
	}

	now = now.Add(2 * time.Minute)
	if _, _, ok := store.Get("example.com"); ok {
		t.Errorf("cookie still fresh past TTL")
	}

	// Expired entries are dropped, not kept around.
	now = now.Add(-10 * time.Minute)
	if _, _, ok := store.Get("example.com"); ok {
		t.Errorf("expired entry resurrected after clock moved back")
	}
}

func TestCookieStoreConfiguredTTL(t *testing.T) {
	store := NewCookieStore(5 * time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	store.Put("example.com", "clearance-abc", "")

	now = now.Add(4 * time.Minute)
	if _, _, ok := store.Get("example.com"); !ok {
		t.Errorf("cookie expired before the configured TTL")
	}
	now = now.Add(2 * time.Minute)
	if _, _, ok := store.Get("example.com"); ok {
		t.Errorf("cookie outlived the configured TTL")
	}
}

func TestCookieStoreInvalidate(t *testing.T) {
	store := NewCookieStore(0)
	store.Put("example.com", "stale", "")
	store.Invalidate("example.com")

	if _, _, ok := store.Get("example.com"); ok {
		t.Errorf("Get after Invalidate = hit, want miss")
	}
}

func TestCookieStorePutOverwrites(t *testing.T) {
	store := NewCookieStore(0)
	store.Put("example.com", "first", "ua-1")
	store.Put("example.com", "second", "ua-2")

	value, ua, ok := store.Get("example.com")
	if !ok || value != "second" || ua != "ua-2" {
		t.Errorf("Get = (%q, %q, %v), want latest entry", value, ua, ok)
	}
}
