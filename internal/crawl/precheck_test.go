package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPrecheckUsableContent(t *testing.T) {
	page := "<html><body>" + strings.Repeat("<p>plain server-rendered content</p>", 100) + "</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Mozilla") {
			t.Errorf("User-Agent = %q, want browser-grade", ua)
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	p := NewPrechecker(5*time.Second, nil)
	result := p.Precheck(context.Background(), srv.URL)

	if !result.Success {
		t.Fatalf("Success = false, error %q", result.Error)
	}
	if result.NeedsBrowser {
		t.Errorf("NeedsBrowser = true, want false")
	}
	if result.UsableContent == "" {
		t.Errorf("UsableContent empty, want page body")
	}
	if result.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if result.Headers["content-type"] != "text/html" {
		t.Errorf("Headers[content-type] = %q, want text/html", result.Headers["content-type"])
	}
}

func TestPrecheckNeedsBrowser(t *testing.T) {
	big := strings.Repeat("x", 2048)
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"forbidden", 403, big},
		{"unavailable", 503, big},
		{"small body", 200, "tiny"},
		{"challenge marker", 200, "<html>cf-browser-verification" + big + "</html>"},
		{"noscript shell", 200, "<html><noscript>enable javascript</noscript>" + big + "</html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewPrechecker(5*time.Second, nil)
			result := p.Precheck(context.Background(), srv.URL)

			if !result.NeedsBrowser {
				t.Errorf("NeedsBrowser = false, want true")
			}
			if result.UsableContent != "" {
				t.Errorf("UsableContent = %q, want empty", result.UsableContent[:min(40, len(result.UsableContent))])
			}
		})
	}
}

func TestPrecheckNetworkErrorFailsSafe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	p := NewPrechecker(2*time.Second, nil)
	result := p.Precheck(context.Background(), srv.URL)

	if !result.NeedsBrowser {
		t.Errorf("NeedsBrowser = false, want true on network error")
	}
	if result.Success {
		t.Errorf("Success = true, want false")
	}
	if result.Error == "" {
		t.Errorf("Error empty, want network error message")
	}
}

func TestPrecheckScanWindow(t *testing.T) {
	// The challenge marker sits past the 5 KB scan window, so the page counts
	// as usable.
	body := strings.Repeat("a", 6*1024) + "cf-browser-verification"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	p := NewPrechecker(5*time.Second, nil)
	result := p.Precheck(context.Background(), srv.URL)

	if result.NeedsBrowser {
		t.Errorf("NeedsBrowser = true, want false when marker is outside scan window")
	}
}
