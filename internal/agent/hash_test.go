package agent

import (
	"strings"
	"testing"
)

func TestArgsHashDeterministic(t *testing.T) {
	a := map[string]any{"url": "https://example.com", "depth": 2, "tags": []any{"a", "b"}}
	b := map[string]any{"tags": []any{"a", "b"}, "depth": 2, "url": "https://example.com"}

	if ArgsHash(a) != ArgsHash(b) {
		t.Errorf("hash differs across key order: %q vs %q", ArgsHash(a), ArgsHash(b))
	}
}

func TestArgsHashShape(t *testing.T) {
	h := ArgsHash(map[string]any{"x": 1})
	if len(h) != 12 {
		t.Errorf("hash length = %d, want 12", len(h))
	}
	if strings.ToLower(h) != h {
		t.Errorf("hash = %q, want lowercase hex", h)
	}
}

func TestArgsHashDistinguishesValues(t *testing.T) {
	a := ArgsHash(map[string]any{"url": "https://example.com/a"})
	b := ArgsHash(map[string]any{"url": "https://example.com/b"})
	if a == b {
		t.Errorf("distinct args hashed identically: %q", a)
	}
}

func TestArgsHashNilAndEmpty(t *testing.T) {
	if ArgsHash(nil) != ArgsHash(map[string]any{}) {
		t.Errorf("nil and empty args should hash the same")
	}
}
