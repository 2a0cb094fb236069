// Package redact masks secret-looking values in arbitrary JSON-shaped data
// before it reaches traces, logs, or API responses.
package redact

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Mask is the literal substituted for redacted values.
const Mask = "[REDACTED]"

// MaxDepth bounds the recursive walk. Values nested deeper are replaced
// wholesale rather than risking unbounded recursion on cyclic-ish input.
const MaxDepth = 10

// sensitiveKeyParts mark map keys whose values are masked regardless of
// content. Matching is a case-insensitive substring check with dashes folded
// to underscores, so "x-api-key" and "SessionToken" both hit.
var sensitiveKeyParts = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"private_key",
	"credentials",
	"authorization",
	"cookie",
}

// patterns catch secrets embedded inside string values.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`),
	regexp.MustCompile(`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`),
	regexp.MustCompile(`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`),
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{95,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{48,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
	regexp.MustCompile(`(?i)(secret|key|token)[\s:=]+["']?([a-fA-F0-9]{32,})["']?`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
}

// String masks secret patterns inside s.
func String(s string) string {
	for _, re := range patterns {
		s = re.ReplaceAllString(s, Mask)
	}
	return s
}

// Value recursively masks v: map values under sensitive keys are replaced
// with Mask, strings are pattern-scrubbed, slices and nested maps are walked
// up to MaxDepth levels.
func Value(v any) any {
	return walk(v, 0)
}

func walk(v any, depth int) any {
	if depth >= MaxDepth {
		return Mask
	}
	switch val := v.(type) {
	case string:
		return String(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if SensitiveKey(k) {
				out[k] = Mask
			} else {
				out[k] = walk(inner, depth+1)
			}
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if SensitiveKey(k) {
				out[k] = Mask
			} else {
				out[k] = String(inner)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = walk(inner, depth+1)
		}
		return out
	case nil, bool, float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return val
	default:
		// Structs and other concrete types round-trip through JSON so their
		// fields get the same treatment as decoded maps.
		data, err := json.Marshal(val)
		if err != nil {
			return val
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return val
		}
		if _, ok := decoded.(string); ok || decoded == nil {
			return val
		}
		return walk(decoded, depth+1)
	}
}

// SensitiveKey reports whether a map key names a credential.
func SensitiveKey(k string) bool {
	folded := strings.ToLower(strings.ReplaceAll(k, "-", "_"))
	for _, part := range sensitiveKeyParts {
		if strings.Contains(folded, part) {
			return true
		}
	}
	return false
}
