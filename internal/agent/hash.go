package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ArgsHash returns a short stable fingerprint of a tool call's arguments.
// Traces record the hash instead of raw arguments so that secret values never
// land on disk; the same args always produce the same hash, which is what the
// no-op loop detector compares.
func ArgsHash(args map[string]any) string {
	canonical := canonicalJSON(args)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:12]
}

// canonicalJSON renders a value with object keys sorted at every level.
// encoding/json already sorts map keys, but args may contain nested
// structures decoded as []any/map[string]any, so we walk explicitly to keep
// the encoding independent of insertion order and float formatting quirks.
func canonicalJSON(v any) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			writeCanonical(b, t[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteByte(']')
	default:
		enc, err := json.Marshal(t)
		if err != nil {
			enc = []byte(fmt.Sprintf("%q", fmt.Sprint(t)))
		}
		b.Write(enc)
	}
}
