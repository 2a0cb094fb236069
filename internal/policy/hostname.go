package policy

import "strings"

// blockedHostnames are always refused regardless of allowlists.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

// blockedSuffixes mark hostnames that name internal or local resources.
var blockedSuffixes = []string{
	".localhost",
	".local",
	".internal",
}

// normalizeHostname lowercases, trims, drops trailing dots, and unwraps
// IPv6 brackets.
func normalizeHostname(hostname string) string {
	normalized := strings.ToLower(strings.TrimSpace(hostname))
	normalized = strings.TrimSuffix(normalized, ".")
	if strings.HasPrefix(normalized, "[") && strings.HasSuffix(normalized, "]") {
		normalized = normalized[1 : len(normalized)-1]
	}
	return normalized
}

// isBlockedHostname reports whether the hostname is on the always-blocked
// list or carries an internal suffix.
func isBlockedHostname(hostname string) bool {
	normalized := normalizeHostname(hostname)
	if normalized == "" {
		return false
	}
	if blockedHostnames[normalized] {
		return true
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			return true
		}
	}
	return false
}

// domainAllowed reports whether host matches the allowlist. An empty list
// allows everything; entries match exactly or as a parent domain.
func domainAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host = normalizeHostname(host)
	for _, entry := range allowed {
		entry = normalizeHostname(entry)
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}
