// Package policy decides which tool calls and URLs an agent run may touch.
// It combines tool and domain allowlists with private-address blocking so
// the crawler cannot be steered at internal infrastructure.
package policy

import (
	"strconv"
	"strings"
)

// privateIPv6Prefixes identify private and link-local IPv6 addresses.
var privateIPv6Prefixes = []string{"::1", "fe80:", "fec0:", "fc", "fd"}

// IsPrivateIP reports whether the address string is a private, loopback,
// link-local, or otherwise non-routable IP. Octets are checked directly
// rather than through net.ParseIP so shorthand like "10.1" never slips past
// as public.
func IsPrivateIP(address string) bool {
	addr := strings.ToLower(strings.TrimSpace(address))
	if addr == "" {
		return false
	}

	if strings.Contains(addr, ":") {
		return isPrivateIPv6(addr)
	}

	octets, ok := parseIPv4(addr)
	if !ok {
		return false
	}
	return isPrivateIPv4(octets)
}

func isPrivateIPv4(o [4]byte) bool {
	switch {
	case o[0] == 10: // 10.0.0.0/8
		return true
	case o[0] == 127: // loopback
		return true
	case o[0] == 0: // "this network"
		return true
	case o[0] == 172 && o[1] >= 16 && o[1] <= 31: // 172.16.0.0/12
		return true
	case o[0] == 192 && o[1] == 168: // 192.168.0.0/16
		return true
	case o[0] == 169 && o[1] == 254: // link-local, incl. cloud metadata
		return true
	case o[0] == 100 && o[1] >= 64 && o[1] <= 127: // CGNAT 100.64.0.0/10
		return true
	}
	return false
}

func isPrivateIPv6(addr string) bool {
	if addr == "::" || addr == "::1" {
		return true
	}
	for _, prefix := range privateIPv6Prefixes {
		if strings.HasPrefix(addr, prefix) {
			return true
		}
	}
	// IPv4-mapped addresses inherit the IPv4 verdict.
	if strings.HasPrefix(addr, "::ffff:") {
		mapped := strings.TrimPrefix(addr, "::ffff:")
		if octets, ok := parseIPv4(mapped); ok {
			return isPrivateIPv4(octets)
		}
	}
	return false
}

// parseIPv4 parses dotted-decimal notation into octets. Anything that is not
// exactly four in-range decimal octets is rejected.
func parseIPv4(address string) ([4]byte, bool) {
	var result [4]byte
	parts := strings.Split(address, ".")
	if len(parts) != 4 {
		return result, false
	}
	for i, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil || value < 0 || value > 255 {
			return result, false
		}
		// Reject octets with leading zeros, which some resolvers treat as octal.
		if len(part) > 1 && part[0] == '0' {
			return result, false
		}
		result[i] = byte(value)
	}
	return result, true
}
