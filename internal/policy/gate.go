package policy

import (
	"fmt"
	"net"
	"net/url"

	"github.com/webwraith/wraith/internal/agent"
	"github.com/webwraith/wraith/internal/observability"
)

// urlArgKeys are the tool argument names scanned for URLs. Each may hold a
// single string or a list of strings.
var urlArgKeys = []string{"url", "urls", "target_url", "href"}

// Gate evaluates tool calls against a run's config. Verdicts are
// deterministic for a given (call, config) pair, except that hostname
// resolution outcomes depend on DNS; an unresolvable hostname is logged and
// allowed rather than treated as private.
type Gate struct {
	log      *observability.Logger
	lookupIP func(host string) ([]net.IP, error)
}

// NewGate creates a policy gate.
func NewGate(log *observability.Logger) *Gate {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Gate{log: log, lookupIP: net.LookupIP}
}

// Check implements agent.PolicyGate. A nil return allows the call.
func (g *Gate) Check(name string, args map[string]any, cfg agent.RunConfig) error {
	if !toolAllowed(name, cfg.AllowedTools) {
		return fmt.Errorf("tool %q not in allowed_tools", name)
	}
	for _, raw := range extractURLs(args) {
		if err := g.CheckURL(raw, cfg.AllowedDomains, cfg.BlockPrivateRanges); err != nil {
			return err
		}
	}
	return nil
}

// CheckURL validates a single URL against the domain allowlist and, when
// blockPrivate is set, the private-address rules. An unparseable URL is
// denied outright.
func (g *Gate) CheckURL(raw string, allowedDomains []string, blockPrivate bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("unparseable url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := normalizeHostname(u.Hostname())
	if host == "" {
		return fmt.Errorf("url %q has no hostname", raw)
	}

	if !domainAllowed(host, allowedDomains) {
		return fmt.Errorf("domain %q not in allowed_domains", host)
	}

	if !blockPrivate {
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("blocked hostname %q", host)
	}
	if IsPrivateIP(host) {
		return fmt.Errorf("private address %q", host)
	}
	if _, ok := parseIPv4(host); ok {
		// Public IP literal, nothing to resolve.
		return nil
	}

	ips, err := g.lookupIP(host)
	if err != nil {
		g.log.Warn("hostname did not resolve, allowing", "host", host, "error", err)
		return nil
	}
	for _, ip := range ips {
		if IsPrivateIP(ip.String()) {
			return fmt.Errorf("hostname %q resolves to private address %s", host, ip)
		}
	}
	return nil
}

func toolAllowed(name string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == name {
			return true
		}
	}
	return false
}

// extractURLs pulls URL-shaped arguments out of a call.
func extractURLs(args map[string]any) []string {
	var out []string
	for _, key := range urlArgKeys {
		switch v := args[key].(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
		case []string:
			out = append(out, v...)
		}
	}
	return out
}
