// Package urlcheck validates and normalizes destination URLs before they are
// handed to the shortener core. Normalization strips tracking parameters and
// fragments; validation rejects non-HTTP schemes and destinations inside
// private, loopback, or link-local networks.
package urlcheck

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// MaxURLLength bounds stored destinations.
const MaxURLLength = 2048

// ValidationError carries a machine-readable code alongside the message.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(code, message string) error {
	return &ValidationError{Code: code, Message: message}
}

// blockedHosts are rejected by name, before any range checks.
// 169.254.169.254 is the cloud metadata endpoint.
var blockedHosts = map[string]bool{
	"localhost":       true,
	"127.0.0.1":       true,
	"0.0.0.0":         true,
	"::1":             true,
	"169.254.169.254": true,
}

// trackingParams are removed from the query string during normalization.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
}

// Normalize validates a raw destination URL and returns its canonical form:
// scheme restricted to http/https, blocked hosts and networks rejected,
// fragment dropped, tracking parameters stripped.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	if raw == "" {
		return "", invalid("MISSING_URL", "URL is required")
	}
	if len(raw) > MaxURLLength {
		return "", invalid("INVALID_URL", fmt.Sprintf("URL too long (max %d characters)", MaxURLLength))
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", invalid("INVALID_URL", "invalid URL format")
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", invalid("INVALID_PROTOCOL", "only HTTP and HTTPS URLs are allowed")
	}
	parsed.Scheme = scheme

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return "", invalid("INVALID_URL", "URL must include a host")
	}

	if blockedHosts[hostname] {
		return "", invalid("BLOCKED_HOST", "URL points to a blocked host")
	}

	if addr, err := netip.ParseAddr(hostname); err == nil {
		if isBlockedAddr(addr) {
			return "", invalid("BLOCKED_NETWORK", "URL points to a blocked network range")
		}
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.RawQuery = stripTracking(parsed.RawQuery)

	return parsed.String(), nil
}

// isBlockedAddr reports whether the destination address sits in a network
// this service refuses to redirect into. IsPrivate covers RFC 1918 and the
// IPv6 ULA range (fc00::/7).
func isBlockedAddr(addr netip.Addr) bool {
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}

// stripTracking removes tracking parameters from a raw query string while
// preserving the order and encoding of the remaining pairs.
func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	kept := pairs[:0]
	for _, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		decoded, err := url.QueryUnescape(key)
		if err != nil {
			decoded = key
		}
		if !trackingParams[strings.ToLower(decoded)] {
			kept = append(kept, pair)
		}
	}

	return strings.Join(kept, "&")
}
