package httpx

import (
	"net/http"
	"strings"
)

// AnonymousClient is the shared identity bucket for requests whose origin
// cannot be determined. All such clients share one rate-limit budget.
const AnonymousClient = "anonymous"

// ClientIP derives the client identity from proxy headers: the first hop of
// X-Forwarded-For, then X-Real-IP, then CF-Connecting-IP. X-Forwarded-For is
// only meaningful behind a trusted proxy; unidentifiable clients collapse
// into the anonymous bucket.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	if cfIP := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}

	return AnonymousClient
}

// ClientCountry returns the coarse country code supplied by the fronting CDN,
// or empty when none is present.
func ClientCountry(r *http.Request) string {
	if cc := r.Header.Get("CF-IPCountry"); cc != "" {
		return cc
	}
	return r.Header.Get("X-Vercel-IP-Country")
}
