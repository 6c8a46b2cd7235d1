package httpx

import (
	"net/http"

	"github.com/kolade-dev/shortlink/internal/errx"
)

// ErrorKindToStatus maps errx.Kind to HTTP status codes.
// Dependency failures (Unavailable) surface as 500: the backing stores are
// part of this service's contract, not an optional tier.
func ErrorKindToStatus(kind errx.Kind) int {
	switch kind {
	case errx.NotFound:
		return http.StatusNotFound
	case errx.Conflict:
		return http.StatusConflict
	case errx.Invalid:
		return http.StatusBadRequest
	case errx.Expired:
		return http.StatusGone
	case errx.RateLimited:
		return http.StatusTooManyRequests
	case errx.Exhausted, errx.Unavailable, errx.Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorKindToCode maps errx.Kind to machine-readable error codes for JSON
// responses. Codes are stable API surface; do not rename.
func ErrorKindToCode(kind errx.Kind) string {
	switch kind {
	case errx.NotFound:
		return "NOT_FOUND"
	case errx.Conflict:
		return "CONFLICT"
	case errx.Invalid:
		return "INVALID_REQUEST"
	case errx.Expired:
		return "LINK_EXPIRED"
	case errx.RateLimited:
		return "RATE_LIMIT_EXCEEDED"
	default:
		return "INTERNAL_ERROR"
	}
}
