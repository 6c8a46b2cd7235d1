package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kolade-dev/shortlink/internal/httpx"
)

// Require wraps a handler with admission control for the given class.
//
// X-RateLimit-* headers are set on every response so well-behaved clients can
// pace themselves before hitting the limit. Rejections carry the same values
// in the JSON body plus a computed retryAfter, per the API contract.
func (l *Limiter) Require(class Class, logger *slog.Logger) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := httpx.ClientIP(r)

			res, err := l.Admit(r.Context(), clientID, class)
			if err != nil {
				logger.ErrorContext(r.Context(), "rate limit check failed",
					"request_id", httpx.GetRequestID(r.Context()),
					"class", string(class),
					"error", err.Error(),
				)
				httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Unable to process this request at this time", nil)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retryAfter := RetryAfter(res.ResetAt, l.now())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				logger.WarnContext(r.Context(), "request rate limited",
					"request_id", httpx.GetRequestID(r.Context()),
					"class", string(class),
					"limit", res.Limit,
				)

				httpx.WriteError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
					"Too many requests. Please try again later.",
					map[string]any{
						"limit":      res.Limit,
						"remaining":  0,
						"reset":      res.ResetAt.UTC().Format(time.RFC3339),
						"retryAfter": retryAfter,
					})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
