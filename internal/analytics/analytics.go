// Package analytics captures click events for resolved links.
//
// Everything here is best-effort by contract: a click event that fails to
// write must never affect the redirect response or the link's click counter.
// The counter is the authoritative usage signal; this log is detail.
package analytics

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxFieldLength caps user-agent and referer values before storage, bounding
// row size against unbounded request headers.
const MaxFieldLength = 255

// Click is one privacy-reduced analytics record. All metadata fields are
// independently optional; a missing value never blocks the write of the rest.
// The raw client IP never appears here, only its salted hash.
type Click struct {
	ID        uuid.UUID
	LinkID    uuid.UUID
	CreatedAt time.Time
	IPHash    *string
	UserAgent *string
	Referer   *string
	Country   *string
}

// Truncate caps a header-derived value at MaxFieldLength characters and
// converts empty strings to nil so they store as NULL. The cap counts runes,
// not bytes: cutting at a byte offset could split a multibyte rune and the
// database rejects invalid UTF-8.
func Truncate(s string) *string {
	if s == "" {
		return nil
	}
	if len(s) > MaxFieldLength && utf8.RuneCountInString(s) > MaxFieldLength {
		runes := []rune(s)
		s = string(runes[:MaxFieldLength])
	}
	return &s
}
