package shortener

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Lifecycle status values, derived from ExpiresAt at read time and never
// stored. ExpiresAt is the single source of truth.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// Link is the aliasing record. ShortID and LongURL are immutable once
// assigned; Clicks and LastAccess are mutated only by visit recording.
type Link struct {
	ID         uuid.UUID
	ShortID    string
	LongURL    string
	Clicks     int64
	CreatedAt  time.Time
	LastAccess *time.Time
	ExpiresAt  time.Time
}

// Status classifies the link's lifecycle state at the given instant.
func (l Link) Status(now time.Time) string {
	if l.Expired(now) {
		return StatusExpired
	}
	return StatusActive
}

// Expired reports whether the link's retention window has passed.
func (l Link) Expired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// shortIDShape gates lookups: alphanumeric plus dash and underscore, 5 to 12
// characters. Generated aliases are always 7 base62 characters, but lookups
// accept the wider historical shape.
var shortIDShape = regexp.MustCompile(`^[A-Za-z0-9_-]{5,12}$`)

// ValidShortID reports whether s has the shape of a public alias. Malformed
// values must be rejected before any storage lookup.
func ValidShortID(s string) bool {
	return shortIDShape.MatchString(s)
}
