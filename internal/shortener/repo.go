package shortener

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the persistence operations for Link entities. It
// abstracts the underlying store: unique-constrained inserts, point lookups
// by alias, atomic visit accounting, and listing support.
type Repository interface {
	CreateLink(ctx context.Context, link Link) (Link, error)
	GetLinkByShortID(ctx context.Context, shortID string) (Link, error)
	GetLinksByShortIDs(ctx context.Context, shortIDs []string) ([]Link, error)
	ShortIDExists(ctx context.Context, shortID string) (bool, error)
	RecordVisit(ctx context.Context, id uuid.UUID, at time.Time) error
	ListRecentLinks(ctx context.Context, limit int) ([]Link, error)
}
