package analytics

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kolade-dev/shortlink/internal/idgen"
)

// Store persists click events.
type Store interface {
	InsertClick(ctx context.Context, click Click) error
}

// execer is the slice of pgxpool.Pool the store needs; the seam keeps the
// store mockable without a database.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type pgxStore struct {
	db  execer
	ids idgen.Generator
}

// NewPgxStore creates a Store backed by Postgres. A nil generator defaults to
// UUID v7 (time-ordered inserts suit an append-only table).
func NewPgxStore(db execer, ids idgen.Generator) Store {
	if ids == nil {
		ids = idgen.NewV7()
	}
	return &pgxStore{db: db, ids: ids}
}

func (s *pgxStore) InsertClick(ctx context.Context, click Click) error {
	const op = "analytics.store.InsertClick"

	if click.ID == uuid.Nil {
		id, err := s.ids.Generate()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		click.ID = id
	}

	query := `
		INSERT INTO clicks (id, link_id, created_at, ip_hash, user_agent, referer, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.Exec(ctx, query,
		click.ID,
		click.LinkID,
		click.CreatedAt,
		click.IPHash,
		click.UserAgent,
		click.Referer,
		click.Country,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
