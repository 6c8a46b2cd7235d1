package shortener

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kolade-dev/shortlink/internal/errx"
	"github.com/kolade-dev/shortlink/internal/idgen"
)

// querier is the slice of pgxpool.Pool the repository needs; the seam keeps
// the repository mockable without a database.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repo struct {
	db  querier
	ids idgen.Generator
}

// RepositoryConfig holds configuration for the repository.
type RepositoryConfig struct {
	IDGenerator idgen.Generator
}

// NewRepository creates a Repository backed by Postgres.
func NewRepository(db querier, config *RepositoryConfig) Repository {
	if config == nil {
		config = &RepositoryConfig{}
	}

	// Default: UUID v7 (good for DB locality).
	if config.IDGenerator == nil {
		config.IDGenerator = idgen.NewV7()
	}

	return &repo{
		db:  db,
		ids: config.IDGenerator,
	}
}

const linkColumns = "id, short_id, long_url, clicks, created_at, last_access, expires_at"

func scanLink(row pgx.Row) (Link, error) {
	var link Link
	err := row.Scan(
		&link.ID,
		&link.ShortID,
		&link.LongURL,
		&link.Clicks,
		&link.CreatedAt,
		&link.LastAccess,
		&link.ExpiresAt,
	)
	return link, err
}

func mapRepoError(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errx.E(op, errx.NotFound, err)

	case isShortIDUniqueViolation(err):
		return errx.E(op, errx.Conflict, err)

	default:
		return errx.E(op, errx.Unavailable, err)
	}
}

func (r *repo) CreateLink(ctx context.Context, link Link) (Link, error) {
	const op = "shortener.repo.CreateLink"

	// Generate ID if not provided
	if link.ID == uuid.Nil {
		id, err := r.ids.Generate()
		if err != nil {
			return Link{}, errx.E(op, errx.Unavailable, err)
		}
		link.ID = id
	}

	query := `
		INSERT INTO links (id, short_id, long_url, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + linkColumns

	created, err := scanLink(r.db.QueryRow(ctx, query,
		link.ID,
		link.ShortID,
		link.LongURL,
		link.CreatedAt,
		link.ExpiresAt,
	))
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}

	return created, nil
}

func (r *repo) GetLinkByShortID(ctx context.Context, shortID string) (Link, error) {
	const op = "shortener.repo.GetLinkByShortID"

	query := "SELECT " + linkColumns + " FROM links WHERE short_id = $1"

	link, err := scanLink(r.db.QueryRow(ctx, query, shortID))
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	return link, nil
}

func (r *repo) GetLinksByShortIDs(ctx context.Context, shortIDs []string) ([]Link, error) {
	const op = "shortener.repo.GetLinksByShortIDs"

	if len(shortIDs) == 0 {
		return nil, nil
	}

	query := "SELECT " + linkColumns + " FROM links WHERE short_id = ANY($1)"

	rows, err := r.db.Query(ctx, query, shortIDs)
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, mapRepoError(op, err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, mapRepoError(op, err)
	}

	return links, nil
}

func (r *repo) ShortIDExists(ctx context.Context, shortID string) (bool, error) {
	const op = "shortener.repo.ShortIDExists"

	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM links WHERE short_id = $1)", shortID,
	).Scan(&exists)
	if err != nil {
		return false, mapRepoError(op, err)
	}
	return exists, nil
}

// RecordVisit atomically bumps the click counter and stamps the access time.
// Keyed by internal id so the alias lookup is not repeated.
func (r *repo) RecordVisit(ctx context.Context, id uuid.UUID, at time.Time) error {
	const op = "shortener.repo.RecordVisit"

	tag, err := r.db.Exec(ctx,
		"UPDATE links SET clicks = clicks + 1, last_access = $2 WHERE id = $1",
		id, at,
	)
	if err != nil {
		return mapRepoError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errx.E(op, errx.NotFound, errors.New("link vanished before visit was recorded"))
	}
	return nil
}

func (r *repo) ListRecentLinks(ctx context.Context, limit int) ([]Link, error) {
	const op = "shortener.repo.ListRecentLinks"

	query := "SELECT " + linkColumns + " FROM links ORDER BY created_at DESC LIMIT $1"

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, mapRepoError(op, err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, mapRepoError(op, err)
	}

	return links, nil
}
