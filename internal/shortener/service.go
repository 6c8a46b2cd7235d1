package shortener

import (
	"context"
	"errors"
	"time"

	"github.com/kolade-dev/shortlink/internal/analytics"
	"github.com/kolade-dev/shortlink/internal/errx"
	"github.com/kolade-dev/shortlink/internal/urlcheck"
	"github.com/kolade-dev/shortlink/sluggen"
)

const (
	DefaultShortIDLength = 7
	DefaultMaxRetries    = 5
	DefaultRetentionDays = 30

	// MaxBatchSize bounds a single batch-stats request.
	MaxBatchSize = 50

	// RecentLinksLimit is how many links the recent listing returns.
	RecentLinksLimit = 25
)

// ErrInvalidShortID rejects alias values that fail the shape gate before any
// storage lookup happens.
var ErrInvalidShortID = errors.New("short ID must be 5 to 12 characters (letters, digits, dash, underscore)")

// Visit carries the privacy-reduced request metadata attached to a
// resolution. Every field is optional; a zero Visit records a bare click.
type Visit struct {
	IPHash    *string
	UserAgent *string
	Referer   *string
	Country   *string
}

// ClickRecorder accepts click events without blocking. Satisfied by
// analytics.Recorder.
type ClickRecorder interface {
	Record(click analytics.Click)
}

// Service defines the business logic operations for URL shortening.
type Service interface {
	Create(ctx context.Context, longURL string) (Link, error)
	Resolve(ctx context.Context, shortID string, visit Visit) (string, error)
	Stats(ctx context.Context, shortID string) (Link, error)
	BatchStats(ctx context.Context, shortIDs []string) (map[string]Link, error)
	Exists(ctx context.Context, shortID string) (bool, error)
	Recent(ctx context.Context) ([]Link, error)
}

// service implements the Service interface.
type service struct {
	repo          Repository
	slugGenerator sluggen.Generator
	recorder      ClickRecorder
	shortIDLength int
	maxRetries    int
	retention     time.Duration
	now           func() time.Time
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	SlugGenerator sluggen.Generator
	Recorder      ClickRecorder // nil disables analytics capture
	ShortIDLength int
	MaxRetries    int // attempts when issuing a unique alias (default: 5)
	RetentionDays int
}

// NewService creates a new service instance.
func NewService(repo Repository, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{}
	}

	slugGen := config.SlugGenerator
	if slugGen == nil {
		slugGen = sluggen.NewBase62()
	}

	length := config.ShortIDLength
	if length <= 0 {
		length = DefaultShortIDLength
	}

	retries := config.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}

	retentionDays := config.RetentionDays
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	return &service{
		repo:          repo,
		slugGenerator: slugGen,
		recorder:      config.Recorder,
		shortIDLength: length,
		maxRetries:    retries,
		retention:     time.Duration(retentionDays) * 24 * time.Hour,
		now:           time.Now,
	}
}

// Create normalizes the destination and issues a unique alias for it. The
// unique constraint at insert time is the true arbiter under races; the
// existence check before each insert is an optimization. Each generate,
// check, insert cycle counts as one attempt against the retry bound.
func (s *service) Create(ctx context.Context, longURL string) (Link, error) {
	const op = "shortener.service.Create"

	normalized, err := urlcheck.Normalize(longURL)
	if err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	now := s.now().UTC()

	for range s.maxRetries {
		shortID, err := s.slugGenerator.Generate(s.shortIDLength)
		if err != nil {
			return Link{}, errx.E(op, errx.Unavailable, err)
		}

		exists, err := s.repo.ShortIDExists(ctx, shortID)
		if err != nil {
			return Link{}, errx.E(op, errx.KindOf(err), err)
		}
		if exists {
			continue
		}

		created, err := s.repo.CreateLink(ctx, Link{
			ShortID:   shortID,
			LongURL:   normalized,
			CreatedAt: now,
			ExpiresAt: now.Add(s.retention),
		})
		if err == nil {
			return created, nil
		}

		// A unique violation means another request reserved the candidate
		// between check and insert. Retry; fail on anything else.
		if errx.KindOf(err) != errx.Conflict {
			return Link{}, errx.E(op, errx.KindOf(err), err)
		}
	}

	return Link{}, errx.E(op, errx.Exhausted,
		errors.New("could not issue a unique short ID after retries"))
}

// Resolve runs the redirect state machine: NotFound and Expired are terminal
// with no mutation; an active link gets its visit recorded atomically, then a
// click event is enqueued without waiting, then the destination is returned.
// The analytics enqueue can neither block nor fail the redirect, and it never
// undoes the counter increment.
func (s *service) Resolve(ctx context.Context, shortID string, visit Visit) (string, error) {
	const op = "shortener.service.Resolve"

	if !ValidShortID(shortID) {
		return "", errx.E(op, errx.Invalid, ErrInvalidShortID)
	}

	link, err := s.repo.GetLinkByShortID(ctx, shortID)
	if err != nil {
		return "", errx.E(op, errx.KindOf(err), err)
	}

	now := s.now().UTC()
	if link.Expired(now) {
		return "", errx.E(op, errx.Expired, errors.New("link has expired"))
	}

	if err := s.repo.RecordVisit(ctx, link.ID, now); err != nil {
		return "", errx.E(op, errx.KindOf(err), err)
	}

	if s.recorder != nil {
		s.recorder.Record(analytics.Click{
			LinkID:    link.ID,
			CreatedAt: now,
			IPHash:    visit.IPHash,
			UserAgent: visit.UserAgent,
			Referer:   visit.Referer,
			Country:   visit.Country,
		})
	}

	return link.LongURL, nil
}

// Stats returns the link record for an alias. Expired links still report
// their frozen counters; status is derived by the caller at read time.
func (s *service) Stats(ctx context.Context, shortID string) (Link, error) {
	const op = "shortener.service.Stats"

	if !ValidShortID(shortID) {
		return Link{}, errx.E(op, errx.Invalid, ErrInvalidShortID)
	}

	link, err := s.repo.GetLinkByShortID(ctx, shortID)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}
	return link, nil
}

// BatchStats fetches stats for up to MaxBatchSize aliases in one query.
// Malformed or unknown aliases are simply absent from the result; the caller
// decides how to report them.
func (s *service) BatchStats(ctx context.Context, shortIDs []string) (map[string]Link, error) {
	const op = "shortener.service.BatchStats"

	if len(shortIDs) == 0 {
		return nil, errx.E(op, errx.Invalid, errors.New("shortIds cannot be empty"))
	}
	if len(shortIDs) > MaxBatchSize {
		return nil, errx.E(op, errx.Invalid,
			errors.New("too many short IDs in one batch (max 50)"))
	}

	lookup := make([]string, 0, len(shortIDs))
	for _, id := range shortIDs {
		if ValidShortID(id) {
			lookup = append(lookup, id)
		}
	}

	links, err := s.repo.GetLinksByShortIDs(ctx, lookup)
	if err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}

	found := make(map[string]Link, len(links))
	for _, link := range links {
		found[link.ShortID] = link
	}
	return found, nil
}

// Exists reports whether an alias is registered, without touching counters.
func (s *service) Exists(ctx context.Context, shortID string) (bool, error) {
	const op = "shortener.service.Exists"

	if !ValidShortID(shortID) {
		return false, errx.E(op, errx.Invalid, ErrInvalidShortID)
	}

	exists, err := s.repo.ShortIDExists(ctx, shortID)
	if err != nil {
		return false, errx.E(op, errx.KindOf(err), err)
	}
	return exists, nil
}

// Recent returns the newest links for listing purposes.
func (s *service) Recent(ctx context.Context) ([]Link, error) {
	const op = "shortener.service.Recent"

	links, err := s.repo.ListRecentLinks(ctx, RecentLinksLimit)
	if err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}
	return links, nil
}
