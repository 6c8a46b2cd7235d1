package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kolade-dev/shortlink/internal/analytics"
	"github.com/kolade-dev/shortlink/internal/errx"
	"github.com/kolade-dev/shortlink/internal/httpx"
	"github.com/kolade-dev/shortlink/internal/qr"
	"github.com/kolade-dev/shortlink/internal/urlcheck"
)

// HTTPCreateLinkRequest represents the JSON request body for creating a link.
type HTTPCreateLinkRequest struct {
	LongURL string `json:"longUrl"`
}

// CreateLinkResponse represents the JSON response for a created link.
type CreateLinkResponse struct {
	ShortID   string `json:"shortId"`
	ShortURL  string `json:"shortUrl"`
	LongURL   string `json:"longUrl"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt"`
}

// LinkStatsResponse represents the JSON stats payload for a single link.
type LinkStatsResponse struct {
	ShortID    string  `json:"shortId"`
	LongURL    string  `json:"longUrl"`
	Clicks     int64   `json:"clicks"`
	CreatedAt  string  `json:"createdAt"`
	LastAccess *string `json:"lastAccess"`
	ExpiresAt  string  `json:"expiresAt"`
	Status     string  `json:"status"`
}

// HTTPBatchStatsRequest represents the JSON request body for batch stats.
type HTTPBatchStatsRequest struct {
	ShortIDs []string `json:"shortIds"`
}

// BatchStatsResponse wraps per-alias stats keyed by short ID. Unknown or
// malformed aliases appear as error entries instead of failing the batch.
type BatchStatsResponse struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data"`
	Requested int            `json:"requested"`
	Found     int            `json:"found"`
}

// RecentLinksResponse represents the JSON response for the recent listing.
type RecentLinksResponse struct {
	Links []LinkStatsResponse `json:"links"`
	Count int                 `json:"count"`
}

// Handler provides HTTP handlers for the URL shortener service.
type Handler struct {
	service Service
	logger  *slog.Logger
	baseURL string
	ipSalt  string
	now     func() time.Time
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service Service
	Logger  *slog.Logger
	BaseURL string // Base URL for constructing short URLs (e.g., "https://sho.rt")
	IPSalt  string // Server-side salt for client fingerprints
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service: cfg.Service,
		logger:  logger,
		baseURL: cfg.BaseURL,
		ipSalt:  cfg.IPSalt,
		now:     time.Now,
	}
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		"request_id", httpx.GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	)
}

func (h *Handler) statsPayload(link Link, now time.Time) LinkStatsResponse {
	var lastAccess *string
	if link.LastAccess != nil {
		s := link.LastAccess.UTC().Format(time.RFC3339)
		lastAccess = &s
	}

	return LinkStatsResponse{
		ShortID:    link.ShortID,
		LongURL:    link.LongURL,
		Clicks:     link.Clicks,
		CreatedAt:  link.CreatedAt.UTC().Format(time.RFC3339),
		LastAccess: lastAccess,
		ExpiresAt:  link.ExpiresAt.UTC().Format(time.RFC3339),
		Status:     link.Status(now),
	}
}

// CreateLink handles POST /api/links.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	req, err := httpx.DecodeJSON[HTTPCreateLinkRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request",
			"error", err.Error(),
		)
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	link, err := h.service.Create(ctx, req.LongURL)
	if err != nil {
		h.writeServiceError(ctx, w, err, logger)
		return
	}

	logger.InfoContext(ctx, "link created",
		"link_id", link.ID.String(),
		"short_id", link.ShortID,
	)

	httpx.WriteJSON(w, http.StatusCreated, CreateLinkResponse{
		ShortID:   link.ShortID,
		ShortURL:  fmt.Sprintf("%s/s/%s", h.baseURL, link.ShortID),
		LongURL:   link.LongURL,
		CreatedAt: link.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: link.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Redirect handles GET /s/{shortId}. Successful resolutions answer with a
// permanent redirect; aggressive client-side caching of the Location is an
// accepted tradeoff over per-click revalidation.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	shortID := r.PathValue("shortId")

	longURL, err := h.service.Resolve(ctx, shortID, h.visitFrom(r))
	if err != nil {
		h.writeServiceError(ctx, w, err, logger.With("short_id", shortID))
		return
	}

	logger.InfoContext(ctx, "alias resolved",
		"short_id", shortID,
	)

	http.Redirect(w, r, longURL, http.StatusMovedPermanently)
}

// visitFrom assembles the privacy-reduced analytics metadata for a request.
// Unidentifiable clients get no fingerprint rather than a hash of the literal
// anonymous marker.
func (h *Handler) visitFrom(r *http.Request) Visit {
	var ipHash *string
	if ip := httpx.ClientIP(r); ip != httpx.AnonymousClient {
		hash := analytics.Fingerprint(ip, h.ipSalt)
		ipHash = &hash
	}

	return Visit{
		IPHash:    ipHash,
		UserAgent: analytics.Truncate(r.UserAgent()),
		Referer:   analytics.Truncate(r.Referer()),
		Country:   analytics.Truncate(httpx.ClientCountry(r)),
	}
}

// GetStats handles GET /api/links/{shortId}.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	shortID := r.PathValue("shortId")

	link, err := h.service.Stats(ctx, shortID)
	if err != nil {
		h.writeServiceError(ctx, w, err, logger.With("short_id", shortID))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.statsPayload(link, h.now()))
}

// BatchStats handles POST /api/links/batch-stats.
func (h *Handler) BatchStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	req, err := httpx.DecodeJSON[HTTPBatchStatsRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request",
			"error", err.Error(),
		)
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	found, err := h.service.BatchStats(ctx, req.ShortIDs)
	if err != nil {
		h.writeServiceError(ctx, w, err, logger)
		return
	}

	now := h.now()
	data := make(map[string]any, len(req.ShortIDs))
	for _, id := range req.ShortIDs {
		switch {
		case !ValidShortID(id):
			data[id] = map[string]string{"error": "INVALID_SHORT_ID"}
		default:
			link, ok := found[id]
			if !ok {
				data[id] = map[string]string{"error": "NOT_FOUND"}
				continue
			}
			data[id] = h.statsPayload(link, now)
		}
	}

	httpx.WriteJSON(w, http.StatusOK, BatchStatsResponse{
		Success:   true,
		Data:      data,
		Requested: len(req.ShortIDs),
		Found:     len(found),
	})
}

// ListRecent handles GET /api/links.
func (h *Handler) ListRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	links, err := h.service.Recent(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, err, logger)
		return
	}

	now := h.now()
	payload := make([]LinkStatsResponse, 0, len(links))
	for _, link := range links {
		payload = append(payload, h.statsPayload(link, now))
	}

	httpx.WriteJSON(w, http.StatusOK, RecentLinksResponse{
		Links: payload,
		Count: len(payload),
	})
}

// QRCode handles GET /api/links/{shortId}/qr. Existence check only; QR
// requests never count as clicks. The rendered bytes are a pure function of
// the inputs, so the response carries an immutable cache policy keyed by an
// ETag over the effective parameters.
func (h *Handler) QRCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	shortID := r.PathValue("shortId")

	format, err := qr.ParseFormat(r.URL.Query().Get("fmt"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_FORMAT", err.Error(), nil)
		return
	}
	size := clampQueryInt(r.URL.Query().Get("size"), qr.DefaultSize, qr.MinSize, qr.MaxSize)
	margin := clampQueryInt(r.URL.Query().Get("margin"), qr.DefaultMargin, qr.MinMargin, qr.MaxMargin)

	exists, err := h.service.Exists(ctx, shortID)
	if err != nil {
		h.writeServiceError(ctx, w, err, logger.With("short_id", shortID))
		return
	}
	if !exists {
		httpx.WriteError(w, http.StatusNotFound, "NOT_FOUND", "short link doesn't exist", nil)
		return
	}

	etag := fmt.Sprintf("%q", fmt.Sprintf("%s-%d-%d-%s", shortID, size, margin, format))
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	image, err := qr.Render(fmt.Sprintf("%s/s/%s", h.baseURL, shortID), qr.Options{
		Format: format,
		Size:   size,
		Margin: margin,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to render QR image",
			"short_id", shortID,
			"error", err.Error(),
		)
		httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Unable to render QR code at this time", nil)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=2592000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(image); err != nil {
		logger.WarnContext(ctx, "failed to write QR response", "error", err.Error())
	}
}

// etagMatches reports whether an If-None-Match header names etag. The header
// may list several comma-separated tags, each optionally weak (W/ prefix),
// and a bare * matches any current representation.
func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// clampQueryInt parses a numeric query value, falling back to def on absence
// or garbage, then clamps into [lo, hi].
func clampQueryInt(raw string, def, lo, hi int) int {
	v := def
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			v = parsed
		}
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// writeServiceError maps service errors to the uniform JSON envelope. URL
// validation failures keep their specific codes; everything else maps by
// error kind.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error, logger *slog.Logger) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind.String(),
		"operation", errx.OpOf(err),
	}

	status := httpx.ErrorKindToStatus(kind)
	code := httpx.ErrorKindToCode(kind)
	message := err.Error()

	var validationErr *urlcheck.ValidationError
	switch {
	case errors.As(err, &validationErr):
		code = validationErr.Code
		message = validationErr.Message

	case errors.Is(err, ErrInvalidShortID):
		code = "INVALID_SHORT_ID"
		message = ErrInvalidShortID.Error()

	case kind == errx.NotFound:
		message = "short link doesn't exist"

	case kind == errx.Expired:
		message = "This link has expired"
	}

	switch kind {
	case errx.Invalid, errx.NotFound, errx.Expired, errx.Conflict:
		logger.WarnContext(ctx, "request rejected", logAttrs...)

	default:
		logger.ErrorContext(ctx, "request failed", logAttrs...)
		// Internal failure detail stays out of the response body.
		message = "Something went wrong. Please try again."
	}

	httpx.WriteError(w, status, code, message, nil)
}
