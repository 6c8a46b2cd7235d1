package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kolade-dev/shortlink/internal/analytics"
	"github.com/kolade-dev/shortlink/internal/ratelimit"
	"github.com/kolade-dev/shortlink/internal/shortener"
)

// testApp holds the application components for e2e testing
type testApp struct {
	dbPool   *pgxpool.Pool
	redis    *goredis.Client
	handler  *shortener.Handler
	service  shortener.Service
	limiter  *ratelimit.Limiter
	recorder *analytics.Recorder
	baseURL  string
	cleanup  func()
}

// setupTestApp creates a test application with real backing stores.
func setupTestApp(t *testing.T) *testApp {
	t.Helper()

	if os.Getenv("E2E") == "" {
		t.Skip("set E2E=1 to run container-backed tests")
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	dbPool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	if err := dbPool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	if err := runMigrations(ctx, dbPool); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	// Start Redis container for the shared counter store
	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	redisURL, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}
	redisOpts, err := goredis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("failed to parse redis URL: %v", err)
	}
	redisClient := goredis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}

	logger := setupTestLogger()

	recorder := analytics.NewRecorder(analytics.NewPgxStore(dbPool, nil), logger, nil)

	repo := shortener.NewRepository(dbPool, nil)
	svc := shortener.NewService(repo, &shortener.ServiceConfig{Recorder: recorder})

	baseURL := "http://localhost:8080"
	handler := shortener.NewHandler(shortener.HandlerConfig{
		Service: svc,
		Logger:  logger,
		BaseURL: baseURL,
		IPSalt:  "e2e-salt",
	})

	limiter := ratelimit.New(ratelimit.NewRedisCounter(redisClient), nil)

	cleanup := func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = recorder.Close(drainCtx)

		_ = redisClient.Close()
		dbPool.Close()
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate redis container: %v", err)
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate postgres container: %v", err)
		}
	}

	return &testApp{
		dbPool:   dbPool,
		redis:    redisClient,
		handler:  handler,
		service:  svc,
		limiter:  limiter,
		recorder: recorder,
		baseURL:  baseURL,
		cleanup:  cleanup,
	}
}

func (app *testApp) createLink(t *testing.T, longURL string) map[string]any {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"longUrl": longURL})
	req := httptest.NewRequest("POST", "/api/links", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	app.handler.CreateLink(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("failed to create link: status %d, body %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	return resp
}

func (app *testApp) resolve(shortID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/s/"+shortID, nil)
	req.SetPathValue("shortId", shortID)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rr := httptest.NewRecorder()
	app.handler.Redirect(rr, req)
	return rr
}

func (app *testApp) stats(shortID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/links/"+shortID, nil)
	req.SetPathValue("shortId", shortID)
	rr := httptest.NewRecorder()
	app.handler.GetStats(rr, req)
	return rr
}

func TestCreateAndResolve_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	created := app.createLink(t, "https://example.com/a?utm_source=x")

	if created["longUrl"] != "https://example.com/a" {
		t.Errorf("longUrl = %v, want tracking parameter stripped", created["longUrl"])
	}
	shortID, _ := created["shortId"].(string)
	if len(shortID) != shortener.DefaultShortIDLength {
		t.Fatalf("shortId = %q, want %d characters", shortID, shortener.DefaultShortIDLength)
	}

	createdAt, err := time.Parse(time.RFC3339, created["createdAt"].(string))
	if err != nil {
		t.Fatalf("createdAt is not RFC 3339: %v", err)
	}
	expiresAt, err := time.Parse(time.RFC3339, created["expiresAt"].(string))
	if err != nil {
		t.Fatalf("expiresAt is not RFC 3339: %v", err)
	}
	if got := expiresAt.Sub(createdAt); got != 30*24*time.Hour {
		t.Errorf("retention = %v, want 30 days", got)
	}

	// Resolve once: 301 to the stored destination.
	rr := app.resolve(shortID)
	if rr.Code != http.StatusMovedPermanently {
		t.Fatalf("resolve status = %d, want 301", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "https://example.com/a" {
		t.Errorf("Location = %q", loc)
	}

	// Stats reflect the visit: clicks=1, lastAccess set, status active.
	statsRR := app.stats(shortID)
	if statsRR.Code != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", statsRR.Code)
	}
	var stats map[string]any
	if err := json.NewDecoder(statsRR.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats["clicks"] != float64(1) {
		t.Errorf("clicks = %v, want 1", stats["clicks"])
	}
	if stats["lastAccess"] == nil {
		t.Error("lastAccess is null after a resolution")
	}
	if stats["status"] != "active" {
		t.Errorf("status = %v, want active", stats["status"])
	}
}

func TestResolveUnknownAndMalformed_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	if rr := app.resolve("zzzzzzz"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown alias status = %d, want 404", rr.Code)
	}
	if rr := app.resolve("ab"); rr.Code != http.StatusBadRequest {
		t.Errorf("malformed alias status = %d, want 400", rr.Code)
	}
}

func TestClickMonotonicity_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	created := app.createLink(t, "https://example.com/track")
	shortID := created["shortId"].(string)

	const resolvers = 10
	done := make(chan int, resolvers)
	for range resolvers {
		go func() {
			done <- app.resolve(shortID).Code
		}()
	}
	for range resolvers {
		if code := <-done; code != http.StatusMovedPermanently {
			t.Errorf("concurrent resolve status = %d, want 301", code)
		}
	}

	var clicks int64
	err := app.dbPool.QueryRow(context.Background(),
		"SELECT clicks FROM links WHERE short_id = $1", shortID,
	).Scan(&clicks)
	if err != nil {
		t.Fatalf("failed to read clicks: %v", err)
	}
	if clicks != resolvers {
		t.Errorf("clicks = %d, want exactly %d (no lost updates)", clicks, resolvers)
	}
}

func TestConcurrentCreation_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	const concurrency = 10
	ids := make(chan string, concurrency)
	for i := range concurrency {
		go func(i int) {
			created := app.createLink(t, fmt.Sprintf("https://example.com/concurrent-%d", i))
			ids <- created["shortId"].(string)
		}(i)
	}

	seen := make(map[string]bool)
	for range concurrency {
		id := <-ids
		if seen[id] {
			t.Errorf("duplicate shortId issued: %s", id)
		}
		seen[id] = true
	}
}

func TestExpiredLink_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	created := app.createLink(t, "https://example.com/expiring")
	shortID := created["shortId"].(string)

	// Force the link into the past.
	_, err := app.dbPool.Exec(context.Background(),
		"UPDATE links SET expires_at = now() - interval '1 hour' WHERE short_id = $1", shortID)
	if err != nil {
		t.Fatalf("failed to expire link: %v", err)
	}

	rr := app.resolve(shortID)
	if rr.Code != http.StatusGone {
		t.Fatalf("expired resolve status = %d, want 410", rr.Code)
	}

	// Counters stay frozen.
	var clicks int64
	if err := app.dbPool.QueryRow(context.Background(),
		"SELECT clicks FROM links WHERE short_id = $1", shortID,
	).Scan(&clicks); err != nil {
		t.Fatalf("failed to read clicks: %v", err)
	}
	if clicks != 0 {
		t.Errorf("clicks = %d after expired resolve, want 0", clicks)
	}

	// Stats still serve the record, marked expired.
	statsRR := app.stats(shortID)
	if statsRR.Code != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", statsRR.Code)
	}
	var stats map[string]any
	if err := json.NewDecoder(statsRR.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats["status"] != "expired" {
		t.Errorf("status = %v, want expired", stats["status"])
	}
}

func TestBatchStats_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	first := app.createLink(t, "https://example.com/batch-1")["shortId"].(string)
	second := app.createLink(t, "https://example.com/batch-2")["shortId"].(string)

	body, _ := json.Marshal(map[string]any{
		"shortIds": []string{first, second, "missing0"},
	})
	req := httptest.NewRequest("POST", "/api/links/batch-stats", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	app.handler.BatchStats(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("batch status = %d, want 200", rr.Code)
	}

	var resp struct {
		Success   bool                       `json:"success"`
		Data      map[string]json.RawMessage `json:"data"`
		Requested int                        `json:"requested"`
		Found     int                        `json:"found"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode batch response: %v", err)
	}
	if resp.Requested != 3 || resp.Found != 2 {
		t.Errorf("requested/found = %d/%d, want 3/2", resp.Requested, resp.Found)
	}
	if !bytes.Contains(resp.Data["missing0"], []byte("NOT_FOUND")) {
		t.Errorf("data[missing0] = %s, want NOT_FOUND entry", resp.Data["missing0"])
	}
}

func TestQRCode_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	shortID := app.createLink(t, "https://example.com/qr")["shortId"].(string)

	qrReq := func() *http.Request {
		req := httptest.NewRequest("GET", "/api/links/"+shortID+"/qr?fmt=png&size=256&margin=2", nil)
		req.SetPathValue("shortId", shortID)
		return req
	}

	first := httptest.NewRecorder()
	app.handler.QRCode(first, qrReq())
	if first.Code != http.StatusOK {
		t.Fatalf("qr status = %d, want 200", first.Code)
	}
	if ct := first.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	wantETag := fmt.Sprintf("%q", shortID+"-256-2-png")
	if etag := first.Header().Get("ETag"); etag != wantETag {
		t.Errorf("ETag = %q, want %q", etag, wantETag)
	}

	second := httptest.NewRecorder()
	app.handler.QRCode(second, qrReq())
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Error("repeat QR renders differ")
	}

	// QR requests never count as clicks.
	var clicks int64
	if err := app.dbPool.QueryRow(context.Background(),
		"SELECT clicks FROM links WHERE short_id = $1", shortID,
	).Scan(&clicks); err != nil {
		t.Fatalf("failed to read clicks: %v", err)
	}
	if clicks != 0 {
		t.Errorf("clicks = %d after QR requests, want 0", clicks)
	}
}

func TestRateLimit_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	// A tight budget against the real Redis counter store.
	limiter := ratelimit.New(ratelimit.NewRedisCounter(app.redis), &ratelimit.Config{
		Window:      10 * time.Second,
		CreateLimit: 3,
	})

	handled := 0
	h := limiter.Require(ratelimit.ClassCreate, setupTestLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			handled++
			w.WriteHeader(http.StatusNoContent)
		}))

	doRequest := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/links", nil)
		req.Header.Set("X-Real-IP", "198.51.100.9")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	for i := range 3 {
		if rr := doRequest(); rr.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d, want admitted", i+1, rr.Code)
		}
	}

	rr := doRequest()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("over-budget status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", rr.Header().Get("X-RateLimit-Remaining"))
	}
	if handled != 3 {
		t.Errorf("handler ran %d times, want 3", handled)
	}
}

// Helper functions

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationSQL, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, string(migrationSQL))
	return err
}

func setupTestLogger() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	})
	return slog.New(handler)
}
