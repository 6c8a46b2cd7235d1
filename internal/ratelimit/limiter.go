// Package ratelimit implements sliding-window admission control over a shared
// counter store. Counters live outside the process, so concurrent handlers
// (and separate replicas) all draw from the same per-client budget.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kolade-dev/shortlink/internal/errx"
)

// Class partitions traffic into independent budgets over a shared window.
type Class string

const (
	// ClassCreate guards alias creation, the tightest budget.
	ClassCreate Class = "create"
	// ClassAPI guards general API reads.
	ClassAPI Class = "api"
	// ClassRedirect guards redirect resolution. Redirects are the majority
	// traffic, so this budget is the loosest.
	ClassRedirect Class = "redirect"
)

// Default per-minute budgets.
const (
	DefaultWindow        = time.Minute
	DefaultCreateLimit   = 20
	DefaultAPILimit      = 100
	DefaultRedirectLimit = 300
)

// CounterStore is the shared counter capability the limiter coordinates
// through. Incr must apply the TTL atomically with the increment so windows
// self-expire; Get must report 0 for missing keys.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// Result is the outcome of an admission check. Remaining is already floored
// at 0, so it can go straight into response headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Config holds limiter configuration.
type Config struct {
	Window        time.Duration
	CreateLimit   int
	APILimit      int
	RedirectLimit int
}

// Limiter decides admission per (client identity, class) pair.
type Limiter struct {
	store   CounterStore
	window  time.Duration
	budgets map[Class]int
	now     func() time.Time
}

// New creates a Limiter. A nil config selects the defaults.
func New(store CounterStore, config *Config) *Limiter {
	if config == nil {
		config = &Config{}
	}

	window := config.Window
	if window <= 0 {
		window = DefaultWindow
	}

	budgets := map[Class]int{
		ClassCreate:   config.CreateLimit,
		ClassAPI:      config.APILimit,
		ClassRedirect: config.RedirectLimit,
	}
	if budgets[ClassCreate] <= 0 {
		budgets[ClassCreate] = DefaultCreateLimit
	}
	if budgets[ClassAPI] <= 0 {
		budgets[ClassAPI] = DefaultAPILimit
	}
	if budgets[ClassRedirect] <= 0 {
		budgets[ClassRedirect] = DefaultRedirectLimit
	}

	return &Limiter{
		store:   store,
		window:  window,
		budgets: budgets,
		now:     time.Now,
	}
}

// Admit performs one admission check, counting the request against the
// client's budget for the class.
//
// The window slides: the current bucket is incremented, and the previous
// bucket's count is weighted by how much of it still overlaps the rolling
// window. This smooths the burst-at-the-boundary artifact of fixed buckets.
//
// Store failure policy is fail-closed by propagation: a counter-store error
// is returned as errx.Unavailable and the request is never silently admitted.
func (l *Limiter) Admit(ctx context.Context, clientID string, class Class) (Result, error) {
	const op = "ratelimit.Admit"

	limit, ok := l.budgets[class]
	if !ok {
		return Result{}, errx.E(op, errx.Internal, fmt.Errorf("unknown rate limit class %q", class))
	}

	now := l.now()
	bucket := now.Truncate(l.window)

	// TTL of two windows keeps the previous bucket readable for the whole
	// sliding computation before it expires.
	curr, err := l.store.Incr(ctx, bucketKey(class, clientID, bucket), 2*l.window)
	if err != nil {
		return Result{}, errx.E(op, errx.Unavailable, fmt.Errorf("counter store increment: %w", err))
	}

	prev, err := l.store.Get(ctx, bucketKey(class, clientID, bucket.Add(-l.window)))
	if err != nil {
		return Result{}, errx.E(op, errx.Unavailable, fmt.Errorf("counter store read: %w", err))
	}

	overlap := 1 - float64(now.Sub(bucket))/float64(l.window)
	weighted := float64(prev)*overlap + float64(curr)

	remaining := limit - int(math.Ceil(weighted))
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   weighted <= float64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   bucket.Add(l.window),
	}, nil
}

// RetryAfter converts a window reset time into whole seconds for the
// Retry-After header, floored at 0.
func RetryAfter(resetAt, now time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 0 {
		return 0
	}
	return secs
}

func bucketKey(class Class, clientID string, bucket time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", class, clientID, bucket.Unix())
}
