package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kolade-dev/shortlink/internal/errx"
)

/***************
 * Fakes
 ***************/

// memCounter is an in-memory CounterStore with injectable failures.
type memCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	incrErr error
	getErr  error
}

func newMemCounter() *memCounter {
	return &memCounter{counts: make(map[string]int64)}
}

func (m *memCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if m.incrErr != nil {
		return 0, m.incrErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memCounter) Get(ctx context.Context, key string) (int64, error) {
	if m.getErr != nil {
		return 0, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key], nil
}

// fixedClock lets tests slide the window deterministically.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(store CounterStore, cfg *Config) (*Limiter, *fixedClock) {
	l := New(store, cfg)
	// Start exactly on a bucket boundary so the previous window has no weight.
	clock := &fixedClock{t: time.Unix(1_700_000_000, 0).Truncate(l.window)}
	l.now = clock.now
	return l, clock
}

/***************
 * Tests
 ***************/

func TestNew(t *testing.T) {
	t.Run("applies defaults for nil config", func(t *testing.T) {
		l := New(newMemCounter(), nil)
		if l.window != DefaultWindow {
			t.Errorf("window = %v, want %v", l.window, DefaultWindow)
		}
		if l.budgets[ClassCreate] != DefaultCreateLimit {
			t.Errorf("create budget = %d, want %d", l.budgets[ClassCreate], DefaultCreateLimit)
		}
		if l.budgets[ClassAPI] != DefaultAPILimit {
			t.Errorf("api budget = %d, want %d", l.budgets[ClassAPI], DefaultAPILimit)
		}
		if l.budgets[ClassRedirect] != DefaultRedirectLimit {
			t.Errorf("redirect budget = %d, want %d", l.budgets[ClassRedirect], DefaultRedirectLimit)
		}
	})

	t.Run("redirect budget is the loosest by default", func(t *testing.T) {
		l := New(newMemCounter(), nil)
		if !(l.budgets[ClassCreate] < l.budgets[ClassAPI] && l.budgets[ClassAPI] < l.budgets[ClassRedirect]) {
			t.Errorf("budgets not ordered create < api < redirect: %v", l.budgets)
		}
	})
}

func TestAdmit(t *testing.T) {
	t.Run("admits up to the budget then rejects", func(t *testing.T) {
		const budget = 5
		l, _ := newTestLimiter(newMemCounter(), &Config{CreateLimit: budget})
		ctx := context.Background()

		for i := 1; i <= budget; i++ {
			res, err := l.Admit(ctx, "203.0.113.7", ClassCreate)
			if err != nil {
				t.Fatalf("Admit() #%d unexpected error: %v", i, err)
			}
			if !res.Allowed {
				t.Fatalf("Admit() #%d rejected, want allowed", i)
			}
			if res.Limit != budget {
				t.Errorf("Limit = %d, want %d", res.Limit, budget)
			}
			if want := budget - i; res.Remaining != want {
				t.Errorf("Remaining after #%d = %d, want %d", i, res.Remaining, want)
			}
		}

		res, err := l.Admit(ctx, "203.0.113.7", ClassCreate)
		if err != nil {
			t.Fatalf("Admit() unexpected error: %v", err)
		}
		if res.Allowed {
			t.Errorf("request %d within window should be rejected", budget+1)
		}
		if res.Remaining != 0 {
			t.Errorf("Remaining on rejection = %d, want 0", res.Remaining)
		}
	})

	t.Run("admission resumes after the window elapses", func(t *testing.T) {
		const budget = 3
		l, clock := newTestLimiter(newMemCounter(), &Config{APILimit: budget})
		ctx := context.Background()

		for i := 0; i < budget+1; i++ {
			if _, err := l.Admit(ctx, "client-a", ClassAPI); err != nil {
				t.Fatalf("Admit() unexpected error: %v", err)
			}
		}

		// Two full windows later the old bucket carries no weight at all.
		clock.advance(2 * l.window)

		res, err := l.Admit(ctx, "client-a", ClassAPI)
		if err != nil {
			t.Fatalf("Admit() unexpected error: %v", err)
		}
		if !res.Allowed {
			t.Error("admission should resume once the window has elapsed")
		}
	})

	t.Run("previous window weighs into the new bucket", func(t *testing.T) {
		const budget = 10
		l, clock := newTestLimiter(newMemCounter(), &Config{APILimit: budget})
		ctx := context.Background()

		// Exhaust the budget in the first bucket.
		for i := 0; i < budget; i++ {
			if _, err := l.Admit(ctx, "client-b", ClassAPI); err != nil {
				t.Fatalf("Admit() unexpected error: %v", err)
			}
		}

		// Just past the boundary the previous bucket still weighs ~100%,
		// so the next request must be rejected (no fixed-window edge burst).
		clock.advance(l.window + time.Second)
		res, err := l.Admit(ctx, "client-b", ClassAPI)
		if err != nil {
			t.Fatalf("Admit() unexpected error: %v", err)
		}
		if res.Allowed {
			t.Error("request at window boundary should still count the previous bucket")
		}

		// Mid-window the previous bucket weighs ~50%: 10*0.5 + 1 = 6 <= 10.
		clock.advance(l.window/2 - time.Second)
		res, err = l.Admit(ctx, "client-b", ClassAPI)
		if err != nil {
			t.Fatalf("Admit() unexpected error: %v", err)
		}
		if !res.Allowed {
			t.Error("mid-window request should be admitted once the overlap decays")
		}
	})

	t.Run("classes have independent budgets", func(t *testing.T) {
		l, _ := newTestLimiter(newMemCounter(), &Config{CreateLimit: 1, RedirectLimit: 5})
		ctx := context.Background()

		if _, err := l.Admit(ctx, "client-c", ClassCreate); err != nil {
			t.Fatalf("Admit() unexpected error: %v", err)
		}
		res, err := l.Admit(ctx, "client-c", ClassCreate)
		if err != nil {
			t.Fatalf("Admit() unexpected error: %v", err)
		}
		if res.Allowed {
			t.Error("create budget should be exhausted")
		}

		res, err = l.Admit(ctx, "client-c", ClassRedirect)
		if err != nil {
			t.Fatalf("Admit() unexpected error: %v", err)
		}
		if !res.Allowed {
			t.Error("redirect class should be unaffected by create exhaustion")
		}
	})

	t.Run("client identities have independent budgets", func(t *testing.T) {
		l, _ := newTestLimiter(newMemCounter(), &Config{CreateLimit: 1})
		ctx := context.Background()

		if _, err := l.Admit(ctx, "client-d", ClassCreate); err != nil {
			t.Fatalf("Admit() unexpected error: %v", err)
		}

		res, err := l.Admit(ctx, "client-e", ClassCreate)
		if err != nil {
			t.Fatalf("Admit() unexpected error: %v", err)
		}
		if !res.Allowed {
			t.Error("a different client should have its own budget")
		}
	})

	t.Run("fails closed when the counter store is down", func(t *testing.T) {
		store := newMemCounter()
		store.incrErr = errors.New("connection refused")
		l, _ := newTestLimiter(store, nil)

		_, err := l.Admit(context.Background(), "client-f", ClassAPI)
		if err == nil {
			t.Fatal("Admit() expected error when store is unreachable")
		}
		if kind := errx.KindOf(err); kind != errx.Unavailable {
			t.Errorf("error kind = %v, want Unavailable", kind)
		}
	})

	t.Run("fails closed when the previous bucket read fails", func(t *testing.T) {
		store := newMemCounter()
		store.getErr = errors.New("connection reset")
		l, _ := newTestLimiter(store, nil)

		_, err := l.Admit(context.Background(), "client-g", ClassAPI)
		if err == nil {
			t.Fatal("Admit() expected error when store read fails")
		}
		if kind := errx.KindOf(err); kind != errx.Unavailable {
			t.Errorf("error kind = %v, want Unavailable", kind)
		}
	})

	t.Run("rejects unknown class", func(t *testing.T) {
		l, _ := newTestLimiter(newMemCounter(), nil)

		_, err := l.Admit(context.Background(), "client-h", Class("bulk"))
		if err == nil {
			t.Fatal("Admit() expected error for unknown class")
		}
		if kind := errx.KindOf(err); kind != errx.Internal {
			t.Errorf("error kind = %v, want Internal", kind)
		}
	})

	t.Run("reset time is the end of the current bucket", func(t *testing.T) {
		l, clock := newTestLimiter(newMemCounter(), nil)
		clock.advance(17 * time.Second)

		res, err := l.Admit(context.Background(), "client-i", ClassAPI)
		if err != nil {
			t.Fatalf("Admit() unexpected error: %v", err)
		}

		want := clock.now().Truncate(l.window).Add(l.window)
		if !res.ResetAt.Equal(want) {
			t.Errorf("ResetAt = %v, want %v", res.ResetAt, want)
		}
	})
}

func TestRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name    string
		resetAt time.Time
		want    int
	}{
		{"rounds up partial seconds", now.Add(1500 * time.Millisecond), 2},
		{"exact seconds unchanged", now.Add(30 * time.Second), 30},
		{"past reset floors to zero", now.Add(-5 * time.Second), 0},
		{"zero duration", now, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryAfter(tt.resetAt, now); got != tt.want {
				t.Errorf("RetryAfter() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAdmitConcurrent(t *testing.T) {
	// N concurrent admission checks against one identity must consume exactly
	// N increments; the store's atomicity is the only coordination.
	const workers = 50
	store := newMemCounter()
	l, _ := newTestLimiter(store, &Config{APILimit: workers})

	var wg sync.WaitGroup
	allowed := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Admit(context.Background(), "shared-client", ClassAPI)
			if err != nil {
				t.Errorf("Admit() unexpected error: %v", err)
				return
			}
			allowed <- res.Allowed
		}()
	}

	wg.Wait()
	close(allowed)

	admitted := 0
	for ok := range allowed {
		if ok {
			admitted++
		}
	}
	if admitted != workers {
		t.Errorf("admitted %d of %d requests at exactly the budget", admitted, workers)
	}

	res, err := l.Admit(context.Background(), "shared-client", ClassAPI)
	if err != nil {
		t.Fatalf("Admit() unexpected error: %v", err)
	}
	if res.Allowed {
		t.Error("request beyond the budget should be rejected")
	}
}
