package upstream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sheetbridge/internal/metrics"
)

type budgetEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Budget is the token-scoped admission controller. All connector callers for
// one tenant token share the same limiter, across enrichers and across
// concurrent runs. Acquire blocks until a slot is available.
type Budget struct {
	mu          sync.Mutex
	entries     map[string]*budgetEntry
	lastCleanup time.Time

	calls  int
	window time.Duration
	ttl    time.Duration
}

// NewBudget allows calls successful requests per window for each token.
func NewBudget(calls int, window time.Duration) *Budget {
	if calls <= 0 {
		calls = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Budget{
		entries: make(map[string]*budgetEntry),
		calls:   calls,
		window:  window,
		ttl:     15 * time.Minute,
	}
}

// Acquire blocks until the token may issue one more upstream call, or until
// ctx is cancelled. This is the only permitted form of waiting inside the
// client.
func (b *Budget) Acquire(ctx context.Context, token string) error {
	lim := b.limiterFor(token)
	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	metrics.RateBudgetWait.Observe(time.Since(start).Seconds())
	return nil
}

func (b *Budget) limiterFor(token string) *rate.Limiter {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	// Periodic cleanup (amortized).
	if b.lastCleanup.IsZero() || now.Sub(b.lastCleanup) > time.Minute {
		for k, v := range b.entries {
			if now.Sub(v.lastSeen) > b.ttl {
				delete(b.entries, k)
			}
		}
		b.lastCleanup = now
	}

	ent := b.entries[token]
	if ent == nil {
		ent = &budgetEntry{
			limiter:  rate.NewLimiter(rate.Every(b.window/time.Duration(b.calls)), b.calls),
			lastSeen: now,
		}
		b.entries[token] = ent
	} else {
		ent.lastSeen = now
	}
	return ent.limiter
}
