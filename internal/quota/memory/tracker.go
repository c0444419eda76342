// Package memory provides an in-process quota tracker for tests and
// single-node deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"newsriver/internal/news"
	"newsriver/internal/quota"
)

// Tracker counts requests per (provider, day) key under a mutex. Stale day
// keys are pruned lazily on access, which matches the expire-at-midnight
// behavior of the distributed tracker.
type Tracker struct {
	mu     sync.Mutex
	counts map[string]int
	loc    *time.Location
}

// New creates a Tracker counting days in the given timezone.
func New(loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{
		counts: make(map[string]int),
		loc:    loc,
	}
}

// TryReserve increments the day's counter unless it has reached limit. It
// returns false without incrementing once the cap is hit.
func (t *Tracker) TryReserve(_ context.Context, provider news.ProviderType, day time.Time, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	key := quota.DayKey(provider, day, t.loc)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(provider, key)

	if t.counts[key] >= limit {
		return false, nil
	}
	t.counts[key]++
	return true, nil
}

// Remaining reports the unused budget for the day.
func (t *Tracker) Remaining(_ context.Context, provider news.ProviderType, day time.Time, limit int) (int, error) {
	key := quota.DayKey(provider, day, t.loc)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(provider, key)

	rem := limit - t.counts[key]
	if rem < 0 {
		rem = 0
	}
	return rem, nil
}

// prune drops counters for the provider that belong to other days.
func (t *Tracker) prune(provider news.ProviderType, current string) {
	prefix := quota.DayKey(provider, time.Time{}, t.loc)
	prefix = prefix[:len(prefix)-len("0001-01-01")]
	for key := range t.counts {
		if key != current && len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(t.counts, key)
		}
	}
}
