// Package redis implements the quota tracker on a shared Redis counter so
// concurrent workers across processes draw from the same daily budget.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"newsriver/internal/news"
	"newsriver/internal/quota"
)

// Tracker counts reservations with INCR and expires each day's key at the
// following midnight in the configured timezone.
type Tracker struct {
	client *redis.Client
	loc    *time.Location
}

// New creates a Tracker backed by the given client.
func New(client *redis.Client, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{client: client, loc: loc}
}

// TryReserve atomically increments the day's counter. If the increment lands
// over the limit the reservation is handed back with DECR so the counter
// still reflects accepted requests only.
func (t *Tracker) TryReserve(ctx context.Context, provider news.ProviderType, day time.Time, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	key := quota.DayKey(provider, day, t.loc)

	n, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incr quota counter: %w", err)
	}
	if n == 1 {
		if err := t.client.ExpireAt(ctx, key, quota.EndOfDay(day, t.loc)).Err(); err != nil {
			return false, fmt.Errorf("set quota counter expiry: %w", err)
		}
	}
	if n > int64(limit) {
		if err := t.client.Decr(ctx, key).Err(); err != nil {
			return false, fmt.Errorf("release quota reservation: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// Remaining reports the unused budget for the day.
func (t *Tracker) Remaining(ctx context.Context, provider news.ProviderType, day time.Time, limit int) (int, error) {
	key := quota.DayKey(provider, day, t.loc)

	n, err := t.client.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("get quota counter: %w", err)
	}
	rem := limit - n
	if rem < 0 {
		rem = 0
	}
	return rem, nil
}
