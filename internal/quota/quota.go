// Package quota models per-provider request budgets: hard daily caps counted
// per calendar day, and fixed minimum intervals between requests.
package quota

import (
	"fmt"
	"time"

	"newsriver/internal/news"
)

// RatePolicy describes how a provider throttles outbound requests. A provider
// uses either a hard daily cap (checked against a QuotaTracker), a minimum
// inter-request interval (self-throttle), or neither.
type RatePolicy struct {
	// DailyCap is the hard per-day request limit; 0 disables the cap.
	DailyCap int
	// MinInterval is the fixed delay enforced between requests; 0 disables it.
	MinInterval time.Duration
}

// Default policies mirror the upstream API terms: NewsAPI free tier allows
// 100 requests/day; Guardian asks for ~1 req/s; NYTimes allows 5 req/min.
var (
	PolicyNewsAPI  = RatePolicy{DailyCap: 100}
	PolicyGuardian = RatePolicy{MinInterval: time.Second}
	PolicyNYTimes  = RatePolicy{MinInterval: 12 * time.Second}
)

// PolicyFor returns the default policy for a provider.
func PolicyFor(provider news.ProviderType) RatePolicy {
	switch provider {
	case news.ProviderNewsAPI:
		return PolicyNewsAPI
	case news.ProviderGuardian:
		return PolicyGuardian
	case news.ProviderNYTimes:
		return PolicyNYTimes
	}
	return RatePolicy{}
}

// DayKey renders the counter key for a (provider, calendar day) pair in the
// tracker's timezone.
func DayKey(provider news.ProviderType, day time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("quota:%s:%s", provider, day.In(loc).Format("2006-01-02"))
}

// EndOfDay returns the first instant of the next calendar day in loc, which
// is when the day's counter expires.
func EndOfDay(day time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
}
