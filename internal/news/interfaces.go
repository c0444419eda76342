package news

import (
	"context"
	"net/url"
	"time"
)

// Client fetches one page of results from a provider, translating its
// pagination and response shape into the canonical Page form.
//
// FetchPage never returns an error for non-2xx responses or transport
// failures that survive its internal retries; those degrade to an empty page
// with TotalPages=0 so the orchestrator stops paginating. The exceptions are
// quota exhaustion (ErrQuotaExceeded) and upstream HTTP 429, which abort the
// attempt at the job level.
type Client interface {
	Provider() ProviderType
	// SourceInfo describes the provider's dimension row for find-or-create.
	SourceInfo() Source
	FetchPage(ctx context.Context, query url.Values, page int) (Page, error)
	// DayParams returns the provider's date-range parameters pinning the
	// query to a single calendar day.
	DayParams(day time.Time) url.Values
	// SinceParams returns the provider's date-filter parameter for the
	// incremental watermark.
	SinceParams(since time.Time) url.Values
}

// HeadlineClient is implemented by providers whose incremental updates come
// from a headline endpoint instead of a watermark-bounded search.
type HeadlineClient interface {
	FetchHeadlines(ctx context.Context, query url.Values) (Page, error)
}

// Store is the durable relational store for articles, dimension rows and the
// scrape log. Resolve* methods implement find-or-create on the natural key
// and must tolerate concurrent creation (insert, on conflict re-select).
type Store interface {
	ResolveSource(ctx context.Context, src Source) (Source, error)
	ResolveCategory(ctx context.Context, name string) (Category, error)
	ResolveAuthor(ctx context.Context, name string, sourceID int64) (Author, error)
	UpsertArticle(ctx context.Context, article Article) (Article, error)
	// LatestPublishedAt returns the most recent published_at among the
	// provider's articles, or ok=false when none exist.
	LatestPublishedAt(ctx context.Context, apiType ProviderType) (t time.Time, ok bool, err error)
	InsertScrapeLog(ctx context.Context, entry ScrapeLog) error
	ListScrapeLogs(ctx context.Context, limit int) ([]ScrapeLog, error)
}

// QuotaTracker counts requests per (provider, calendar day). TryReserve
// returns false without consuming when the counter has reached limit; the
// counter expires at the end of the day.
type QuotaTracker interface {
	TryReserve(ctx context.Context, provider ProviderType, day time.Time, limit int) (bool, error)
	Remaining(ctx context.Context, provider ProviderType, day time.Time, limit int) (int, error)
}

// Publisher pushes article events to downstream consumers (e.g. the search
// indexer). Failures are logged by callers, never fatal to a run.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Normalizer maps a raw provider item into an upserted Article.
type Normalizer interface {
	Normalize(ctx context.Context, item RawItem, provider ProviderType, isHeadline bool) (Article, error)
}

// MergeValues overlays b onto a copy of a. Used to fold watermark and day
// parameters into a caller-supplied query.
func MergeValues(a, b url.Values) url.Values {
	out := url.Values{}
	for k, vs := range a {
		out[k] = append([]string(nil), vs...)
	}
	for k, vs := range b {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
