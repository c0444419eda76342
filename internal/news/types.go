// Package news defines core types shared across the ingestion subsystems.
package news

import "time"

// ProviderType identifies one of the supported upstream news APIs.
type ProviderType string

// Supported providers.
const (
	ProviderNewsAPI  ProviderType = "newsapi"
	ProviderGuardian ProviderType = "guardian"
	ProviderNYTimes  ProviderType = "nytimes"
)

// Providers lists every supported provider in a stable order.
func Providers() []ProviderType {
	return []ProviderType{ProviderNewsAPI, ProviderGuardian, ProviderNYTimes}
}

// Valid reports whether p names a known provider.
func (p ProviderType) Valid() bool {
	switch p {
	case ProviderNewsAPI, ProviderGuardian, ProviderNYTimes:
		return true
	}
	return false
}

// Source is the dimension row describing one provider. Created once per
// provider via find-or-create; only the endpoint may change afterwards.
type Source struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	APIType     ProviderType `json:"api_type"`
	APIEndpoint string       `json:"api_endpoint"`
}

// Category is a dimension row keyed by name.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Author is a dimension row keyed by (name, source_id).
type Author struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	SourceID int64  `json:"source_id"`
}

// Article is the canonical article row. URL is globally unique and serves as
// the dedup key: re-ingesting the same URL updates fields in place.
type Article struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	SourceID    int64     `json:"source_id"`
	CategoryID  int64     `json:"category_id"`
	AuthorID    int64     `json:"author_id"`
	Views       int64     `json:"views"`
	IsHeadline  bool      `json:"is_headline"`
}

// RawItem carries one provider item with the provider's native field values
// already lifted out of its JSON shape. Fallbacks (missing title, author,
// category, content) and timestamp parsing are the normalizer's job.
type RawItem struct {
	URL          string
	Title        string
	Body         string
	Summary      string
	ImageURL     string
	AuthorName   string
	CategoryName string
	// PublishedAt is the provider-native timestamp string, parsed by the
	// normalizer using the provider's layout.
	PublishedAt string
}

// Page is one page of provider results in canonical form.
type Page struct {
	Items       []RawItem
	TotalPages  int
	CurrentPage int
	// Headlines marks pages fetched from a headline endpoint; articles on
	// such pages are flagged is_headline on upsert.
	Headlines bool
	// Dropped marks an empty page that stands in for a swallowed fetch
	// failure, as opposed to a genuinely exhausted result set. Callers stop
	// paginating either way; Dropped feeds the observability counter.
	Dropped bool
}

// RunStatus is the terminal state recorded for an ingestion run.
type RunStatus string

// Scrape log statuses.
const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// ScrapeLog is the append-only audit row written exactly once per run.
type ScrapeLog struct {
	ID            int64     `json:"id"`
	SourceID      int64     `json:"source_id"`
	Status        RunStatus `json:"status"`
	ArticlesAdded int       `json:"articles_added"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// RunStats aggregates the outcome of one orchestrated run.
type RunStats struct {
	ArticlesAdded  int
	PagesProcessed int
}

// ProgressFunc is invoked synchronously after each processed page.
type ProgressFunc func(pagesProcessed, totalPages, itemsInPage int)
