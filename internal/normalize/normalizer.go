// Package normalize maps raw provider items into canonical article rows.
//
// Normalization owns the fallbacks (missing title, author, category and
// content), per-provider timestamp parsing, dimension resolution and the
// final url-keyed upsert. Everything upstream of it stays provider-shaped;
// everything downstream sees only canonical rows.
package normalize

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"newsriver/internal/news"
)

// Fallback values applied when a provider omits a field.
const (
	FallbackTitle    = "No Title"
	FallbackCategory = "General"
	FallbackAuthor   = "Unknown Author"
)

// EventTopic is the attribute name under which upserted articles are
// published for downstream consumers.
const EventTopic = "article.upserted"

// nytimesLayout covers the article search API's offset format, which carries
// no colon in the zone.
const nytimesLayout = "2006-01-02T15:04:05-0700"

// Normalizer implements news.Normalizer backed by the relational store.
// Dimension lookups hit the store's find-or-create upserts; resolved sources
// are cached per provider for the process lifetime.
type Normalizer struct {
	store     news.Store
	publisher news.Publisher
	clock     news.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	infos   map[news.ProviderType]news.Source
	sources map[news.ProviderType]news.Source
}

// New builds a Normalizer. infos carries each provider's source description
// (from the client's SourceInfo) so the source row can be resolved lazily.
// publisher may be nil to disable article events.
func New(store news.Store, publisher news.Publisher, clock news.Clock, infos map[news.ProviderType]news.Source, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		infos:     infos,
		sources:   make(map[news.ProviderType]news.Source),
	}
}

// Source resolves (and caches) the provider's source row.
func (n *Normalizer) Source(ctx context.Context, provider news.ProviderType) (news.Source, error) {
	n.mu.Lock()
	if src, ok := n.sources[provider]; ok {
		n.mu.Unlock()
		return src, nil
	}
	info, ok := n.infos[provider]
	n.mu.Unlock()
	if !ok {
		return news.Source{}, fmt.Errorf("no source info for provider %q", provider)
	}

	src, err := n.store.ResolveSource(ctx, info)
	if err != nil {
		return news.Source{}, err
	}

	n.mu.Lock()
	n.sources[provider] = src
	n.mu.Unlock()
	return src, nil
}

// Normalize implements news.Normalizer. The item's URL is the dedup key: an
// already-stored URL gets its fields refreshed in place, so Normalize is
// idempotent across overlapping runs.
func (n *Normalizer) Normalize(ctx context.Context, item news.RawItem, provider news.ProviderType, isHeadline bool) (news.Article, error) {
	if strings.TrimSpace(item.URL) == "" {
		return news.Article{}, fmt.Errorf("item has no url")
	}

	src, err := n.Source(ctx, provider)
	if err != nil {
		return news.Article{}, fmt.Errorf("resolve source: %w", err)
	}

	category, err := n.store.ResolveCategory(ctx, fallback(item.CategoryName, FallbackCategory))
	if err != nil {
		return news.Article{}, fmt.Errorf("resolve category: %w", err)
	}

	author, err := n.store.ResolveAuthor(ctx, fallback(item.AuthorName, FallbackAuthor), src.ID)
	if err != nil {
		return news.Article{}, fmt.Errorf("resolve author: %w", err)
	}

	article := news.Article{
		Title:       fallback(item.Title, FallbackTitle),
		Content:     fallback(item.Body, item.Summary),
		URL:         item.URL,
		ImageURL:    item.ImageURL,
		PublishedAt: n.publishedAt(item, provider),
		SourceID:    src.ID,
		CategoryID:  category.ID,
		AuthorID:    author.ID,
		IsHeadline:  isHeadline,
	}

	article, err = n.store.UpsertArticle(ctx, article)
	if err != nil {
		return news.Article{}, fmt.Errorf("upsert article: %w", err)
	}

	if n.publisher != nil {
		if _, err := n.publisher.Publish(ctx, EventTopic, article); err != nil {
			// Event delivery is best effort; the row is already durable.
			n.logger.Warn("article event publish failed",
				zap.String("url", article.URL),
				zap.Error(err),
			)
		}
	}
	return article, nil
}

// publishedAt parses the provider-native timestamp, normalized to UTC. An
// absent or malformed timestamp falls back to the ingestion time.
func (n *Normalizer) publishedAt(item news.RawItem, provider news.ProviderType) time.Time {
	raw := strings.TrimSpace(item.PublishedAt)
	if raw == "" {
		return n.clock.Now()
	}

	layout := time.RFC3339
	if provider == news.ProviderNYTimes {
		layout = nytimesLayout
	}
	ts, err := time.Parse(layout, raw)
	if err != nil {
		n.logger.Warn("unparseable published_at, using ingestion time",
			zap.String("provider", string(provider)),
			zap.String("value", raw),
		)
		return n.clock.Now()
	}
	return ts.UTC()
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
