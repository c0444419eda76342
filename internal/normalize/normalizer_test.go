package normalize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsriver/internal/news"
	pubmem "newsriver/internal/publisher/memory"
	storemem "newsriver/internal/storage/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func testInfos() map[news.ProviderType]news.Source {
	return map[news.ProviderType]news.Source{
		news.ProviderGuardian: {Name: "The Guardian", APIType: news.ProviderGuardian, APIEndpoint: "https://content.guardianapis.com"},
		news.ProviderNYTimes:  {Name: "The New York Times", APIType: news.ProviderNYTimes, APIEndpoint: "https://api.nytimes.com/svc"},
		news.ProviderNewsAPI:  {Name: "NewsAPI", APIType: news.ProviderNewsAPI, APIEndpoint: "https://newsapi.org/v2"},
	}
}

func newTestNormalizer(t *testing.T) (*Normalizer, *storemem.Store, *pubmem.Publisher) {
	t.Helper()
	store := storemem.New()
	pub := pubmem.New()
	clock := fixedClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	return New(store, pub, clock, testInfos(), nil), store, pub
}

func TestNormalizeAppliesFallbacks(t *testing.T) {
	t.Parallel()

	n, store, pub := newTestNormalizer(t)

	article, err := n.Normalize(context.Background(), news.RawItem{
		URL:     "https://example.com/bare",
		Summary: "Only a description.",
	}, news.ProviderNewsAPI, false)
	require.NoError(t, err)

	assert.Equal(t, "No Title", article.Title)
	assert.Equal(t, "Only a description.", article.Content)
	assert.False(t, article.PublishedAt.IsZero())

	// The fallback dimensions must exist as real rows.
	cat, err := store.ResolveCategory(context.Background(), "General")
	require.NoError(t, err)
	assert.Equal(t, cat.ID, article.CategoryID)

	author, err := store.ResolveAuthor(context.Background(), "Unknown Author", article.SourceID)
	require.NoError(t, err)
	assert.Equal(t, author.ID, article.AuthorID)

	require.Equal(t, 1, pub.Len())
	assert.Equal(t, EventTopic, pub.Messages()[0].Topic)
}

func TestNormalizePrefersContentOverSummary(t *testing.T) {
	t.Parallel()

	n, _, _ := newTestNormalizer(t)

	article, err := n.Normalize(context.Background(), news.RawItem{
		URL:     "https://example.com/full",
		Body:    "Partial content.",
		Summary: "A description.",
	}, news.ProviderNewsAPI, false)
	require.NoError(t, err)
	assert.Equal(t, "Partial content.", article.Content)
}

func TestNormalizeParsesProviderTimestamps(t *testing.T) {
	t.Parallel()

	n, _, _ := newTestNormalizer(t)
	ctx := context.Background()

	guardian, err := n.Normalize(ctx, news.RawItem{
		URL:         "https://g/1",
		PublishedAt: "2026-08-29T10:15:00Z",
	}, news.ProviderGuardian, false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 29, 10, 15, 0, 0, time.UTC), guardian.PublishedAt)

	// NYTimes offsets carry no colon and normalize to UTC.
	nyt, err := n.Normalize(ctx, news.RawItem{
		URL:         "https://n/1",
		PublishedAt: "2026-08-29T08:00:00-0400",
	}, news.ProviderNYTimes, false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC), nyt.PublishedAt)
	assert.Equal(t, time.UTC, nyt.PublishedAt.Location())
}

func TestNormalizeMalformedTimestampUsesIngestionTime(t *testing.T) {
	t.Parallel()

	n, _, _ := newTestNormalizer(t)

	article, err := n.Normalize(context.Background(), news.RawItem{
		URL:         "https://example.com/bad-ts",
		PublishedAt: "yesterday-ish",
	}, news.ProviderGuardian, false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), article.PublishedAt)
}

func TestNormalizeIsIdempotentByURL(t *testing.T) {
	t.Parallel()

	n, store, _ := newTestNormalizer(t)
	ctx := context.Background()

	first, err := n.Normalize(ctx, news.RawItem{
		URL:   "https://example.com/a",
		Title: "First pass",
	}, news.ProviderGuardian, false)
	require.NoError(t, err)

	second, err := n.Normalize(ctx, news.RawItem{
		URL:   "https://example.com/a",
		Title: "Second pass",
	}, news.ProviderGuardian, true)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Second pass", second.Title)
	assert.True(t, second.IsHeadline)
	assert.Equal(t, 1, store.ArticleCount())
}

func TestNormalizeRejectsMissingURL(t *testing.T) {
	t.Parallel()

	n, _, pub := newTestNormalizer(t)

	_, err := n.Normalize(context.Background(), news.RawItem{Title: "No link"}, news.ProviderGuardian, false)
	require.Error(t, err)
	assert.Zero(t, pub.Len())
}

func TestSourceResolvedOncePerProvider(t *testing.T) {
	t.Parallel()

	n, _, _ := newTestNormalizer(t)
	ctx := context.Background()

	first, err := n.Source(ctx, news.ProviderGuardian)
	require.NoError(t, err)
	second, err := n.Source(ctx, news.ProviderGuardian)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = n.Source(ctx, news.ProviderType("rss"))
	require.Error(t, err)
}
