package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsriver/internal/news"
)

func TestResolveSourceIsIdempotent(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()

	first, err := store.ResolveSource(ctx, news.Source{Name: "NewsAPI", APIType: news.ProviderNewsAPI, APIEndpoint: "https://newsapi.org/v2"})
	require.NoError(t, err)

	second, err := store.ResolveSource(ctx, news.Source{Name: "NewsAPI", APIType: news.ProviderNewsAPI, APIEndpoint: "https://newsapi.org/v2-next"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "https://newsapi.org/v2-next", second.APIEndpoint)
}

func TestUpsertArticleKeepsIDAndViews(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()

	first, err := store.UpsertArticle(ctx, news.Article{
		Title: "Original title",
		URL:   "https://example.com/a",
	})
	require.NoError(t, err)

	// Simulate accumulated views, then re-ingest the same URL.
	store.mu.Lock()
	art := store.articles[first.URL]
	art.Views = 12
	store.articles[first.URL] = art
	store.mu.Unlock()

	second, err := store.UpsertArticle(ctx, news.Article{
		Title: "Updated title",
		URL:   "https://example.com/a",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(12), second.Views)
	assert.Equal(t, "Updated title", second.Title)
	assert.Equal(t, 1, store.ArticleCount())
}

func TestLatestPublishedAtPerProvider(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()

	guardian, err := store.ResolveSource(ctx, news.Source{Name: "The Guardian", APIType: news.ProviderGuardian})
	require.NoError(t, err)
	nytimes, err := store.ResolveSource(ctx, news.Source{Name: "The New York Times", APIType: news.ProviderNYTimes})
	require.NoError(t, err)

	older := time.Date(2026, 8, 27, 8, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC)

	_, err = store.UpsertArticle(ctx, news.Article{URL: "https://g/1", SourceID: guardian.ID, PublishedAt: older})
	require.NoError(t, err)
	_, err = store.UpsertArticle(ctx, news.Article{URL: "https://g/2", SourceID: guardian.ID, PublishedAt: newer})
	require.NoError(t, err)

	got, ok, err := store.LatestPublishedAt(ctx, news.ProviderGuardian)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, newer, got)

	_, ok, err = store.LatestPublishedAt(ctx, nytimes.APIType)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListScrapeLogsNewestFirst(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()

	base := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertScrapeLog(ctx, news.ScrapeLog{
			SourceID:  1,
			Status:    news.RunSuccess,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	logs, err := store.ListScrapeLogs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].StartedAt.After(logs[1].StartedAt))
}
