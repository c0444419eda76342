package ingest

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsriver/internal/news"
	"newsriver/internal/normalize"
	"newsriver/internal/progress"
	storemem "newsriver/internal/storage/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Stage
	}
	return out
}

// scriptClient serves pre-scripted pages and records the queries it saw.
type scriptClient struct {
	provider news.ProviderType
	pages    map[int]news.Page
	errs     map[int]error
	queries  []url.Values
	fetched  []int
}

func (c *scriptClient) Provider() news.ProviderType { return c.provider }

func (c *scriptClient) SourceInfo() news.Source {
	return news.Source{Name: string(c.provider), APIType: c.provider}
}

func (c *scriptClient) FetchPage(_ context.Context, query url.Values, page int) (news.Page, error) {
	c.queries = append(c.queries, query)
	c.fetched = append(c.fetched, page)
	if err, ok := c.errs[page]; ok {
		return news.Page{}, err
	}
	return c.pages[page], nil
}

func (c *scriptClient) DayParams(day time.Time) url.Values {
	return url.Values{"from": {day.Format("2006-01-02")}}
}

func (c *scriptClient) SinceParams(since time.Time) url.Values {
	return url.Values{"since": {since.Format(time.RFC3339)}}
}

type headlineClient struct {
	scriptClient
	headlines news.Page
}

func (c *headlineClient) FetchHeadlines(_ context.Context, query url.Values) (news.Page, error) {
	c.queries = append(c.queries, query)
	return c.headlines, nil
}

func pageOf(page, total int, urls ...string) news.Page {
	items := make([]news.RawItem, len(urls))
	for i, u := range urls {
		items[i] = news.RawItem{URL: u, Title: fmt.Sprintf("Title %d", i)}
	}
	return news.Page{Items: items, TotalPages: total, CurrentPage: page}
}

func newTestOrchestrator(t *testing.T, client news.Client) (*Orchestrator, *storemem.Store, *recordingEmitter) {
	t.Helper()
	store := storemem.New()
	clock := fixedClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	infos := map[news.ProviderType]news.Source{
		client.Provider(): client.SourceInfo(),
	}
	norm := normalize.New(store, nil, clock, infos, nil)
	emitter := &recordingEmitter{}
	return New(client, norm, store, clock, emitter, nil), store, emitter
}

func TestRunBulkWalksAllPages(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		provider: news.ProviderGuardian,
		pages: map[int]news.Page{
			1: pageOf(1, 3, "https://g/1", "https://g/2"),
			2: pageOf(2, 3, "https://g/3"),
			3: pageOf(3, 3, "https://g/4"),
		},
	}
	o, store, emitter := newTestOrchestrator(t, client)

	var progressCalls int
	stats, err := o.RunBulk(context.Background(), RunInfo{ID: [16]byte{1}, Kind: "bulk"}, nil, 0, func(done, total, items int) {
		progressCalls++
		assert.Equal(t, 3, total)
	})
	require.NoError(t, err)

	assert.Equal(t, 4, stats.ArticlesAdded)
	assert.Equal(t, 3, stats.PagesProcessed)
	assert.Equal(t, []int{1, 2, 3}, client.fetched)
	assert.Equal(t, 3, progressCalls)
	assert.Equal(t, 4, store.ArticleCount())
	assert.Equal(t, []progress.Stage{progress.StagePageDone, progress.StagePageDone, progress.StagePageDone}, emitter.stages())
}

func TestRunBulkHonorsMaxPages(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		provider: news.ProviderGuardian,
		pages: map[int]news.Page{
			1: pageOf(1, 10, "https://g/1"),
			2: pageOf(2, 10, "https://g/2"),
		},
	}
	o, _, _ := newTestOrchestrator(t, client)

	var totals []int
	stats, err := o.RunBulk(context.Background(), RunInfo{ID: [16]byte{1}, Kind: "bulk"}, nil, 2, func(done, total, items int) {
		totals = append(totals, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PagesProcessed)
	assert.Equal(t, []int{1, 2}, client.fetched)
	// The callback always sees the provider-reported total, not the cap.
	assert.Equal(t, []int{10, 10}, totals)
}

func TestRunBulkEmptyFirstPage(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		provider: news.ProviderGuardian,
		pages:    map[int]news.Page{1: {TotalPages: 0, CurrentPage: 1}},
	}
	o, _, _ := newTestOrchestrator(t, client)

	stats, err := o.RunBulk(context.Background(), RunInfo{ID: [16]byte{1}, Kind: "bulk"}, nil, 0, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.ArticlesAdded)
	assert.Zero(t, stats.PagesProcessed)
}

func TestRunBulkStopsOnEmptyLaterPage(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		provider: news.ProviderGuardian,
		pages: map[int]news.Page{
			1: pageOf(1, 5, "https://g/1"),
			2: {TotalPages: 5, CurrentPage: 2},
		},
	}
	o, _, _ := newTestOrchestrator(t, client)

	stats, err := o.RunBulk(context.Background(), RunInfo{ID: [16]byte{1}, Kind: "bulk"}, nil, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PagesProcessed)
	assert.Equal(t, []int{1, 2}, client.fetched)
}

func TestRunBulkDroppedPageStopsAndEmits(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		provider: news.ProviderGuardian,
		pages: map[int]news.Page{
			1: pageOf(1, 5, "https://g/1"),
			2: {TotalPages: 5, CurrentPage: 2, Dropped: true},
		},
	}
	o, _, emitter := newTestOrchestrator(t, client)

	stats, err := o.RunBulk(context.Background(), RunInfo{ID: [16]byte{1}, Kind: "bulk"}, nil, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PagesProcessed)
	assert.Equal(t, []progress.Stage{progress.StagePageDone, progress.StagePageDropped}, emitter.stages())
}

func TestRunBulkContainsItemFailures(t *testing.T) {
	t.Parallel()

	page := pageOf(1, 1, "https://g/1", "https://g/2")
	// An item with no URL fails normalization and is skipped.
	page.Items = append(page.Items, news.RawItem{Title: "broken"})

	client := &scriptClient{
		provider: news.ProviderGuardian,
		pages:    map[int]news.Page{1: page},
	}
	o, store, _ := newTestOrchestrator(t, client)

	stats, err := o.RunBulk(context.Background(), RunInfo{ID: [16]byte{1}, Kind: "bulk"}, nil, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ArticlesAdded)
	assert.Equal(t, 1, stats.PagesProcessed)
	assert.Equal(t, 2, store.ArticleCount())
}

func TestRunBulkPropagatesFetchErrors(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		provider: news.ProviderNewsAPI,
		pages:    map[int]news.Page{1: pageOf(1, 3, "https://n/1")},
		errs:     map[int]error{2: &news.RateLimitedError{Provider: news.ProviderNewsAPI, Message: "slow down"}},
	}
	o, _, _ := newTestOrchestrator(t, client)

	stats, err := o.RunBulk(context.Background(), RunInfo{ID: [16]byte{1}, Kind: "bulk"}, nil, 0, nil)
	require.Error(t, err)
	var rateErr *news.RateLimitedError
	assert.ErrorAs(t, err, &rateErr)
	// Work done before the failure is preserved.
	assert.Equal(t, 1, stats.ArticlesAdded)
	assert.Equal(t, 1, stats.PagesProcessed)
}

func TestRunIncrementalUsesHeadlineEndpoint(t *testing.T) {
	t.Parallel()

	headlines := pageOf(1, 1, "https://n/top")
	headlines.Headlines = true
	client := &headlineClient{
		scriptClient: scriptClient{provider: news.ProviderNewsAPI},
		headlines:    headlines,
	}
	o, store, _ := newTestOrchestrator(t, client)

	stats, err := o.RunIncremental(context.Background(), RunInfo{ID: [16]byte{2}, Kind: "updates"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ArticlesAdded)

	art, ok := store.ArticleByURL("https://n/top")
	require.True(t, ok)
	assert.True(t, art.IsHeadline)
	// The search pager was never touched.
	assert.Empty(t, client.fetched)
}

func TestRunIncrementalUsesWatermark(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		provider: news.ProviderGuardian,
		pages:    map[int]news.Page{1: pageOf(1, 1, "https://g/new")},
	}
	o, store, _ := newTestOrchestrator(t, client)

	// Seed the watermark.
	ctx := context.Background()
	src, err := store.ResolveSource(ctx, client.SourceInfo())
	require.NoError(t, err)
	watermark := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)
	_, err = store.UpsertArticle(ctx, news.Article{URL: "https://g/old", SourceID: src.ID, PublishedAt: watermark})
	require.NoError(t, err)

	stats, err := o.RunIncremental(ctx, RunInfo{ID: [16]byte{2}, Kind: "updates"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ArticlesAdded)
	assert.Equal(t, 1, stats.PagesProcessed)

	require.Len(t, client.queries, 1)
	assert.Equal(t, watermark.Format(time.RFC3339), client.queries[0].Get("since"))
}

func TestRunIncrementalNoWatermarkFetchesUnbounded(t *testing.T) {
	t.Parallel()

	client := &scriptClient{
		provider: news.ProviderGuardian,
		pages:    map[int]news.Page{1: pageOf(1, 1, "https://g/first")},
	}
	o, _, _ := newTestOrchestrator(t, client)

	_, err := o.RunIncremental(context.Background(), RunInfo{ID: [16]byte{2}, Kind: "updates"}, nil)
	require.NoError(t, err)
	require.Len(t, client.queries, 1)
	assert.Empty(t, client.queries[0].Get("since"))
}
