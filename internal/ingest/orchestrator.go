// Package ingest drives multi-page ingestion runs against one provider.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"newsriver/internal/logging"
	"newsriver/internal/news"
	"newsriver/internal/progress"
)

// Emitter receives progress events. *progress.Hub satisfies it; a nil
// emitter disables progress reporting.
type Emitter interface {
	Emit(evt progress.Event)
}

// RunInfo identifies the enclosing run for progress attribution.
type RunInfo struct {
	ID   [16]byte
	Kind string
}

// Orchestrator walks a provider's paginated results and feeds every item
// through normalization. Page fetch failures the client swallowed stop
// pagination without failing the run; item-level failures are logged and
// skipped so one bad item never sinks a page.
type Orchestrator struct {
	client     news.Client
	normalizer news.Normalizer
	store      news.Store
	clock      news.Clock
	emitter    Emitter
	logger     *zap.Logger
}

// New builds an Orchestrator for one provider client.
func New(client news.Client, normalizer news.Normalizer, store news.Store, clock news.Clock, emitter Emitter, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		client:     client,
		normalizer: normalizer,
		store:      store,
		clock:      clock,
		emitter:    emitter,
		logger:     logging.ForProvider(logger, string(client.Provider())),
	}
}

// Provider returns the provider this orchestrator serves.
func (o *Orchestrator) Provider() news.ProviderType {
	return o.client.Provider()
}

// RunBulk fetches up to maxPages pages for the given query and normalizes
// every item. maxPages <= 0 means all pages the provider reports. The
// returned stats cover work completed before any error.
func (o *Orchestrator) RunBulk(ctx context.Context, run RunInfo, query url.Values, maxPages int, onProgress news.ProgressFunc) (news.RunStats, error) {
	var stats news.RunStats

	first, err := o.client.FetchPage(ctx, query, 1)
	if err != nil {
		return stats, fmt.Errorf("fetch page 1: %w", err)
	}
	if first.Dropped {
		o.emitPage(run, first, 0)
		return stats, nil
	}
	if len(first.Items) == 0 {
		return stats, nil
	}

	pagesToProcess := first.TotalPages
	if maxPages > 0 && maxPages < pagesToProcess {
		pagesToProcess = maxPages
	}
	if pagesToProcess < 1 {
		pagesToProcess = 1
	}

	added := o.processPage(ctx, first)
	stats.ArticlesAdded += added
	stats.PagesProcessed++
	o.emitPage(run, first, added)
	if onProgress != nil {
		onProgress(stats.PagesProcessed, first.TotalPages, len(first.Items))
	}

	for pageNum := 2; pageNum <= pagesToProcess; pageNum++ {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("run canceled: %w", err)
		}

		page, err := o.client.FetchPage(ctx, query, pageNum)
		if err != nil {
			return stats, fmt.Errorf("fetch page %d: %w", pageNum, err)
		}
		if page.Dropped {
			o.emitPage(run, page, 0)
			break
		}
		if len(page.Items) == 0 {
			break
		}

		added := o.processPage(ctx, page)
		stats.ArticlesAdded += added
		stats.PagesProcessed++
		o.emitPage(run, page, added)
		if onProgress != nil {
			// The callback sees the provider-reported total, not the
			// maxPages-capped loop bound.
			onProgress(stats.PagesProcessed, first.TotalPages, len(page.Items))
		}
	}
	return stats, nil
}

// RunIncremental fetches a single page of the newest results. Providers with
// a headline endpoint use it; the rest bound the search by the stored
// watermark so only unseen publication times come back.
func (o *Orchestrator) RunIncremental(ctx context.Context, run RunInfo, query url.Values) (news.RunStats, error) {
	var stats news.RunStats
	var page news.Page
	var err error

	if hc, ok := o.client.(news.HeadlineClient); ok {
		page, err = hc.FetchHeadlines(ctx, query)
	} else {
		since, found, werr := o.store.LatestPublishedAt(ctx, o.client.Provider())
		if werr != nil {
			return stats, fmt.Errorf("load watermark: %w", werr)
		}
		if found {
			query = news.MergeValues(query, o.client.SinceParams(since))
		}
		page, err = o.client.FetchPage(ctx, query, 1)
	}
	if err != nil {
		return stats, fmt.Errorf("fetch updates: %w", err)
	}
	if page.Dropped {
		o.emitPage(run, page, 0)
		return stats, nil
	}
	if len(page.Items) == 0 {
		return stats, nil
	}

	added := o.processPage(ctx, page)
	stats.ArticlesAdded += added
	stats.PagesProcessed = 1
	o.emitPage(run, page, added)
	return stats, nil
}

// processPage normalizes every item on the page and returns how many made it
// into the store.
func (o *Orchestrator) processPage(ctx context.Context, page news.Page) int {
	provider := o.client.Provider()
	added := 0
	for _, item := range page.Items {
		if _, err := o.normalizer.Normalize(ctx, item, provider, page.Headlines); err != nil {
			o.logger.Warn("item skipped",
				zap.String("url", item.URL),
				zap.Int("page", page.CurrentPage),
				zap.Error(err),
			)
			continue
		}
		added++
	}
	return added
}

func (o *Orchestrator) emitPage(run RunInfo, page news.Page, added int) {
	if o.emitter == nil {
		return
	}
	stage := progress.StagePageDone
	if page.Dropped {
		stage = progress.StagePageDropped
	}
	o.emitter.Emit(progress.Event{
		RunID:      run.ID,
		TS:         o.now(),
		Stage:      stage,
		Provider:   string(o.client.Provider()),
		Kind:       run.Kind,
		Page:       page.CurrentPage,
		TotalPages: page.TotalPages,
		Items:      len(page.Items),
		Articles:   int64(added),
	})
}

func (o *Orchestrator) now() time.Time {
	if o.clock != nil {
		return o.clock.Now()
	}
	return time.Now().UTC()
}
