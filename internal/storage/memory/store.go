// Package memory provides an in-memory news.Store for tests and local runs
// without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"newsriver/internal/news"
)

// Store keeps all rows in maps guarded by one mutex. IDs are assigned from a
// single sequence to keep test assertions simple.
type Store struct {
	mu         sync.Mutex
	nextID     int64
	sources    map[news.ProviderType]news.Source
	categories map[string]news.Category
	authors    map[authorKey]news.Author
	articles   map[string]news.Article
	logs       []news.ScrapeLog
}

type authorKey struct {
	name     string
	sourceID int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		nextID:     1,
		sources:    make(map[news.ProviderType]news.Source),
		categories: make(map[string]news.Category),
		authors:    make(map[authorKey]news.Author),
		articles:   make(map[string]news.Article),
	}
}

func (s *Store) allocate() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// ResolveSource implements news.Store.
func (s *Store) ResolveSource(_ context.Context, src news.Source) (news.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sources[src.APIType]; ok {
		existing.Name = src.Name
		existing.APIEndpoint = src.APIEndpoint
		s.sources[src.APIType] = existing
		return existing, nil
	}
	src.ID = s.allocate()
	s.sources[src.APIType] = src
	return src, nil
}

// ResolveCategory implements news.Store.
func (s *Store) ResolveCategory(_ context.Context, name string) (news.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.categories[name]; ok {
		return existing, nil
	}
	cat := news.Category{ID: s.allocate(), Name: name}
	s.categories[name] = cat
	return cat, nil
}

// ResolveAuthor implements news.Store.
func (s *Store) ResolveAuthor(_ context.Context, name string, sourceID int64) (news.Author, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := authorKey{name: name, sourceID: sourceID}
	if existing, ok := s.authors[key]; ok {
		return existing, nil
	}
	author := news.Author{ID: s.allocate(), Name: name, SourceID: sourceID}
	s.authors[key] = author
	return author, nil
}

// UpsertArticle implements news.Store. Existing rows keep their ID and view
// counter; every other field follows the incoming article.
func (s *Store) UpsertArticle(_ context.Context, article news.Article) (news.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.articles[article.URL]; ok {
		article.ID = existing.ID
		article.Views = existing.Views
		s.articles[article.URL] = article
		return article, nil
	}
	article.ID = s.allocate()
	article.Views = 0
	s.articles[article.URL] = article
	return article, nil
}

// LatestPublishedAt implements news.Store.
func (s *Store) LatestPublishedAt(_ context.Context, apiType news.ProviderType) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[apiType]
	if !ok {
		return time.Time{}, false, nil
	}

	var latest time.Time
	found := false
	for _, art := range s.articles {
		if art.SourceID != src.ID {
			continue
		}
		if !found || art.PublishedAt.After(latest) {
			latest = art.PublishedAt
			found = true
		}
	}
	return latest, found, nil
}

// InsertScrapeLog implements news.Store.
func (s *Store) InsertScrapeLog(_ context.Context, entry news.ScrapeLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.allocate()
	s.logs = append(s.logs, entry)
	return nil
}

// ListScrapeLogs implements news.Store.
func (s *Store) ListScrapeLogs(_ context.Context, limit int) ([]news.ScrapeLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]news.ScrapeLog, len(s.logs))
	copy(out, s.logs)
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ArticleCount reports the number of stored articles.
func (s *Store) ArticleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.articles)
}

// ArticleByURL returns the stored article for a URL.
func (s *Store) ArticleByURL(url string) (news.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	art, ok := s.articles[url]
	return art, ok
}
