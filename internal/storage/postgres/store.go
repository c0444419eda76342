// Package postgres provides the Postgres-backed article store.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"newsriver/internal/news"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements news.Store on a pgx connection pool. Dimension rows are
// resolved with single-statement upserts so concurrent runs never race the
// find-or-create.
type Store struct {
	pool querier
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables and indexes when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const resolveSourceSQL = `
INSERT INTO sources (name, api_type, api_endpoint)
VALUES ($1, $2, $3)
ON CONFLICT (api_type) DO UPDATE SET
	name = EXCLUDED.name,
	api_endpoint = EXCLUDED.api_endpoint
RETURNING id`

// ResolveSource finds or creates the provider's source row. The endpoint and
// display name follow the current configuration on conflict.
func (s *Store) ResolveSource(ctx context.Context, src news.Source) (news.Source, error) {
	if !src.APIType.Valid() {
		return news.Source{}, fmt.Errorf("resolve source: unknown api type %q", src.APIType)
	}
	err := s.pool.QueryRow(ctx, resolveSourceSQL, src.Name, src.APIType, src.APIEndpoint).Scan(&src.ID)
	if err != nil {
		return news.Source{}, fmt.Errorf("resolve source %s: %w", src.APIType, err)
	}
	return src, nil
}

const resolveCategorySQL = `
INSERT INTO categories (name)
VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`

// ResolveCategory finds or creates a category by name.
func (s *Store) ResolveCategory(ctx context.Context, name string) (news.Category, error) {
	if name == "" {
		return news.Category{}, fmt.Errorf("resolve category: name is required")
	}
	cat := news.Category{Name: name}
	if err := s.pool.QueryRow(ctx, resolveCategorySQL, name).Scan(&cat.ID); err != nil {
		return news.Category{}, fmt.Errorf("resolve category %q: %w", name, err)
	}
	return cat, nil
}

const resolveAuthorSQL = `
INSERT INTO authors (name, source_id)
VALUES ($1, $2)
ON CONFLICT (name, source_id) DO UPDATE SET name = EXCLUDED.name
RETURNING id`

// ResolveAuthor finds or creates an author scoped to its source.
func (s *Store) ResolveAuthor(ctx context.Context, name string, sourceID int64) (news.Author, error) {
	if name == "" {
		return news.Author{}, fmt.Errorf("resolve author: name is required")
	}
	author := news.Author{Name: name, SourceID: sourceID}
	if err := s.pool.QueryRow(ctx, resolveAuthorSQL, name, sourceID).Scan(&author.ID); err != nil {
		return news.Author{}, fmt.Errorf("resolve author %q: %w", name, err)
	}
	return author, nil
}

const upsertArticleSQL = `
INSERT INTO articles (
	title, content, url, image_url, published_at,
	source_id, category_id, author_id, is_headline
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	image_url = EXCLUDED.image_url,
	published_at = EXCLUDED.published_at,
	source_id = EXCLUDED.source_id,
	category_id = EXCLUDED.category_id,
	author_id = EXCLUDED.author_id,
	is_headline = EXCLUDED.is_headline
RETURNING id, views`

// UpsertArticle inserts the article or refreshes the existing row sharing its
// URL. The view counter is never touched on update.
func (s *Store) UpsertArticle(ctx context.Context, article news.Article) (news.Article, error) {
	if article.URL == "" {
		return news.Article{}, fmt.Errorf("upsert article: url is required")
	}
	err := s.pool.QueryRow(ctx, upsertArticleSQL,
		article.Title,
		article.Content,
		article.URL,
		article.ImageURL,
		article.PublishedAt,
		article.SourceID,
		article.CategoryID,
		article.AuthorID,
		article.IsHeadline,
	).Scan(&article.ID, &article.Views)
	if err != nil {
		return news.Article{}, fmt.Errorf("upsert article %s: %w", article.URL, err)
	}
	return article, nil
}

const latestPublishedAtSQL = `
SELECT MAX(a.published_at)
FROM articles a
JOIN sources s ON s.id = a.source_id
WHERE s.api_type = $1`

// LatestPublishedAt returns the incremental watermark for a provider.
func (s *Store) LatestPublishedAt(ctx context.Context, apiType news.ProviderType) (time.Time, bool, error) {
	var latest *time.Time
	if err := s.pool.QueryRow(ctx, latestPublishedAtSQL, apiType).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("latest published_at for %s: %w", apiType, err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

const insertScrapeLogSQL = `
INSERT INTO scrape_logs (
	source_id, status, articles_added, error_message, started_at, completed_at
)
VALUES ($1, $2, $3, $4, $5, $6)`

// InsertScrapeLog appends one audit row for a finished run.
func (s *Store) InsertScrapeLog(ctx context.Context, entry news.ScrapeLog) error {
	_, err := s.pool.Exec(ctx, insertScrapeLogSQL,
		entry.SourceID,
		entry.Status,
		entry.ArticlesAdded,
		entry.ErrorMessage,
		entry.StartedAt,
		entry.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert scrape log: %w", err)
	}
	return nil
}

const listScrapeLogsSQL = `
SELECT id, source_id, status, articles_added, error_message, started_at, completed_at
FROM scrape_logs
ORDER BY started_at DESC
LIMIT $1`

// ListScrapeLogs returns the most recent run records, newest first.
func (s *Store) ListScrapeLogs(ctx context.Context, limit int) ([]news.ScrapeLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, listScrapeLogsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list scrape logs: %w", err)
	}
	defer rows.Close()

	var logs []news.ScrapeLog
	for rows.Next() {
		var entry news.ScrapeLog
		if err := rows.Scan(
			&entry.ID,
			&entry.SourceID,
			&entry.Status,
			&entry.ArticlesAdded,
			&entry.ErrorMessage,
			&entry.StartedAt,
			&entry.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan scrape log: %w", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scrape logs: %w", err)
	}
	return logs, nil
}
