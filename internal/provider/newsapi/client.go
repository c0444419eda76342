// Package newsapi implements the NewsAPI client.
//
// NewsAPI differs from the other providers in two ways: outbound calls draw
// from a hard daily quota instead of a fixed delay, and errors are noisier on
// purpose. Transport failures and upstream 429s propagate to the caller so
// the job envelope can back off, while other application errors degrade to an
// empty page like the rest of the fleet.
package newsapi

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"newsriver/internal/news"
	"newsriver/internal/provider"
)

const (
	everythingPath = "/everything"
	headlinesPath  = "/top-headlines"
	pageSize       = 100

	// defaultQuery keeps the everything endpoint broad enough to behave
	// like an unfiltered day feed.
	defaultQuery = `news OR "breaking news" OR "latest news" OR "top stories" OR +headlines OR current OR today`
)

// Config holds the explicit client configuration.
type Config struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	RetryDelay time.Duration
}

// Client fetches NewsAPI pages, quota-gated per request.
type Client struct {
	cfg    Config
	http   *provider.Requester
	gate   *provider.Gate
	logger *zap.Logger
}

// New constructs a Client. gate carries the daily-cap policy backed by the
// quota tracker.
func New(cfg Config, gate *provider.Gate, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   provider.NewRequester(cfg.Timeout, cfg.RetryDelay),
		gate:   gate,
		logger: logger,
	}
}

// Provider implements news.Client.
func (c *Client) Provider() news.ProviderType {
	return news.ProviderNewsAPI
}

// SourceInfo implements news.Client.
func (c *Client) SourceInfo() news.Source {
	return news.Source{
		Name:        "NewsAPI",
		APIType:     news.ProviderNewsAPI,
		APIEndpoint: c.cfg.Endpoint,
	}
}

// DayParams pins the query to a single calendar day.
func (c *Client) DayParams(day time.Time) url.Values {
	d := day.Format("2006-01-02")
	return url.Values{
		"from": {d},
		"to":   {d},
	}
}

// SinceParams bounds the query by the incremental watermark.
func (c *Client) SinceParams(since time.Time) url.Values {
	return url.Values{"from": {since.Format("2006-01-02")}}
}

type apiResponse struct {
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	TotalResults int       `json:"totalResults"`
	Articles     []apiItem `json:"articles"`
}

type apiItem struct {
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

// FetchPage fetches one page of the everything endpoint.
func (c *Client) FetchPage(ctx context.Context, query url.Values, page int) (news.Page, error) {
	params := news.MergeValues(url.Values{
		"sortBy": {"publishedAt"},
		"q":      {defaultQuery},
	}, query)
	params.Set("page", strconv.Itoa(page))

	return c.fetch(ctx, c.cfg.Endpoint+everythingPath, params, page, false)
}

// FetchHeadlines fetches the first page of the top-headlines endpoint.
// Articles on the returned page carry the headline flag through upsert.
func (c *Client) FetchHeadlines(ctx context.Context, query url.Values) (news.Page, error) {
	params := news.MergeValues(url.Values{
		"country":  {"us"},
		"language": {"en"},
	}, query)
	params.Set("page", "1")

	page, err := c.fetch(ctx, c.cfg.Endpoint+headlinesPath, params, 1, true)
	if err != nil {
		return news.Page{}, err
	}
	page.Headlines = true
	return page, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string, params url.Values, page int, headlines bool) (news.Page, error) {
	if err := c.gate.Allow(ctx); err != nil {
		return news.Page{}, err
	}

	params.Set("apiKey", c.cfg.APIKey)
	params.Set("pageSize", strconv.Itoa(pageSize))

	status, body, err := c.http.Get(ctx, endpoint, params)
	if err != nil {
		// Unlike the self-throttled providers, connection failures here
		// abort the attempt so the envelope's backoff applies.
		return news.Page{}, &news.TransportError{Provider: news.ProviderNewsAPI, Err: err}
	}

	var decoded apiResponse
	if status >= 200 && status < 300 {
		if err := json.Unmarshal(body, &decoded); err != nil {
			c.logger.Error("newsapi response decode failed", zap.Int("page", page), zap.Error(err))
			return news.Page{CurrentPage: page, Dropped: true}, nil
		}
		return c.toPage(decoded, page, headlines), nil
	}

	// Error payloads still carry a message field worth logging.
	_ = json.Unmarshal(body, &decoded)
	message := decoded.Message
	if message == "" {
		message = "unknown error"
	}
	c.logger.Error("newsapi request failed",
		zap.Int("page", page),
		zap.Int("status", status),
		zap.String("message", message),
	)
	if status == 429 {
		return news.Page{}, &news.RateLimitedError{Provider: news.ProviderNewsAPI, Message: message}
	}
	return news.Page{CurrentPage: page, Dropped: true}, nil
}

func (c *Client) toPage(decoded apiResponse, page int, headlines bool) news.Page {
	items := make([]news.RawItem, 0, len(decoded.Articles))
	for _, art := range decoded.Articles {
		items = append(items, news.RawItem{
			URL:         art.URL,
			Title:       art.Title,
			Body:        art.Content,
			Summary:     art.Description,
			ImageURL:    art.URLToImage,
			AuthorName:  art.Author,
			PublishedAt: art.PublishedAt,
		})
	}

	totalPages := (decoded.TotalResults + pageSize - 1) / pageSize
	if headlines {
		totalPages = 1
	}
	return news.Page{
		Items:       items,
		TotalPages:  totalPages,
		CurrentPage: page,
	}
}
