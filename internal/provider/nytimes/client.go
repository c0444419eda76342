// Package nytimes implements the NYTimes article search API client.
package nytimes

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
	searchPath = "/search/v2/articlesearch.json"
	// The article search API serves fixed pages of 10 documents; the total
	// page count is derived from the hit count by ceiling division.
	wirePageSize = 10

	imageHost = "https://www.nytimes.com/"

	fieldList = "web_url,headline,pub_date,byline,section_name,abstract,multimedia"
)

// Config holds the explicit client configuration.
type Config struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	RetryDelay time.Duration
}

// Client fetches NYTimes article search pages. The wire protocol is 0-based;
// FetchPage accepts the canonical 1-based page number and translates.
type Client struct {
	cfg    Config
	http   *provider.Requester
	gate   *provider.Gate
	logger *zap.Logger
}

// New constructs a Client. gate carries the 12s self-throttle policy
// (5 requests per minute upstream).
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
	return news.ProviderNYTimes
}

// SourceInfo implements news.Client.
func (c *Client) SourceInfo() news.Source {
	return news.Source{
		Name:        "The New York Times",
		APIType:     news.ProviderNYTimes,
		APIEndpoint: c.cfg.Endpoint,
	}
}

// DayParams pins the query to a single calendar day (YYYYMMDD).
func (c *Client) DayParams(day time.Time) url.Values {
	d := day.Format("20060102")
	return url.Values{
		"begin_date": {d},
		"end_date":   {d},
	}
}

// SinceParams bounds the query by the incremental watermark.
func (c *Client) SinceParams(since time.Time) url.Values {
	return url.Values{"begin_date": {since.Format("20060102")}}
}

type searchResponse struct {
	Response struct {
		Docs []searchDoc `json:"docs"`
		Meta struct {
			Hits int `json:"hits"`
		} `json:"meta"`
	} `json:"response"`
}

type searchDoc struct {
	WebURL   string `json:"web_url"`
	Abstract string `json:"abstract"`
	PubDate  string `json:"pub_date"`
	Section  string `json:"section_name"`
	Headline struct {
		Main string `json:"main"`
	} `json:"headline"`
	Byline struct {
		Original string `json:"original"`
	} `json:"byline"`
	Multimedia []multimedia `json:"multimedia"`
}

type multimedia struct {
	URL   string `json:"url"`
	Width int    `json:"width"`
}

// FetchPage fetches one search page. Non-2xx statuses and transport failures
// that survive the retries degrade to an empty dropped page.
func (c *Client) FetchPage(ctx context.Context, query url.Values, page int) (news.Page, error) {
	if err := c.gate.Allow(ctx); err != nil {
		return news.Page{}, err
	}

	params := news.MergeValues(url.Values{
		"api-key": {c.cfg.APIKey},
		"sort":    {"newest"},
		"fl":      {fieldList},
	}, query)
	params.Set("page", strconv.Itoa(page-1))

	status, body, err := c.http.Get(ctx, c.cfg.Endpoint+searchPath, params)
	if err != nil {
		c.logger.Error("nytimes fetch failed", zap.Int("page", page), zap.Error(err))
		return news.Page{CurrentPage: page, Dropped: true}, nil
	}
	if status < 200 || status >= 300 {
		c.logger.Error("nytimes request failed",
			zap.Int("page", page),
			zap.Int("status", status),
			zap.ByteString("body", provider.Truncate(body, 512)),
		)
		return news.Page{CurrentPage: page, Dropped: true}, nil
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		c.logger.Error("nytimes response decode failed", zap.Int("page", page), zap.Error(err))
		return news.Page{CurrentPage: page, Dropped: true}, nil
	}

	items := make([]news.RawItem, 0, len(decoded.Response.Docs))
	for _, doc := range decoded.Response.Docs {
		items = append(items, news.RawItem{
			URL:          doc.WebURL,
			Title:        doc.Headline.Main,
			Body:         doc.Abstract,
			ImageURL:     widestImage(doc.Multimedia),
			AuthorName:   doc.Byline.Original,
			CategoryName: doc.Section,
			PublishedAt:  doc.PubDate,
		})
	}

	hits := decoded.Response.Meta.Hits
	totalPages := (hits + wirePageSize - 1) / wirePageSize

	return news.Page{
		Items:       items,
		TotalPages:  totalPages,
		CurrentPage: page,
	}, nil
}

// widestImage picks the largest multimedia entry; asset URLs come back
// host-relative and need the site prefix.
func widestImage(media []multimedia) string {
	best := ""
	bestWidth := -1
	for _, m := range media {
		if m.URL != "" && m.Width > bestWidth {
			best = m.URL
			bestWidth = m.Width
		}
	}
	if best == "" {
		return ""
	}
	return imageHost + best
}
