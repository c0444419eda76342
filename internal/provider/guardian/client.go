// Package guardian implements the Guardian content API client.
package guardian

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
	pageSize   = 50
	searchPath = "/search"
	showFields = "byline,thumbnail,bodyText"
)

// Config holds the explicit client configuration.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	// RetryDelay overrides the fixed delay between transport retries;
	// tests set it near zero.
	RetryDelay time.Duration
}

// Client fetches Guardian search pages. Pagination is 1-based; the response
// reports its own total page count.
type Client struct {
	cfg    Config
	http   *provider.Requester
	gate   *provider.Gate
	logger *zap.Logger
}

// New constructs a Client. gate carries the 1s self-throttle policy.
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
	return news.ProviderGuardian
}

// SourceInfo implements news.Client.
func (c *Client) SourceInfo() news.Source {
	return news.Source{
		Name:        "The Guardian",
		APIType:     news.ProviderGuardian,
		APIEndpoint: c.cfg.Endpoint,
	}
}

// DayParams pins the query to a single calendar day.
func (c *Client) DayParams(day time.Time) url.Values {
	d := day.Format("2006-01-02")
	return url.Values{
		"from-date": {d},
		"to-date":   {d},
	}
}

// SinceParams bounds the query by the incremental watermark.
func (c *Client) SinceParams(since time.Time) url.Values {
	return url.Values{"from-date": {since.Format("2006-01-02")}}
}

type searchResponse struct {
	Response struct {
		CurrentPage int          `json:"currentPage"`
		Pages       int          `json:"pages"`
		Results     []searchItem `json:"results"`
	} `json:"response"`
}

type searchItem struct {
	WebURL             string `json:"webUrl"`
	WebTitle           string `json:"webTitle"`
	SectionName        string `json:"sectionName"`
	WebPublicationDate string `json:"webPublicationDate"`
	Fields             struct {
		Byline    string `json:"byline"`
		Thumbnail string `json:"thumbnail"`
		BodyText  string `json:"bodyText"`
	} `json:"fields"`
}

// FetchPage fetches one search page. Non-2xx statuses and transport failures
// that survive the retries degrade to an empty dropped page; only gate
// failures (context, quota) surface as errors.
func (c *Client) FetchPage(ctx context.Context, query url.Values, page int) (news.Page, error) {
	if err := c.gate.Allow(ctx); err != nil {
		return news.Page{}, err
	}

	params := news.MergeValues(url.Values{
		"api-key":     {c.cfg.APIKey},
		"page-size":   {strconv.Itoa(pageSize)},
		"order-by":    {"newest"},
		"show-fields": {showFields},
	}, query)
	params.Set("page", strconv.Itoa(page))

	status, body, err := c.http.Get(ctx, c.cfg.Endpoint+searchPath, params)
	if err != nil {
		c.logger.Error("guardian fetch failed", zap.Int("page", page), zap.Error(err))
		return news.Page{CurrentPage: page, Dropped: true}, nil
	}
	if status < 200 || status >= 300 {
		c.logger.Error("guardian request failed",
			zap.Int("page", page),
			zap.Int("status", status),
			zap.ByteString("body", provider.Truncate(body, 512)),
		)
		return news.Page{CurrentPage: page, Dropped: true}, nil
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		c.logger.Error("guardian response decode failed", zap.Int("page", page), zap.Error(err))
		return news.Page{CurrentPage: page, Dropped: true}, nil
	}

	items := make([]news.RawItem, 0, len(decoded.Response.Results))
	for _, res := range decoded.Response.Results {
		items = append(items, news.RawItem{
			URL:          res.WebURL,
			Title:        res.WebTitle,
			Body:         res.Fields.BodyText,
			ImageURL:     res.Fields.Thumbnail,
			AuthorName:   res.Fields.Byline,
			CategoryName: res.SectionName,
			PublishedAt:  res.WebPublicationDate,
		})
	}

	current := decoded.Response.CurrentPage
	if current == 0 {
		current = page
	}
	return news.Page{
		Items:       items,
		TotalPages:  decoded.Response.Pages,
		CurrentPage: current,
	}, nil
}
