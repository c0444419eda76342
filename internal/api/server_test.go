package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsriver/internal/dispatch"
	"newsriver/internal/ingest"
	"newsriver/internal/news"
	quotamem "newsriver/internal/quota/memory"
	storemem "newsriver/internal/storage/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type stubClient struct {
	provider news.ProviderType
}

func (c stubClient) Provider() news.ProviderType { return c.provider }

func (c stubClient) SourceInfo() news.Source {
	return news.Source{Name: string(c.provider), APIType: c.provider}
}

func (c stubClient) FetchPage(context.Context, url.Values, int) (news.Page, error) {
	return news.Page{}, nil
}

func (c stubClient) DayParams(day time.Time) url.Values {
	return url.Values{"day": {day.Format("2006-01-02")}}
}

func (c stubClient) SinceParams(since time.Time) url.Values {
	return url.Values{"since": {since.Format("2006-01-02")}}
}

type idleRunner struct {
	provider news.ProviderType
}

func (r idleRunner) Provider() news.ProviderType { return r.provider }

func (r idleRunner) RunBulk(context.Context, ingest.RunInfo, url.Values, int, news.ProgressFunc) (news.RunStats, error) {
	return news.RunStats{}, nil
}

func (r idleRunner) RunIncremental(context.Context, ingest.RunInfo, url.Values) (news.RunStats, error) {
	return news.RunStats{}, nil
}

func newTestServer(t *testing.T) (*Server, *storemem.Store, *quotamem.Tracker, *dispatch.Dispatcher) {
	t.Helper()
	store := storemem.New()
	tracker := quotamem.New(time.UTC)
	clock := fixedClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}

	providers := make(map[news.ProviderType]dispatch.Provider)
	for _, p := range news.Providers() {
		providers[p] = dispatch.Provider{
			Client: stubClient{provider: p},
			Runner: idleRunner{provider: p},
		}
	}
	// Workers are never started; requests stay queued for inspection.
	d := dispatch.New(dispatch.Config{QueueDepth: 16}, providers, store, clock, nil, nil, nil)

	srv := NewServer(d, store, tracker, clock, prometheus.NewRegistry(), nil)
	return srv, store, tracker, d
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSubmitBulkQueuesRunPerDay(t *testing.T) {
	t.Parallel()

	srv, _, _, d := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/v1/ingest/guardian/bulk",
		`{"from": "2026-08-27", "to": "2026-08-29", "query": "climate", "max_pages": 3}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		Provider string `json:"provider"`
		Runs     []struct {
			RunID string `json:"run_id"`
			Day   string `json:"day"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "guardian", resp.Provider)
	require.Len(t, resp.Runs, 3)
	assert.Equal(t, "2026-08-27", resp.Runs[0].Day)
	assert.Equal(t, "2026-08-29", resp.Runs[2].Day)

	depths := d.QueueDepths()
	assert.Equal(t, 3, depths["guardian-bulk"])
}

func TestSubmitBulkValidation(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/ingest/guardian/bulk", `{"from": "today"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/ingest/guardian/bulk", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/ingest/rss/bulk", `{"from": "2026-08-29"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/ingest/guardian/bulk",
		`{"from": "2026-08-29", "to": "2026-08-27"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitUpdate(t *testing.T) {
	t.Parallel()

	srv, _, _, d := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/v1/ingest/newsapi/update", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, 1, d.QueueDepths()["newsapi-updates"])
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	srv, store, _, _ := newTestServer(t)
	started := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertScrapeLog(context.Background(), news.ScrapeLog{
		SourceID:      1,
		Status:        news.RunSuccess,
		ArticlesAdded: 17,
		StartedAt:     started,
		CompletedAt:   started.Add(time.Minute),
	}))

	rec := doJSON(t, srv, http.MethodGet, "/v1/runs?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []struct {
			Status        string `json:"status"`
			ArticlesAdded int    `json:"articles_added"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, "success", resp.Runs[0].Status)
	assert.Equal(t, 17, resp.Runs[0].ArticlesAdded)

	rec = doJSON(t, srv, http.MethodGet, "/v1/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetQuota(t *testing.T) {
	t.Parallel()

	srv, _, tracker, _ := newTestServer(t)
	day := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		ok, err := tracker.TryReserve(context.Background(), news.ProviderNewsAPI, day, 100)
		require.NoError(t, err)
		require.True(t, ok)
	}

	rec := doJSON(t, srv, http.MethodGet, "/v1/quota/newsapi", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		DailyCap  int `json:"daily_cap"`
		Remaining int `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 100, resp.DailyCap)
	assert.Equal(t, 90, resp.Remaining)

	// Self-throttled providers expose the interval instead of a cap.
	rec = doJSON(t, srv, http.MethodGet, "/v1/quota/guardian", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var gresp struct {
		DailyCap           int     `json:"daily_cap"`
		MinIntervalSeconds float64 `json:"min_interval_seconds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gresp))
	assert.Zero(t, gresp.DailyCap)
	assert.Equal(t, 1.0, gresp.MinIntervalSeconds)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
