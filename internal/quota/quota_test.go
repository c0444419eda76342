package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsriver/internal/news"
)

func TestPolicyFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100, PolicyFor(news.ProviderNewsAPI).DailyCap)
	assert.Equal(t, time.Second, PolicyFor(news.ProviderGuardian).MinInterval)
	assert.Equal(t, 12*time.Second, PolicyFor(news.ProviderNYTimes).MinInterval)
	assert.Zero(t, PolicyFor(news.ProviderType("rss")))
}

func TestDayKeyUsesLocation(t *testing.T) {
	t.Parallel()

	// 2026-08-30 01:00 UTC is still 2026-08-29 in New York.
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	ts := time.Date(2026, 8, 30, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, "quota:newsapi:2026-08-30", DayKey(news.ProviderNewsAPI, ts, time.UTC))
	assert.Equal(t, "quota:newsapi:2026-08-29", DayKey(news.ProviderNewsAPI, ts, ny))
	assert.Equal(t, "quota:newsapi:2026-08-30", DayKey(news.ProviderNewsAPI, ts, nil))
}

func TestEndOfDay(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 8, 30, 15, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), EndOfDay(ts, time.UTC))

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 01:00 UTC on the 30th is evening of the 29th in New York; the counter
	// expires at New York midnight.
	early := time.Date(2026, 8, 30, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, ny), EndOfDay(early, ny))
}
