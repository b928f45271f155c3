package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorderObserveFeed(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveFeed(FeedOutcomeGenerated, 10*time.Millisecond)
	rec.ObserveFeed(FeedOutcomeCached, time.Millisecond)
	rec.ObserveFeed(FeedOutcomeCached, time.Millisecond)

	count, err := testutil.GatherAndCount(rec.Gatherer(), "helparr_feed_requests_total")
	require.NoError(t, err)
	require.Equal(t, 2, count) // two label sets

	expected := `
# HELP helparr_feed_requests_total Feed generations grouped by production outcome.
# TYPE helparr_feed_requests_total counter
helparr_feed_requests_total{outcome="cached"} 2
helparr_feed_requests_total{outcome="generated"} 1
`
	require.NoError(t, testutil.GatherAndCompare(rec.Gatherer(), strings.NewReader(expected), "helparr_feed_requests_total"))
}

func TestRecorderObserveRequestAndRateLimit(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveRequest("/feed/{tenant}/movies.xml", "GET", 200, 5*time.Millisecond)
	rec.ObserveRateLimited("/feed/{tenant}/movies.xml")
	rec.ObserveConditional("not_modified")
	rec.SetCacheEntries(3)

	for _, name := range []string{
		"helparr_http_requests_total",
		"helparr_ratelimit_rejections_total",
		"helparr_cache_conditional_total",
		"helparr_feed_cache_entries",
	} {
		count, err := testutil.GatherAndCount(rec.Gatherer(), name)
		require.NoError(t, err)
		require.Equal(t, 1, count, name)
	}
}

func TestRecorderHandlerServesExposition(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveFeed(FeedOutcomeError, time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	res := httptest.NewRecorder()
	rec.Handler().ServeHTTP(res, req)

	require.Equal(t, 200, res.Code)
	require.Contains(t, res.Body.String(), "helparr_feed_requests_total")
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveFeed(FeedOutcomeGenerated, time.Millisecond)
	rec.ObserveRequest("/", "GET", 200, time.Millisecond)
	rec.ObserveRateLimited("/")
	rec.ObserveConditional("modified")
	rec.SetCacheEntries(0)

	req := httptest.NewRequest("GET", "/metrics", nil)
	res := httptest.NewRecorder()
	rec.Handler().ServeHTTP(res, req)
	require.Equal(t, 503, res.Code)
}
