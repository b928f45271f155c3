package cachecontrol

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/config"
)

func intp(v int) *int { return &v }

func boolp(v bool) *bool { return &v }

func baseConfig() config.CacheConfig {
	return config.CacheConfig{
		Directives: config.Directives{
			MaxAgeSeconds: 60,
			Public:        true,
		},
		ETag:                   true,
		LastModified:           true,
		Vary:                   []string{"Accept-Encoding"},
		IncludeSecurityHeaders: true,
	}
}

func TestEvaluateNonGETPassesThrough(t *testing.T) {
	engine := New(baseConfig(), nil, nil)
	req := httptest.NewRequest("POST", "/feed/abc/movies.xml", nil)

	ev := engine.Evaluate(req, Resource{Content: "x"})
	require.Empty(t, ev.Headers)
	require.False(t, ev.NotModified)
}

func TestEvaluateGlobalDefaults(t *testing.T) {
	engine := New(baseConfig(), nil, nil)
	req := httptest.NewRequest("GET", "/feed/abc/movies.xml", nil)

	ev := engine.Evaluate(req, Resource{Content: "<rss/>"})
	require.Equal(t, "public, max-age=60", ev.Headers["Cache-Control"])
	require.Equal(t, "Accept-Encoding", ev.Headers["Vary"])
	require.Equal(t, "nosniff", ev.Headers["X-Content-Type-Options"])
	require.Equal(t, "DENY", ev.Headers["X-Frame-Options"])
	require.NotEmpty(t, ev.Headers["ETag"])
}

func TestEvaluateClientNoStoreOverridesPolicy(t *testing.T) {
	engine := New(baseConfig(), nil, nil)
	req := httptest.NewRequest("GET", "/feed/abc/movies.xml", nil)
	req.Header.Set("Cache-Control", "no-store")

	ev := engine.Evaluate(req, Resource{Content: "<rss/>"})
	require.Equal(t, "no-store", ev.Headers["Cache-Control"])
	require.Empty(t, ev.Headers["ETag"])
}

func TestEvaluatePathRuleFirstMatchWins(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules = []config.PathRule{
		{Pattern: "/api/*", RuleOverrides: config.RuleOverrides{NoStore: boolp(true)}},
		{Pattern: "/api/cache/stats", RuleOverrides: config.RuleOverrides{MaxAgeSeconds: intp(5)}},
	}
	engine := New(cfg, nil, nil)

	ev := engine.Evaluate(httptest.NewRequest("GET", "/api/cache/stats", nil), Resource{Content: "{}"})
	require.Equal(t, "no-store", ev.Headers["Cache-Control"])
}

func TestEvaluateContentTypeRuleLayersOverPathRule(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules = []config.PathRule{
		{Pattern: "/feed/*", RuleOverrides: config.RuleOverrides{MaxAgeSeconds: intp(120)}},
	}
	cfg.ContentTypeRules = map[string]config.RuleOverrides{
		"application/rss+xml": {SMaxAgeSeconds: intp(300), StaleWhileRevalidateSeconds: intp(30)},
	}
	engine := New(cfg, nil, nil)

	req := httptest.NewRequest("GET", "/feed/abc/movies.xml", nil)
	ev := engine.Evaluate(req, Resource{Content: "<rss/>", ContentType: "application/rss+xml; charset=utf-8"})
	require.Equal(t, "public, max-age=120, s-maxage=300, stale-while-revalidate=30", ev.Headers["Cache-Control"])
}

func TestEvaluateNoCacheShortCircuitsSerialization(t *testing.T) {
	cfg := baseConfig()
	cfg.NoCache = true
	cfg.Immutable = true
	engine := New(cfg, nil, nil)

	ev := engine.Evaluate(httptest.NewRequest("GET", "/x", nil), Resource{Content: "x"})
	require.Equal(t, SafeDirective, ev.Headers["Cache-Control"])
}

func TestEvaluatePrivateWhenNotPublic(t *testing.T) {
	cfg := baseConfig()
	cfg.Public = false
	cfg.Immutable = true
	cfg.MustRevalidate = true
	engine := New(cfg, nil, nil)

	ev := engine.Evaluate(httptest.NewRequest("GET", "/x", nil), Resource{Content: "x"})
	require.Equal(t, "private, max-age=60, immutable, must-revalidate", ev.Headers["Cache-Control"])
}

func TestEvaluateETagRoundTrip(t *testing.T) {
	engine := New(baseConfig(), nil, nil)
	content := "<rss><channel/></rss>"

	first := engine.Evaluate(httptest.NewRequest("GET", "/feed/abc/movies.xml", nil), Resource{Content: content})
	etag := first.Headers["ETag"]
	require.NotEmpty(t, etag)
	require.False(t, first.NotModified)

	second := httptest.NewRequest("GET", "/feed/abc/movies.xml", nil)
	second.Header.Set("If-None-Match", etag)
	ev := engine.Evaluate(second, Resource{Content: content})
	require.True(t, ev.NotModified)
	require.Equal(t, 304, ev.Status)
	// A 304 must still repeat cache-relevant headers.
	require.Equal(t, etag, ev.Headers["ETag"])
	require.NotEmpty(t, ev.Headers["Cache-Control"])
}

func TestEvaluateETagWeakComparison(t *testing.T) {
	engine := New(baseConfig(), nil, nil)
	content := "body"
	etag := Fingerprint(content)

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("If-None-Match", "W/"+etag)
	require.True(t, engine.Evaluate(req, Resource{Content: content}).NotModified)

	wildcard := httptest.NewRequest("GET", "/x", nil)
	wildcard.Header.Set("If-None-Match", "*")
	require.True(t, engine.Evaluate(wildcard, Resource{Content: content}).NotModified)
}

func TestEvaluateLastModified(t *testing.T) {
	engine := New(baseConfig(), nil, nil)
	modified := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	fresh := httptest.NewRequest("GET", "/x", nil)
	fresh.Header.Set("If-Modified-Since", modified.Format("Mon, 02 Jan 2006 15:04:05 GMT"))
	ev := engine.Evaluate(fresh, Resource{LastModified: modified})
	require.True(t, ev.NotModified)
	require.Equal(t, 304, ev.Status)

	stale := httptest.NewRequest("GET", "/x", nil)
	stale.Header.Set("If-Modified-Since", modified.Add(-time.Hour).Format("Mon, 02 Jan 2006 15:04:05 GMT"))
	require.False(t, engine.Evaluate(stale, Resource{LastModified: modified}).NotModified)
}

func TestApplyRulesHotSwap(t *testing.T) {
	engine := New(baseConfig(), nil, nil)
	req := httptest.NewRequest("GET", "/api/thing", nil)

	before := engine.Evaluate(req, Resource{Content: "x"})
	require.Equal(t, "public, max-age=60", before.Headers["Cache-Control"])

	engine.ApplyRules(config.RulesBundle{
		Rules: []config.PathRule{{Pattern: "/api/*", RuleOverrides: config.RuleOverrides{NoStore: boolp(true)}}},
	})
	after := engine.Evaluate(req, Resource{Content: "x"})
	require.Equal(t, "no-store", after.Headers["Cache-Control"])
}

func TestMatchPathForms(t *testing.T) {
	require.True(t, matchPath("/feed/*", "/feed/abc/movies.xml"))
	require.True(t, matchPath("/feed/*", "/feed/abc"))
	require.True(t, matchPath("/healthz", "/healthz"))
	require.True(t, matchPath("/feed/?bc", "/feed/abc"))
	require.False(t, matchPath("/feed/*", "/api/abc"))
}

func TestParseRequestDirective(t *testing.T) {
	d := ParseRequestDirective("no-cache, max-age=0")
	require.True(t, d.NoCache)
	require.False(t, d.NoStore)
	require.NotNil(t, d.MaxAge)
	require.Equal(t, 0, *d.MaxAge)

	require.True(t, ParseRequestDirective("No-Store").NoStore)
	require.False(t, ParseRequestDirective("").NoStore)
}
