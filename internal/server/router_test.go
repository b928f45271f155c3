package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/require"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/cachecontrol"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/config"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/feed"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/ratelimit"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/tenant"
)

const testSelection = `[{"title":"Inception","imdb_id":"tt1375666","year":2010},{"title":"Broken","imdb_id":"garbage"}]`

func newTestStack(t *testing.T, mutate func(*config.Config)) (*httpexpect.Expect, tenant.Store) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.BaseURL = "https://feeds.example.com"
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := tenant.NewMemory()

	limiter := ratelimit.New(logger, "")
	t.Cleanup(limiter.Close)

	renderer, err := feed.NewRenderer(cfg.Feed, cfg.Server.BaseURL)
	require.NoError(t, err)

	cache := feed.NewCache(cfg.Feed.TTL())
	generator := feed.NewGenerator(store, cache, renderer, logger, nil)
	t.Cleanup(generator.Close)

	handler, err := NewRouter(Deps{
		Config:    cfg,
		Logger:    logger,
		Generator: generator,
		Cache:     cache,
		Engine:    cachecontrol.New(cfg.Cache, logger, nil),
		Limiter:   limiter,
		Store:     store,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return httpexpect.Default(t, srv.URL), store
}

func seedTenant(t *testing.T, store tenant.Store, id, movies string) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), id, tenant.Patch{Movies: &movies}))
}

func TestRouter_FeedEndToEnd(t *testing.T) {
	e, store := newTestStack(t, nil)
	seedTenant(t, store, "tenant-1", testSelection)

	res := e.GET("/feed/tenant-1/movies.xml").Expect().Status(http.StatusOK)
	res.Header("Content-Type").IsEqual(rssContentType)
	res.Header("Cache-Control").Contains("public").Contains("max-age=60")
	res.Header("ETag").NotEmpty()
	res.Header("X-Request-ID").NotEmpty()

	body := res.Body().Raw()
	require.Contains(t, body, "tt1375666")
	require.NotContains(t, body, "garbage")
	require.NoError(t, feed.ValidateDocument(body))
}

func TestRouter_ConditionalRequestShortCircuits(t *testing.T) {
	e, store := newTestStack(t, nil)
	seedTenant(t, store, "tenant-1", testSelection)

	etag := e.GET("/feed/tenant-1/movies.xml").Expect().
		Status(http.StatusOK).Header("ETag").NotEmpty().Raw()

	res := e.GET("/feed/tenant-1/movies.xml").
		WithHeader("If-None-Match", etag).
		Expect().Status(http.StatusNotModified)
	res.Header("ETag").IsEqual(etag)
	res.Header("Cache-Control").NotEmpty()
	res.Body().IsEmpty()
}

func TestRouter_LastModifiedConditionalShortCircuits(t *testing.T) {
	e, store := newTestStack(t, func(cfg *config.Config) {
		// Isolate the timestamp branch from the fingerprint one.
		cfg.Cache.ETag = false
	})
	seedTenant(t, store, "tenant-1", testSelection)

	lastModified := e.GET("/feed/tenant-1/movies.xml").Expect().
		Status(http.StatusOK).Header("Last-Modified").NotEmpty().Raw()

	res := e.GET("/feed/tenant-1/movies.xml").
		WithHeader("If-Modified-Since", lastModified).
		Expect().Status(http.StatusNotModified)
	res.Header("Last-Modified").IsEqual(lastModified)
	res.Body().IsEmpty()
}

func TestRouter_ErrorFeedOmitsLastModified(t *testing.T) {
	e, _ := newTestStack(t, nil)

	e.GET("/feed/ghost/movies.xml").Expect().
		Status(http.StatusOK).Header("Last-Modified").IsEmpty()
}

func TestRouter_ClientNoStoreOverridesPolicy(t *testing.T) {
	e, store := newTestStack(t, nil)
	seedTenant(t, store, "tenant-1", testSelection)

	e.GET("/feed/tenant-1/movies.xml").
		WithHeader("Cache-Control", "no-store").
		Expect().Status(http.StatusOK).
		Header("Cache-Control").IsEqual("no-store")
}

func TestRouter_UnknownTenantStillServesRSS(t *testing.T) {
	e, _ := newTestStack(t, nil)

	body := e.GET("/feed/ghost/movies.xml").Expect().
		Status(http.StatusOK).Body().Raw()
	require.Contains(t, body, "Service Notice")
	require.Contains(t, body, "User not found")
}

func TestRouter_InvalidBypassRejected(t *testing.T) {
	e, store := newTestStack(t, nil)
	seedTenant(t, store, "tenant-1", testSelection)

	body := e.GET("/feed/tenant-1/movies.xml").WithQuery("bypass", "yes please").
		Expect().Status(http.StatusBadRequest).
		JSON().Object()
	body.HasValue("kind", "validation_failure")
	body.Value("detail").Object().ContainsKey("bypass")
}

func TestRouter_RateLimitRejectsOverBudget(t *testing.T) {
	e, store := newTestStack(t, func(cfg *config.Config) {
		cfg.Pipeline.RateLimit.MaxRequests = 2
	})
	seedTenant(t, store, "tenant-1", testSelection)

	e.GET("/feed/tenant-1/movies.xml").Expect().Status(http.StatusOK)
	e.GET("/feed/tenant-1/movies.xml").Expect().Status(http.StatusOK)

	res := e.GET("/feed/tenant-1/movies.xml").Expect().Status(http.StatusTooManyRequests)
	res.Header("Retry-After").NotEmpty()
	res.Header("X-RateLimit-Remaining").IsEqual("0")
}

func TestRouter_HealthEndpoint(t *testing.T) {
	e, _ := newTestStack(t, nil)
	e.GET("/healthz").Expect().Status(http.StatusOK).
		JSON().Object().HasValue("status", "ok")
}

func TestRouter_CacheStatsAndClear(t *testing.T) {
	e, store := newTestStack(t, nil)
	seedTenant(t, store, "tenant-1", testSelection)

	e.GET("/feed/tenant-1/movies.xml").Expect().Status(http.StatusOK)

	stats := e.GET("/api/cache/stats").Expect().Status(http.StatusOK).JSON().Object()
	stats.Value("size").IsEqual(1)
	stats.Value("keys").Array().ContainsOnly("tenant-1")

	e.POST("/api/cache/clear").Expect().Status(http.StatusOK).
		JSON().Object().HasValue("cleared", 1)

	e.GET("/api/cache/stats").Expect().Status(http.StatusOK).
		JSON().Object().Value("size").IsEqual(0)
}

func TestRouter_MetricsRouteAbsentWithoutRecorder(t *testing.T) {
	e, _ := newTestStack(t, nil)
	e.GET("/metrics").Expect().Status(http.StatusNotFound)
}
