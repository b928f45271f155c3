package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/cachecontrol"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/config"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/feed"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/metrics"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/pipeline"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/ratelimit"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/tenant"
)

const (
	feedRoute                = "/feed/{tenant}/movies.xml"
	defaultCorrelationHeader = "X-Request-ID"
	rssContentType           = "application/rss+xml; charset=utf-8"
)

// Deps carries everything the router dispatches to. All fields except Metrics
// are required.
type Deps struct {
	Config    config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Generator *feed.Generator
	Cache     *feed.Cache
	Engine    *cachecontrol.Engine
	Limiter   *ratelimit.Limiter
	Store     tenant.Store
}

type router struct {
	deps Deps
}

// NewRouter assembles the HTTP routes with their middleware chains. The feed
// route runs the full pipeline; operator endpoints share the rate limiter
// under a separate metrics label.
func NewRouter(d Deps) (http.Handler, error) {
	rt := &router{deps: d}

	bypassValidation, err := pipeline.NewValidation(pipeline.Schema{
		"bypass": {Pattern: "1|0|true|false", MaxLength: 5},
	})
	if err != nil {
		return nil, fmt.Errorf("server: feed validation: %w", err)
	}

	correlationHeader := d.Config.Server.Logging.CorrelationHeader
	if correlationHeader == "" {
		correlationHeader = defaultCorrelationHeader
	}

	rlCfg := d.Config.Pipeline.RateLimit
	rlMax := 0
	if rlCfg.Enabled {
		rlMax = rlCfg.MaxRequests
	}
	feedChain := pipeline.NewChain(pipeline.ChainConfig{
		Logger:            d.Logger,
		Metrics:           d.Metrics,
		Route:             feedRoute,
		CorrelationHeader: correlationHeader,
		Production:        d.Config.Server.IsProduction(),
		AccessLog:         d.Config.Pipeline.Logging,
	},
		pipeline.NewCORS(d.Config.Pipeline.CORS),
		pipeline.NewSizeLimit(d.Config.Pipeline.SizeLimitBytes),
		pipeline.NewRateLimit(d.Limiter, rlCfg.Window(), rlMax, pipeline.ClientIPKey, d.Metrics, feedRoute),
		bypassValidation,
	)

	apiChain := pipeline.NewChain(pipeline.ChainConfig{
		Logger:            d.Logger,
		Metrics:           d.Metrics,
		Route:             "/api",
		CorrelationHeader: correlationHeader,
		Production:        d.Config.Server.IsProduction(),
		AccessLog:         d.Config.Pipeline.Logging,
	},
		pipeline.NewSizeLimit(d.Config.Pipeline.SizeLimitBytes),
		pipeline.NewRateLimit(d.Limiter, rlCfg.Window(), rlMax, pipeline.ClientIPKey, d.Metrics, "/api"),
	)

	mux := chi.NewRouter()
	mux.Method(http.MethodGet, feedRoute, feedChain.Then(http.HandlerFunc(rt.handleFeed)))
	mux.Method(http.MethodHead, feedRoute, feedChain.Then(http.HandlerFunc(rt.handleFeed)))
	mux.Method(http.MethodOptions, feedRoute, feedChain.Then(http.HandlerFunc(rt.handleFeed)))
	mux.Method(http.MethodGet, "/api/cache/stats", apiChain.Then(http.HandlerFunc(rt.handleCacheStats)))
	mux.Method(http.MethodPost, "/api/cache/clear", apiChain.Then(http.HandlerFunc(rt.handleCacheClear)))
	mux.Get("/healthz", rt.handleHealth)
	if d.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}
	return mux, nil
}

// handleFeed serves the tenant's RSS document. Generation never fails, so the
// handler's only decisions are cache headers and the conditional 304.
func (rt *router) handleFeed(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")

	opts := feed.Options{BypassCache: bypassRequested(r)}
	doc := rt.deps.Generator.Generate(r.Context(), tenantID, opts)

	res := cachecontrol.Resource{
		Content:     doc,
		ContentType: "application/rss+xml",
	}
	// Successful generations land in the feed cache; the entry's timestamp
	// is the document's modification time. Error feeds are never cached and
	// carry no Last-Modified.
	if entry, ok := rt.deps.Cache.Get(tenantID); ok && entry.Content == doc {
		res.LastModified = entry.GeneratedAt
	}

	ev := rt.deps.Engine.Evaluate(r, res)
	for k, v := range ev.Headers {
		w.Header().Set(k, v)
	}
	if ev.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", rssContentType)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(doc))
	}
}

func bypassRequested(r *http.Request) bool {
	if params := pipeline.Values(r.Context()); params != nil {
		if sanitized, ok := params["params"].(map[string]string); ok {
			v := sanitized["bypass"]
			return v == "1" || v == "true"
		}
	}
	v := r.URL.Query().Get("bypass")
	return v == "1" || v == "true"
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleHealth probes tenant storage and, when configured, the upstream
// metadata service. The metadata probe only degrades the report; storage
// failure makes the instance unhealthy.
func (rt *router) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), rt.deps.Config.Health.Timeout())
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK

	if err := rt.deps.Store.Ping(ctx); err != nil {
		rt.deps.Logger.Error("storage health check failed", slog.String("error", err.Error()))
		resp.Status = "unhealthy"
		resp.Checks["storage"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks["storage"] = "ok"
	}

	if url := rt.deps.Config.Health.MetadataURL; url != "" {
		if err := rt.probeMetadata(ctx, url); err != nil {
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
			resp.Checks["metadata"] = err.Error()
		} else {
			resp.Checks["metadata"] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

func (rt *router) probeMetadata(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe: %w", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe: upstream status %d", res.StatusCode)
	}
	return nil
}

func (rt *router) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.deps.Cache.Snapshot())
}

func (rt *router) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	cleared := rt.deps.Cache.Clear()
	rt.deps.Metrics.SetCacheEntries(0)
	rt.deps.Logger.Info("feed cache cleared", slog.Int("entries", cleared))
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
