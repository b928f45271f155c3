// Package cachecontrol computes response caching headers and evaluates
// conditional requests against a resource fingerprint. The engine resolves a
// layered directive configuration (global defaults, first-matching path rule,
// content-type rule) into one effective Cache-Control value and decides
// whether a conditional request short-circuits to 304 Not Modified.
package cachecontrol

import (
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/config"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/metrics"
)

// SafeDirective is the degraded Cache-Control value used whenever evaluation
// fails internally. The engine must never be the reason a response fails.
const SafeDirective = "no-cache, no-store, must-revalidate"

// Resource describes the response body the engine is computing directives for.
type Resource struct {
	// Content is the response body; required for fingerprinting.
	Content string
	// ContentType selects a content-type rule layer, e.g. "application/rss+xml".
	ContentType string
	// LastModified, when non-zero, feeds If-Modified-Since evaluation.
	LastModified time.Time
	// ETag overrides the computed fingerprint when the caller already has one.
	ETag string
}

// Evaluation is the engine's verdict for one request/resource pair.
type Evaluation struct {
	// Headers carries every computed header, including the ones a 304
	// response must repeat.
	Headers map[string]string
	// NotModified reports a conditional-request match.
	NotModified bool
	// Status is 304 when NotModified; otherwise zero (caller picks).
	Status int
}

// Engine resolves directives and evaluates conditional requests. Safe for
// concurrent use; rule layers may be hot-swapped via ApplyRules.
type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu  sync.RWMutex
	cfg config.CacheConfig
}

// New constructs an engine from the cache configuration.
func New(cfg config.CacheConfig, logger *slog.Logger, rec *metrics.Recorder) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:  logger.With(slog.String("agent", "cachecontrol")),
		metrics: rec,
		cfg:     cfg,
	}
}

// ApplyRules swaps the path and content-type rule layers, keeping global
// defaults intact. Invoked by the rules watcher on file change.
func (e *Engine) ApplyRules(bundle config.RulesBundle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Rules = bundle.Rules
	e.cfg.ContentTypeRules = bundle.ContentTypeRules
}

// Evaluate computes caching headers for the request and decides whether the
// request's conditional preconditions short-circuit to 304. Any internal
// panic degrades to SafeDirective rather than propagating.
func (e *Engine) Evaluate(r *http.Request, res Resource) (ev Evaluation) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("cache directive evaluation failed", slog.Any("panic", rec))
			ev = Evaluation{Headers: map[string]string{"Cache-Control": SafeDirective}}
		}
	}()

	ev = Evaluation{Headers: map[string]string{}}

	// Only GET-equivalent requests are cacheable.
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return ev
	}

	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	// Client no-store overrides server policy verbatim.
	if ParseRequestDirective(r.Header.Get("Cache-Control")).NoStore {
		ev.Headers["Cache-Control"] = "no-store"
		e.appendAuxiliary(cfg, ev.Headers)
		return ev
	}

	effective := resolve(cfg, r.URL.Path, res.ContentType)
	ev.Headers["Cache-Control"] = serialize(effective)
	e.appendAuxiliary(cfg, ev.Headers)

	notModified := false

	if cfg.ETag && res.Content != "" {
		etag := res.ETag
		if etag == "" {
			etag = Fingerprint(res.Content)
		}
		ev.Headers["ETag"] = etag
		if etagMatches(r.Header.Get("If-None-Match"), etag) {
			notModified = true
		}
	}

	if cfg.LastModified && !res.LastModified.IsZero() {
		modified := res.LastModified.UTC().Truncate(time.Second)
		ev.Headers["Last-Modified"] = modified.Format(http.TimeFormat)
		if since := r.Header.Get("If-Modified-Since"); since != "" {
			if t, err := http.ParseTime(since); err == nil && !t.Before(modified) {
				notModified = true
			}
		}
	}

	if notModified {
		// A 304 must repeat cache-relevant headers; ev.Headers already
		// carries them.
		ev.NotModified = true
		ev.Status = http.StatusNotModified
		e.metrics.ObserveConditional("not_modified")
	} else {
		e.metrics.ObserveConditional("modified")
	}
	return ev
}

func (e *Engine) appendAuxiliary(cfg config.CacheConfig, headers map[string]string) {
	if len(cfg.Vary) > 0 {
		headers["Vary"] = strings.Join(cfg.Vary, ", ")
	}
	if cfg.IncludeSecurityHeaders {
		headers["X-Content-Type-Options"] = "nosniff"
		headers["X-Frame-Options"] = "DENY"
	}
}

// resolve collapses the three configuration layers into one effective
// directive set. Each layer overrides only the keys it sets.
func resolve(cfg config.CacheConfig, requestPath, contentType string) config.Directives {
	effective := cfg.Directives

	for _, rule := range cfg.Rules {
		if matchPath(rule.Pattern, requestPath) {
			apply(&effective, rule.RuleOverrides)
			break // first match wins
		}
	}

	if contentType != "" {
		// Rule keys are bare media types; strip any parameters.
		mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
		if overrides, ok := cfg.ContentTypeRules[mediaType]; ok {
			apply(&effective, overrides)
		}
	}

	return effective
}

func apply(d *config.Directives, o config.RuleOverrides) {
	if o.MaxAgeSeconds != nil {
		d.MaxAgeSeconds = *o.MaxAgeSeconds
	}
	if o.SMaxAgeSeconds != nil {
		d.SMaxAgeSeconds = *o.SMaxAgeSeconds
	}
	if o.StaleWhileRevalidateSeconds != nil {
		d.StaleWhileRevalidateSeconds = *o.StaleWhileRevalidateSeconds
	}
	if o.Public != nil {
		d.Public = *o.Public
	}
	if o.Immutable != nil {
		d.Immutable = *o.Immutable
	}
	if o.MustRevalidate != nil {
		d.MustRevalidate = *o.MustRevalidate
	}
	if o.NoCache != nil {
		d.NoCache = *o.NoCache
	}
	if o.NoStore != nil {
		d.NoStore = *o.NoStore
	}
}

// serialize renders the effective directive set as a single Cache-Control
// value. no-cache short-circuits every other directive; otherwise directives
// are joined in a fixed order, omitting any unset.
func serialize(d config.Directives) string {
	if d.NoCache {
		return SafeDirective
	}
	if d.NoStore {
		return "no-store"
	}

	parts := make([]string, 0, 6)
	if d.Public {
		parts = append(parts, "public")
	} else {
		parts = append(parts, "private")
	}
	if d.MaxAgeSeconds > 0 {
		parts = append(parts, "max-age="+strconv.Itoa(d.MaxAgeSeconds))
	}
	if d.SMaxAgeSeconds > 0 {
		parts = append(parts, "s-maxage="+strconv.Itoa(d.SMaxAgeSeconds))
	}
	if d.StaleWhileRevalidateSeconds > 0 {
		parts = append(parts, "stale-while-revalidate="+strconv.Itoa(d.StaleWhileRevalidateSeconds))
	}
	if d.Immutable {
		parts = append(parts, "immutable")
	}
	if d.MustRevalidate {
		parts = append(parts, "must-revalidate")
	}
	return strings.Join(parts, ", ")
}

// matchPath evaluates a shell-style pattern against the request path. A
// trailing "/*" also matches nested segments so "/feed/*" covers
// "/feed/abc/movies.xml".
func matchPath(pattern, requestPath string) bool {
	if pattern == requestPath {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(requestPath, prefix) {
			return true
		}
	}
	ok, err := path.Match(pattern, requestPath)
	return err == nil && ok
}
