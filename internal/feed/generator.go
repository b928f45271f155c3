package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/metrics"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/tenant"
)

const (
	notFoundMessage    = "User not found. Please check your feed URL."
	unavailableMessage = "The feed could not be generated right now. The previous version will return on the next refresh."
)

// Options controls a single generation request.
type Options struct {
	// BypassCache forces a fresh render even when a live cache entry exists.
	BypassCache bool
}

// Generator produces the RSS document for a tenant. Generate never returns
// an error: every failure mode degrades to the tenant's stored backup or,
// failing that, a Service Notice document, so the download client always
// receives parseable RSS.
type Generator struct {
	store    tenant.Store
	cache    *Cache
	renderer *Renderer
	logger   *slog.Logger
	metrics  *metrics.Recorder

	now func() time.Time
	wg  sync.WaitGroup
}

// NewGenerator wires the generator. The metrics recorder may be nil.
func NewGenerator(store tenant.Store, cache *Cache, renderer *Renderer, logger *slog.Logger, recorder *metrics.Recorder) *Generator {
	return &Generator{
		store:    store,
		cache:    cache,
		renderer: renderer,
		logger:   logger,
		metrics:  recorder,
		now:      time.Now,
	}
}

// Generate returns the feed document for a tenant. The result is always a
// complete RSS document, whatever happened along the way.
func (g *Generator) Generate(ctx context.Context, tenantID string, opts Options) (doc string) {
	started := g.now()
	outcome := metrics.FeedOutcomeGenerated
	var rec tenant.Record
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("feed generation panicked", slog.String("tenant", tenantID), slog.Any("panic", r))
			if fallback, ok := g.backupFeed(rec); ok {
				outcome = metrics.FeedOutcomeBackup
				doc = fallback
			} else {
				outcome = metrics.FeedOutcomeError
				doc = g.renderer.ErrorFeed(tenantID, unavailableMessage, g.now())
			}
		}
		g.observe(outcome, started)
	}()

	if !opts.BypassCache {
		if entry, ok := g.cache.Get(tenantID); ok {
			outcome = metrics.FeedOutcomeCached
			return entry.Content
		}
	}

	var err error
	rec, err = g.store.Load(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			g.logger.Warn("feed requested for unknown tenant", slog.String("tenant", tenantID))
			outcome = metrics.FeedOutcomeError
			return g.renderer.ErrorFeed(tenantID, notFoundMessage, g.now())
		}
		g.logger.Error("tenant load failed", slog.String("tenant", tenantID), slog.String("error", err.Error()))
		outcome = metrics.FeedOutcomeError
		return g.renderer.ErrorFeed(tenantID, unavailableMessage, g.now())
	}

	movies := FilterValid(ParseSelection(rec.Movies))

	doc = g.renderer.Render(tenantID, movies, g.now())
	// The structural check is advisory on the serve path: duplicate
	// selection entries render as duplicate items and are still served.
	if err := ValidateDocument(doc); err != nil {
		g.logger.Warn("rendered feed failed structural check", slog.String("tenant", tenantID), slog.String("error", err.Error()))
	}

	g.cache.Put(tenantID, doc)
	g.metrics.SetCacheEntries(g.cache.Snapshot().Size)
	g.persistBackup(tenantID, doc)

	g.logger.Info("feed generated",
		slog.String("tenant", tenantID),
		slog.Int("movies", len(movies)),
		slog.Int("bytes", len(doc)))
	return doc
}

// Close waits for in-flight backup writes to finish.
func (g *Generator) Close() {
	g.wg.Wait()
}

// backupFeed returns the tenant's last known-good document, if one exists.
func (g *Generator) backupFeed(rec tenant.Record) (string, bool) {
	if rec.Backup == nil || rec.Backup.Feed == "" {
		return "", false
	}
	return rec.Backup.Feed, true
}

// persistBackup saves the freshly rendered document as the tenant's fallback
// copy. The write is detached and best effort; a failure only logs, the
// caller already has its response.
func (g *Generator) persistBackup(tenantID, doc string) {
	generatedAt := g.now()
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		backup := &tenant.Backup{Feed: doc, GeneratedAt: generatedAt, Size: len(doc)}
		if err := g.store.Save(ctx, tenantID, tenant.Patch{Backup: backup}); err != nil {
			g.logger.Warn("backup persistence failed",
				slog.String("tenant", tenantID),
				slog.String("error", err.Error()))
		}
	}()
}

func (g *Generator) observe(outcome metrics.FeedOutcome, started time.Time) {
	g.metrics.ObserveFeed(outcome, g.now().Sub(started))
}
