package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/cachecontrol"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/config"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/feed"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/logging"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/metrics"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/ratelimit"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/server"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/tenant"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "HELPARR", "environment variable prefix")
	)
	flag.Parse()

	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	store := buildTenantStore(logger.With(slog.String("agent", "storage_factory")), cfg.Storage)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("storage shutdown failed", slog.Any("error", err))
		}
	}()

	renderer, err := feed.NewRenderer(cfg.Feed, cfg.Server.BaseURL)
	if err != nil {
		logger.Error("feed renderer setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	feedCache := feed.NewCache(cfg.Feed.TTL())
	generator := feed.NewGenerator(store, feedCache, renderer, logger.With(slog.String("agent", "feed")), recorder)
	defer generator.Close()

	limiter := ratelimit.New(logger, cfg.Sweep.Schedule)
	defer limiter.Close()

	engine := cachecontrol.New(cfg.Cache, logger, recorder)
	if rulesFile := strings.TrimSpace(cfg.Cache.RulesFile); rulesFile != "" {
		watcher, err := config.WatchRules(ctx, rulesFile, engine.ApplyRules, func(err error) {
			logger.Error("cache rules watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("cache rules watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	janitor := cron.New()
	if _, err := janitor.AddFunc(cfg.Sweep.Schedule, func() {
		recorder.SetCacheEntries(feedCache.SweepExpired())
	}); err != nil {
		logger.Warn("feed cache sweep schedule rejected",
			slog.String("schedule", cfg.Sweep.Schedule), slog.Any("error", err))
	} else {
		janitor.Start()
		defer janitor.Stop()
	}

	handler, err := server.NewRouter(server.Deps{
		Config:    cfg,
		Logger:    logger,
		Metrics:   recorder,
		Generator: generator,
		Cache:     feedCache,
		Engine:    engine,
		Limiter:   limiter,
		Store:     store,
	})
	if err != nil {
		logger.Error("unable to construct router", slog.Any("error", err))
		os.Exit(1)
	}

	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// buildTenantStore selects the storage backend. Backend failures fall back to
// the in-process store so the service still serves error-free feeds.
func buildTenantStore(logger *slog.Logger, cfg config.StorageConfig) tenant.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using in-memory tenant store")
		return tenant.NewMemory()
	case "valkey", "redis":
		store, err := tenant.NewValkey(cfg.Valkey)
		if err != nil {
			logger.Error("valkey store initialization failed", slog.Any("error", err))
			logger.Info("falling back to in-memory tenant store")
			return tenant.NewMemory()
		}
		logger.Info("using valkey tenant store", slog.String("address", cfg.Valkey.Address))
		return store
	case "sqlite":
		store, err := tenant.NewSQLite(cfg.SQLite.Path)
		if err != nil {
			logger.Error("sqlite store initialization failed", slog.Any("error", err))
			logger.Info("falling back to in-memory tenant store")
			return tenant.NewMemory()
		}
		logger.Info("using sqlite tenant store", slog.String("path", cfg.SQLite.Path))
		return store
	default:
		logger.Warn("unsupported storage backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return tenant.NewMemory()
	}
}
