// Package main wires together the recall resolution service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kurumaware/recallwatch/internal/api"
	"github.com/kurumaware/recallwatch/internal/cache"
	"github.com/kurumaware/recallwatch/internal/clock/system"
	"github.com/kurumaware/recallwatch/internal/config"
	"github.com/kurumaware/recallwatch/internal/dispatch"
	"github.com/kurumaware/recallwatch/internal/fetcher/form"
	"github.com/kurumaware/recallwatch/internal/fetcher/headless"
	"github.com/kurumaware/recallwatch/internal/id/uuid"
	"github.com/kurumaware/recallwatch/internal/logging"
	"github.com/kurumaware/recallwatch/internal/metrics"
	"github.com/kurumaware/recallwatch/internal/news"
	"github.com/kurumaware/recallwatch/internal/policy/ratelimit"
	"github.com/kurumaware/recallwatch/internal/publisher"
	"github.com/kurumaware/recallwatch/internal/recall"
	"github.com/kurumaware/recallwatch/internal/snapshot"
	"github.com/kurumaware/recallwatch/internal/source"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	archive, err := newSnapshotStore(ctx, cfg)
	if err != nil {
		logger.Fatal("snapshot store init failed", zap.Error(err))
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Sources.RatePerSecond,
		DefaultBurst: cfg.Sources.RateBurst,
	})
	fetcher := form.New(form.Config{
		UserAgent: cfg.Sources.UserAgent,
		Timeout:   cfg.SourceTimeout(),
	}, limiter, archive, logger.Named("fetcher"))

	backend, cleanup := newCacheBackend(ctx, cfg, logger)
	defer cleanup()
	store := cache.NewStore(backend, clock, logger.Named("cache"))

	deps := source.Deps{Fetcher: fetcher, Clock: clock, IDs: idGen, Log: logger.Named("source")}
	adapters := []recall.Adapter{
		source.NewToyota(deps),
		source.NewNissan(deps),
		source.NewHonda(deps),
		source.NewMazda(deps),
		source.NewSubaru(deps),
		source.NewDaihatsu(deps),
	}

	opts := []dispatch.Option{
		dispatch.WithClock(clock),
		dispatch.WithRecallTTL(cfg.RecallTTL()),
	}

	if cfg.Headless.Enabled {
		browser, err := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Sources.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless browser init failed, registry lookups disabled", zap.Error(err))
		} else {
			defer browser.Close()
			registry := source.NewMLIT(source.BrowserSessions(browser), clock, idGen, logger.Named("mlit"))
			opts = append(opts, dispatch.WithRegistry(registry))
		}
	}

	if cfg.Publisher.Enabled {
		events, err := publisher.NewPubSub(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			logger.Fatal("publisher init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := events.Close(); closeErr != nil {
				logger.Warn("publisher close failed", zap.Error(closeErr))
			}
		}()
		opts = append(opts, dispatch.WithPublisher(events, cfg.Publisher.TopicName))
	}

	dispatcher := dispatch.New(adapters, store, logger.Named("dispatch"), opts...)
	aggregator := news.New(fetcher, store, logger.Named("news"), news.WithTTL(cfg.NewsTTL()))

	apiServer := api.NewServer(dispatcher, aggregator, logger.Named("api"), cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newSnapshotStore(ctx context.Context, cfg config.Config) (snapshot.Store, error) {
	switch cfg.Snapshot.Backend {
	case "local":
		store, err := snapshot.NewLocalStore(cfg.Snapshot.LocalDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "gcs":
		store, err := snapshot.NewGCSStore(ctx, cfg.Snapshot.GCSBucket)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

// newCacheBackend prefers the configured Postgres store but never lets an
// unreachable database block lookups; resolution degrades to the in-process
// cache instead.
func newCacheBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (cache.Backend, func()) {
	if cfg.Cache.DSN == "" {
		log.Info("using in-memory cache")
		return cache.NewMemory(), func() {}
	}
	pg, pool, err := cache.NewPostgres(ctx, cfg.Cache.DSN)
	if err != nil {
		log.Warn("postgres cache unavailable, falling back to in-memory cache", zap.Error(err))
		return cache.NewMemory(), func() {}
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		log.Warn("postgres cache schema setup failed, falling back to in-memory cache", zap.Error(err))
		return cache.NewMemory(), func() {}
	}
	log.Info("using postgres cache")
	return pg, pool.Close
}
