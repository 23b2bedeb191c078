// Package main wires together the ingest daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/newsfuse/ingest/internal/ai"
	"github.com/newsfuse/ingest/internal/api"
	"github.com/newsfuse/ingest/internal/breaker"
	"github.com/newsfuse/ingest/internal/cache"
	"github.com/newsfuse/ingest/internal/config"
	"github.com/newsfuse/ingest/internal/dedup"
	"github.com/newsfuse/ingest/internal/embed"
	"github.com/newsfuse/ingest/internal/gatekeeper"
	"github.com/newsfuse/ingest/internal/keyring"
	"github.com/newsfuse/ingest/internal/logging"
	"github.com/newsfuse/ingest/internal/metrics"
	"github.com/newsfuse/ingest/internal/news"
	"github.com/newsfuse/ingest/internal/pipeline"
	"github.com/newsfuse/ingest/internal/store"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	// The shared cache carries cross-process state (breaker, rotation,
	// seen-URL sets). A local fallback keeps a single instance running when
	// Redis is unreachable, at the cost of fleet coordination.
	var sharedCache cache.Cache
	redisCache, err := cache.NewRedis(ctx, cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Warn("redis unavailable, using in-process cache", zap.Error(err))
		sharedCache = cache.NewMemory()
	} else {
		sharedCache = redisCache
		defer func() {
			if closeErr := redisCache.Close(); closeErr != nil {
				logger.Warn("redis close failed", zap.Error(closeErr))
			}
		}()
	}

	articleStore, err := store.NewPostgres(ctx, store.PostgresConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer articleStore.Close()

	keys := keyring.New()
	keys.RegisterKeys("newsapi", cfg.Providers.NewsAPI.Keys)

	brk := breaker.New(sharedCache, breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
	}, logger.Named("breaker"))

	primary := news.NewNewsAPI(news.NewsAPIConfig{
		BaseURL: cfg.Providers.NewsAPI.BaseURL,
		Timeout: time.Duration(cfg.Providers.NewsAPI.TimeoutSeconds) * time.Second,
		RPS:     cfg.Providers.NewsAPI.RPS,
		Burst:   cfg.Providers.NewsAPI.Burst,
	}, keys, brk, logger.Named("newsapi"))

	var secondary news.Provider
	if len(cfg.Providers.RSS.Feeds) > 0 {
		secondary = news.NewRSS(news.RSSConfig{
			Feeds:   cfg.Providers.RSS.Feeds,
			Timeout: time.Duration(cfg.Providers.RSS.TimeoutSeconds) * time.Second,
		}, logger.Named("rss"))
	}

	cycles := make([]news.Cycle, 0, len(cfg.Cycles))
	for _, c := range cfg.Cycles {
		cycles = append(cycles, news.Cycle{Name: c.Name, Locale: c.Locale, Queries: c.Queries})
	}
	coordinator := news.NewCoordinator(cycles, sharedCache, primary, secondary, brk,
		cfg.Pipeline.MinYield, logger.Named("news"))

	classifier := ai.NewClassifier(cfg.AI.APIKey, cfg.AI.ClassifyModel, cfg.AITimeout())
	analyzer := ai.NewAnalyzer(cfg.AI.APIKey, cfg.AI.AnalyzeHard, cfg.AI.AnalyzeSoft, cfg.AITimeout())
	embeddings := ai.NewCohereEmbeddings(cfg.AI.APIKey, cfg.AI.EmbedModel, cfg.AITimeout())
	batcher := embed.New(embeddings, embed.Config{
		BatchSize:    cfg.Embed.BatchSize,
		FlushTimeout: time.Duration(cfg.Embed.FlushTimeoutMs) * time.Millisecond,
	}, logger.Named("embed"))

	gk := gatekeeper.New(classifier, sharedCache, gatekeeper.Config{
		BlockedDomains:  cfg.Gatekeeper.BlockedDomains,
		BlockedKeywords: cfg.Gatekeeper.BlockedKeywords,
		VerdictTTL:      time.Duration(cfg.Gatekeeper.VerdictTTLHours) * time.Hour,
		HardModel:       analyzer.ModelFor(ai.TypeHardNews),
		SoftModel:       analyzer.ModelFor(ai.TypeSoftNews),
	}, logger.Named("gatekeeper"))

	resolver := dedup.New(articleStore, sharedCache, dedup.Config{
		FuzzyThreshold:    cfg.Dedup.FuzzyThreshold,
		SemanticThreshold: cfg.Dedup.SemanticThreshold,
		ClusterThreshold:  cfg.Dedup.ClusterThreshold,
		Lookback:          time.Duration(cfg.Dedup.LookbackHours) * time.Hour,
		ClusterWindow:     time.Duration(cfg.Dedup.ClusterWindowDays) * 24 * time.Hour,
	}, logger.Named("dedup"))

	pipe := pipeline.New(articleStore, sharedCache, gk, batcher, analyzer, resolver, pipeline.Config{
		MinContentLength:  cfg.Pipeline.MinContentLength,
		InheritanceWindow: time.Duration(cfg.Dedup.LookbackHours) * time.Hour,
	}, logger.Named("pipeline"))
	runner := pipeline.NewRunner(pipe, cfg.Pipeline.Concurrency, logger.Named("pipeline"))

	ready := func(ctx context.Context) error {
		if _, _, err := sharedCache.Get(ctx, "ingest:readyz"); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		if _, err := articleStore.MaxClusterID(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		return nil
	}
	apiServer := api.NewServer(ready, logger.Named("api"))

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

	go runCycles(ctx, cfg, coordinator, runner, apiServer, logger)

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// runCycles drives the fetch loop until the context ends. Each pass picks the
// next cycle in rotation, fetches it, runs the pipeline over the batch, and
// sleeps the configured interval plus jitter so a fleet does not fetch in
// lockstep.
func runCycles(
	ctx context.Context,
	cfg config.Config,
	coordinator *news.Coordinator,
	runner *pipeline.Runner,
	apiServer *api.Server,
	logger *zap.Logger,
) {
	interval := cfg.CycleInterval()
	for {
		cycle := coordinator.NextCycle(ctx)
		start := time.Now()
		logger.Info("cycle started", zap.String("cycle", cycle.Name), zap.String("locale", cycle.Locale))

		batch := coordinator.RunCycle(ctx, cycle)
		tally := runner.Run(ctx, batch)

		outcomes := make(map[string]int, len(tally.Counts))
		for outcome, n := range tally.Counts {
			outcomes[string(outcome)] = n
		}
		apiServer.SetStatus(api.Status{
			Cycle:      cycle.Name,
			StartedAt:  start,
			FinishedAt: time.Now(),
			Fetched:    len(batch),
			Outcomes:   outcomes,
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval + jitter(interval)):
		}
	}
}

// jitter returns a random offset up to 10% of the interval.
func jitter(interval time.Duration) time.Duration {
	tenth := int64(interval) / 10
	if tenth <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(tenth))
}
