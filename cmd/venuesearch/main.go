package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/venuesearch/internal/config"
	dbRedis "github.com/kailas-cloud/venuesearch/internal/db/redis"
	logpkg "github.com/kailas-cloud/venuesearch/internal/logger"
	"github.com/kailas-cloud/venuesearch/internal/metrics"
	"github.com/kailas-cloud/venuesearch/internal/repository/cache"
	"github.com/kailas-cloud/venuesearch/internal/repository/constraints"
	"github.com/kailas-cloud/venuesearch/internal/repository/embcache"
	"github.com/kailas-cloud/venuesearch/internal/repository/queue"
	reviewrepo "github.com/kailas-cloud/venuesearch/internal/repository/review"
	searchrepo "github.com/kailas-cloud/venuesearch/internal/repository/search"
	venuerepo "github.com/kailas-cloud/venuesearch/internal/repository/venue"
	chiTransport "github.com/kailas-cloud/venuesearch/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/venuesearch/internal/transport/openai"
	"github.com/kailas-cloud/venuesearch/internal/usecase/extraction"
	healthuc "github.com/kailas-cloud/venuesearch/internal/usecase/health"
	"github.com/kailas-cloud/venuesearch/internal/usecase/ranking"
	"github.com/kailas-cloud/venuesearch/internal/usecase/retrieval"
	searchuc "github.com/kailas-cloud/venuesearch/internal/usecase/search"
	"github.com/kailas-cloud/venuesearch/internal/usecase/understanding"
	"github.com/kailas-cloud/venuesearch/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level, version.Version)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("venuesearch stopped", zap.Error(err))
	}
	logger.Info("Server stopped gracefully")
}

//nolint:funlen // composition root
func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("Starting venuesearch",
		zap.String("version", version.String()),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.Int("pipeline_workers", cfg.Pipeline.Workers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		return fmt.Errorf("create database store: %w", err)
	}
	defer store.Close()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	logger.Info("Connected to database")

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	prefix := cfg.Database.KeyPrefix
	tiered := cache.New(store, prefix, cfg.Cache.LocalSize, cfg.Cache.LocalTTL, logger.Named("cache"))
	defer tiered.Close()

	// Provider chain: OpenAI-compatible transport -> shared embedding cache.
	embedder := embcache.New(
		openaiTransport.NewEmbedder(&openaiTransport.Config{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
			Provider:   cfg.Embedding.Provider,
			Logger:     logger.Named("embedding"),
		}),
		tiered, cfg.Embedding.Model, cfg.Cache.EmbeddingTTL, logger.Named("embcache"),
	)
	completer := openaiTransport.NewCompleter(&openaiTransport.Config{
		APIKey:      cfg.Completion.APIKey,
		BaseURL:     cfg.Completion.BaseURL,
		Model:       cfg.Completion.Model,
		Temperature: cfg.Completion.Temperature,
		Timeout:     time.Duration(cfg.Completion.TimeoutSec) * time.Second,
		Provider:    cfg.Completion.Provider,
		Logger:      logger.Named("completion"),
	})

	vocab, err := constraints.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		return fmt.Errorf("load vocabulary: %w", err)
	}
	constraintStore := constraints.New(vocab, store, tiered, prefix, cfg.Cache.PlaceTTL, logger.Named("constraints"))
	logger.Info("Vocabulary loaded", zap.Int("version", constraintStore.Version()))

	venues := venuerepo.New(store, prefix, venuerepo.IndexParams{
		Name:            cfg.Index.Name,
		Dimensions:      cfg.Embedding.Dimensions,
		HNSWM:           cfg.Index.HNSWM,
		HNSWEFConstruct: cfg.Index.HNSWEFConstruct,
		InitialCap:      cfg.Index.HNSWInitialCap,
	})
	if err := venues.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure venue index: %w", err)
	}
	reviews := reviewrepo.New(store, prefix)
	index := searchrepo.New(store, venues.IndexName(), venues.KeyPrefix(), cfg.Index.EFRuntime)
	jobs := queue.New(store, prefix, queue.Config{
		Stream:       cfg.Pipeline.Stream,
		Group:        cfg.Pipeline.Group,
		BlockTimeout: cfg.Pipeline.BlockTimeout,
		ClaimIdle:    cfg.Pipeline.ClaimIdle,
	})

	retriever := retrieval.New(index, retrieval.Config{
		CandidateLimit:    cfg.Index.CandidateLimit,
		MaxCandidateLimit: cfg.Index.MaxCandidateLimit,
		MinCandidates:     cfg.Index.MinCandidates,
		RegionExpansion:   cfg.Index.RegionExpansion,
		RegionFloorMeters: cfg.Index.RegionFloorMeters,
		MaxWidenings:      cfg.Index.MaxWidenings,
		DefaultRadius:     cfg.Index.DefaultRadius,
	}, logger.Named("retrieval"))
	scorer, err := ranking.New(ranking.Config{
		Weights: ranking.Weights{
			Semantic:  cfg.Ranking.Weights.Semantic,
			Proximity: cfg.Ranking.Weights.Proximity,
			Rating:    cfg.Ranking.Weights.Rating,
			Price:     cfg.Ranking.Weights.Price,
		},
		RatingMax:     cfg.Ranking.RatingMax,
		NeutralRating: cfg.Ranking.NeutralRating,
		PriceDecay:    cfg.Ranking.PriceDecay,
		DefaultRadius: cfg.Index.DefaultRadius,
	})
	if err != nil {
		return fmt.Errorf("create scorer: %w", err)
	}
	understander := understanding.New(completer, embedder, constraintStore, tiered,
		cfg.Cache.QueryTTL, cfg.Cache.DegradedQueryTTL, logger.Named("understanding"))
	searchSvc := searchuc.New(understander, retriever, scorer, tiered, cfg.Cache.ResultsTTL, logger.Named("search"))

	monitor := extraction.NewMonitor(cfg.Pipeline.LivenessWindow)
	pipeline := extraction.New(reviews, venues, jobs, completer, monitor, extraction.Config{
		Workers:     cfg.Pipeline.Workers,
		MaxRetries:  uint64(cfg.Pipeline.MaxRetries), //nolint:gosec // validated non-negative
		BaseBackoff: cfg.Pipeline.BaseBackoff,
		MaxBackoff:  cfg.Pipeline.MaxBackoff,
		LeaseTTL:    cfg.Pipeline.LeaseTTL,
		IdleBackoff: cfg.Pipeline.BaseBackoff,
		Aggregation: extraction.AggregationConfig{
			HalfLife:          cfg.Pipeline.HalfLife,
			OutlierDeviations: cfg.Pipeline.OutlierDeviations,
			MinSamples:        cfg.Pipeline.MinSamples,
			ConfidencePrior:   cfg.Pipeline.ConfidencePrior,
		},
	}, logger.Named("extraction"))

	healthSvc := healthuc.New(store, embedder, pipeline)

	server := chiTransport.NewServer(searchSvc, pipeline, healthSvc, logger)
	r := chi.NewRouter()
	r.Use(chiTransport.JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.WideEvent(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.Pipeline.Workers > 0 {
		g.Go(func() error {
			return pipeline.Run(gctx) //nolint:wrapcheck // pipeline errors are already wrapped
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err //nolint:wrapcheck // wrapped by each goroutine
	}
	return nil
}
