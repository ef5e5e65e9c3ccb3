// Command venueloader seeds the venue index from FSQ OS Places parquet files.
// It keeps dining venues, maps their category labels onto the cuisine
// vocabulary, embeds each venue and upserts it. Progress is kept in a cursor
// file under -data-dir so an interrupted load resumes where it stopped.
//
// Usage:
//
//	venueloader -data-dir /data/places -max-rows 100000 -workers 8
//
// Storage, embedding and vocabulary settings come from the service config
// selected by ENV.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/config"
	dbRedis "github.com/kailas-cloud/venuesearch/internal/db/redis"
	logpkg "github.com/kailas-cloud/venuesearch/internal/logger"
	"github.com/kailas-cloud/venuesearch/internal/repository/cache"
	"github.com/kailas-cloud/venuesearch/internal/repository/constraints"
	"github.com/kailas-cloud/venuesearch/internal/repository/embcache"
	venuerepo "github.com/kailas-cloud/venuesearch/internal/repository/venue"
	openaiTransport "github.com/kailas-cloud/venuesearch/internal/transport/openai"
	"github.com/kailas-cloud/venuesearch/internal/version"
)

type flags struct {
	dataDir     string
	maxRows     int
	workers     int
	batchSize   int
	priceTier   int
	saveEvery   int
	metricsAddr string
	reset       bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.dataDir, "data-dir", "/data/places", "directory with places parquet files and the cursor")
	flag.IntVar(&f.maxRows, "max-rows", 0, "max rows to read (0=unlimited)")
	flag.IntVar(&f.workers, "workers", 8, "parallel embed+upsert workers")
	flag.IntVar(&f.batchSize, "batch-size", 100, "venues per batch")
	flag.IntVar(&f.priceTier, "price-tier", 2, "price tier for venues (the dataset has none)")
	flag.IntVar(&f.saveEvery, "cursor-interval", 10_000, "save the cursor every N rows")
	flag.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flag.BoolVar(&f.reset, "reset", false, "discard the cursor and start from the first file")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("venueloader failed", zap.Error(err))
	}
}

//nolint:funlen // composition root
func run(ctx context.Context, f flags, cfg config.Config, logger *zap.Logger) error {
	if f.workers <= 0 || f.batchSize <= 0 {
		return errors.New("workers and batch-size must be positive")
	}

	reg := prometheus.NewRegistry()
	metrics := newLoaderMetrics(reg)
	if f.metricsAddr != "" {
		srv := serveMetrics(f.metricsAddr, reg, logger)
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	cursor, err := newCursorTracker(f.dataDir, f.saveEvery, logger)
	if err != nil {
		return err
	}
	if f.reset {
		cursor.Reset()
		logger.Info("Cursor reset")
	}
	if cursor.Get().Done {
		logger.Info("Load already complete; use -reset to reload")
		return nil
	}

	store, err := dbRedis.NewStore(dbRedis.Config{Addrs: cfg.Database.Addrs, Password: cfg.Database.Password})
	if err != nil {
		return fmt.Errorf("create database store: %w", err)
	}
	defer store.Close()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}

	prefix := cfg.Database.KeyPrefix
	tiered := cache.New(store, prefix, cfg.Cache.LocalSize, cfg.Cache.LocalTTL, logger.Named("cache"))
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

	vocab, err := constraints.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		return fmt.Errorf("load vocabulary: %w", err)
	}
	cuisines := constraints.New(vocab, store, tiered, prefix, cfg.Cache.PlaceTTL, logger.Named("constraints"))

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

	reader, err := newParquetReader(f.dataDir)
	if err != nil {
		return err
	}

	ing := &ingester{
		venues:    venues,
		embedder:  embedder,
		convert:   converter{cuisines: cuisines, priceTier: f.priceTier}.convert,
		workers:   f.workers,
		batchSize: f.batchSize,
		metrics:   metrics,
		cursor:    cursor,
		logger:    logger,
	}
	logger.Info("Loading venues",
		zap.String("version", version.String()),
		zap.String("data_dir", f.dataDir),
		zap.Int("workers", f.workers),
	)
	res, err := ing.Run(ctx, reader, f.maxRows)
	cursor.Save()
	logger.Info("Load finished",
		zap.Int64("processed", res.Processed),
		zap.Int64("skipped", res.Skipped),
		zap.Int64("failed", res.Failed),
		zap.Duration("duration", res.Duration.Round(time.Second)),
	)
	if err != nil {
		return err
	}
	if f.maxRows == 0 {
		cursor.Finish()
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
