package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"sitechat/internal/cache"
	"sitechat/internal/config"
	"sitechat/internal/crawler"
	"sitechat/internal/database"
	"sitechat/internal/llm"
	"sitechat/internal/logging"
	"sitechat/internal/monitoring"
	"sitechat/internal/queue"
	"sitechat/internal/server"
	"sitechat/internal/store"
	"sitechat/internal/vector"
)

const version = "1.0.0"

func main() {
	logger := logging.NewLoggerWithService("crawlworker")
	config.LoadEnv(logger)

	logger.Info("Starting SiteChat crawl worker")

	cfg := config.LoadConfig()

	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.DatabaseURL
	db := database.MustConnect(dbConfig, logger)
	defer func() { _ = db.Close() }()

	rdb, err := cache.NewClient(context.Background(), cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer func() { _ = rdb.Close() }()

	migrated, err := vector.EnsureDimensions(context.Background(), db, cfg.EmbeddingDimensions)
	if err != nil {
		logger.WithError(err).Fatal("Failed to verify vector dimensions")
	}
	if migrated {
		logger.WithField("dimensions", cfg.EmbeddingDimensions).Info("Vector column migrated to new dimensions")
	}

	embedder, err := llm.NewOpenAIEmbedder(llm.Config{
		APIKey: cfg.OpenAIAPIKey,
		APIURL: cfg.OpenAIBaseURL,
		Model:  cfg.EmbeddingModel,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize embedding client")
	}

	fetcher, err := crawler.NewRodFetcher(cfg.ChromiumPath, cfg.PageTimeout)
	if err != nil {
		logger.WithError(err).Fatal("Failed to launch headless browser")
	}
	defer fetcher.Close()

	runner := crawler.New(crawler.Config{
		Sites:             store.NewSites(db),
		Chunks:            store.NewChunks(db),
		Vectors:           vector.NewStore(db),
		Progress:          cache.NewProgressChannel(rdb),
		Fetcher:           fetcher,
		Embedder:          embedder,
		Logger:            logger,
		MaxPages:          cfg.CrawlMaxPages,
		MaxDepth:          cfg.CrawlMaxDepth,
		MaxDuration:       cfg.CrawlMaxDuration,
		MinPages:          cfg.MinPagesForSuccess,
		PoliteDelay:       cfg.PoliteDelay,
		ChunkTokenLimit:   cfg.ChunkTokenLimit,
		ChunkTokenOverlap: cfg.ChunkTokenOverlap,
	})

	worker, err := queue.NewWorker(cfg.KafkaBrokers, cfg.CrawlTopic, cfg.ConsumerGroup, runner, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Kafka")
	}
	defer worker.Close()

	healthChecker := monitoring.NewHealthChecker("crawlworker", version)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(rdb))
	healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(worker.HealthCheck))

	// Health and metrics only; the worker serves no API.
	router := server.SetupRouter(logger, healthChecker)
	healthPort := config.GetEnv("WORKER_PORT", "8081")
	go func() {
		if err := http.ListenAndServe(":"+healthPort, router); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logging.Fields{
		"topic":       cfg.CrawlTopic,
		"group":       cfg.ConsumerGroup,
		"concurrency": cfg.WorkerConcurrency,
	}).Info("Consuming crawl jobs")

	if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("Worker stopped unexpectedly")
	}
	logger.Info("Crawl worker stopped")
}
