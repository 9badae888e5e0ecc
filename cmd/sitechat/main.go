package main

import (
	"context"

	"sitechat/internal/cache"
	"sitechat/internal/config"
	"sitechat/internal/database"
	"sitechat/internal/llm"
	"sitechat/internal/logging"
	"sitechat/internal/monitoring"
	"sitechat/internal/queue"
	"sitechat/internal/search"
	"sitechat/internal/server"
	"sitechat/internal/store"
	"sitechat/internal/vector"
	"sitechat/internal/widget"
)

const version = "1.0.0"

func main() {
	logger := logging.NewLoggerWithService("sitechat")
	config.LoadEnv(logger)

	logger.Info("Starting SiteChat API")

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

	producer, err := queue.NewProducer(cfg.KafkaBrokers, cfg.CrawlTopic, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Kafka")
	}
	defer producer.Close()

	embedder, err := llm.NewOpenAIEmbedder(llm.Config{
		APIKey: cfg.OpenAIAPIKey,
		APIURL: cfg.OpenAIBaseURL,
		Model:  cfg.EmbeddingModel,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize embedding client")
	}
	generator, err := llm.NewOpenAIGenerator(llm.Config{
		APIKey: cfg.OpenAIAPIKey,
		APIURL: cfg.OpenAIBaseURL,
		Model:  cfg.ChatModel,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize chat client")
	}

	sites := store.NewSites(db)
	sessions := store.NewSessions(db)
	messages := store.NewMessages(db)
	unanswered := store.NewUnanswered(db)
	vectors := vector.NewStore(db)

	searchService := search.NewService(embedder, vectors)
	rateLimiter := cache.NewRateLimiter(cache.NewCounter(rdb), cfg.IPRateLimit)
	progress := cache.NewProgressChannel(rdb)
	cooldown := cache.NewCrawlLock(rdb, cfg.RecrawlCooldown)

	orchestrator := &widget.Orchestrator{
		Sites:             sites,
		Sessions:          sessions,
		Messages:          messages,
		Unanswered:        unanswered,
		Limiter:           rateLimiter,
		Search:            searchService,
		Generator:         generator,
		Logger:            logger,
		IPHashSecret:      cfg.IPHashSecret,
		SessionCapDefault: cfg.SessionMessageCap,
	}

	handler := &widget.Handler{
		Orchestrator: orchestrator,
		Sites:        sites,
		Sessions:     sessions,
		Unanswered:   unanswered,
		Progress:     progress,
		Cooldown:     cooldown,
		Queue:        producer,
		Logger:       logger,
	}

	healthChecker := monitoring.NewHealthChecker("sitechat", version)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(rdb))
	healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(producer.HealthCheck))

	router := server.SetupRouter(logger, healthChecker)
	widget.RegisterRoutes(router, handler)

	serverConfig := server.DefaultConfig("sitechat", cfg.Port)
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
