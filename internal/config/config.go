package config

import (
	"strings"
	"time"
)

// Config stores environment configuration shared by the API server and the
// crawl worker.
type Config struct {
	Port                string
	DatabaseURL         string
	RedisURL            string
	KafkaBrokers        []string
	CrawlTopic          string
	ConsumerGroup       string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	EmbeddingModel      string
	EmbeddingDimensions int
	ChatModel           string
	CrawlMaxPages       int
	CrawlMaxDepth       int
	CrawlMaxDuration    time.Duration
	MinPagesForSuccess  int
	PoliteDelay         time.Duration
	PageTimeout         time.Duration
	WorkerConcurrency   int
	RecrawlCooldown     time.Duration
	ChunkTokenLimit     int
	ChunkTokenOverlap   int
	IPRateLimit         int
	SessionMessageCap   int
	IPHashSecret        string
	ChromiumPath        string
}

// LoadConfig loads the service configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Port:                GetEnv("PORT", "8080"),
		DatabaseURL:         RequireEnv("DATABASE_URL"),
		RedisURL:            GetEnv("REDIS_URL", "redis://localhost:6379"),
		KafkaBrokers:        parseList(GetEnv("KAFKA_BROKERS", "localhost:9092")),
		CrawlTopic:          GetEnv("CRAWL_TOPIC", "site-crawl"),
		ConsumerGroup:       GetEnv("CONSUMER_GROUP", "sitechat-crawlers"),
		OpenAIAPIKey:        RequireEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:       GetEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		EmbeddingModel:      GetEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: GetEnvInt("EMBEDDING_DIMENSIONS", 1536),
		ChatModel:           GetEnv("CHAT_MODEL", "gpt-4o-mini"),
		CrawlMaxPages:       GetEnvInt("CRAWL_MAX_PAGES", 50),
		CrawlMaxDepth:       GetEnvInt("CRAWL_DEPTH", 2),
		CrawlMaxDuration:    GetEnvDuration("CRAWL_MAX_DURATION", 10*time.Minute),
		MinPagesForSuccess:  GetEnvInt("MIN_PAGES_FOR_SUCCESS", 3),
		PoliteDelay:         GetEnvDuration("CRAWL_POLITE_DELAY", time.Second),
		PageTimeout:         GetEnvDuration("CRAWL_PAGE_TIMEOUT", 30*time.Second),
		WorkerConcurrency:   GetEnvInt("WORKER_CONCURRENCY", 2),
		RecrawlCooldown:     time.Duration(GetEnvInt("RECRAWL_RATE_LIMIT_HOURS", 6)) * time.Hour,
		ChunkTokenLimit:     GetEnvInt("CHUNK_TOKEN_LIMIT", 500),
		ChunkTokenOverlap:   GetEnvInt("CHUNK_TOKEN_OVERLAP", 50),
		IPRateLimit:         GetEnvInt("IP_RATE_LIMIT", 50),
		SessionMessageCap:   GetEnvInt("SESSION_MESSAGE_LIMIT", 15),
		IPHashSecret:        GetEnv("IP_HASH_SECRET", "default-secret"),
		ChromiumPath:        GetEnv("CHROMIUM_PATH", ""),
	}
}

func parseList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var result []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}
