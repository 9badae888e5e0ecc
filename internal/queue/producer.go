// Package queue moves crawl jobs between the API and the crawl workers over
// Kafka. Jobs are small JSON records keyed by site so one site's crawls stay
// on one partition.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"sitechat/internal/crawler"
	"sitechat/internal/logging"
)

const produceTimeout = 5 * time.Second

// Producer publishes crawl jobs.
type Producer struct {
	client *kgo.Client
	topic  string
	logger logging.Logger
}

// NewProducer connects a Kafka producer for the crawl topic.
func NewProducer(brokers []string, topic string, logger logging.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("sitechat-api"),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Producer{client: client, topic: topic, logger: logger}, nil
}

// Enqueue publishes one crawl job. The record key pins a site's crawls to a
// single partition so they are consumed in order.
func (p *Producer) Enqueue(ctx context.Context, siteID string, urls []string) error {
	value, err := json.Marshal(crawler.Job{SiteID: siteID, URLs: urls})
	if err != nil {
		return fmt.Errorf("marshal crawl job: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte("crawl-" + siteID),
		Value: value,
	}

	produceCtx, cancel := context.WithTimeout(ctx, produceTimeout)
	defer cancel()

	if err := p.client.ProduceSync(produceCtx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce crawl job for site %s: %w", siteID, err)
	}

	p.logger.WithFields(logging.Fields{
		"site_id": siteID,
		"topic":   p.topic,
	}).Info("crawl job enqueued")
	return nil
}

// HealthCheck pings the broker.
func (p *Producer) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

func (p *Producer) Close() {
	p.client.Close()
}
