package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"sitechat/internal/crawler"
	"sitechat/internal/logging"
)

// JobRunner executes one crawl job. Implemented by crawler.Crawler.
type JobRunner interface {
	Run(ctx context.Context, job crawler.Job) error
}

// Worker consumes crawl jobs and runs them with bounded concurrency.
//
// Offsets are committed before processing: a crawl takes minutes, and
// re-running a half-finished crawl after a restart is worse than dropping
// it. The site owner can always trigger a recrawl, while a redelivery
// loop would hammer the target site.
type Worker struct {
	client      *kgo.Client
	runner      JobRunner
	logger      logging.Logger
	concurrency int
}

// NewWorker joins the consumer group for the crawl topic.
func NewWorker(brokers []string, topic, group string, runner JobRunner, concurrency int, logger logging.Logger) (*Worker, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ClientID("sitechat-crawlworker"),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Worker{
		client:      client,
		runner:      runner,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start polls for crawl jobs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			fetches := w.client.PollFetches(ctx)
			if errs := fetches.Errors(); len(errs) > 0 {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Errorf("errors while polling: %v", errs)
				continue
			}

			iter := fetches.RecordIter()
			records := make([]*kgo.Record, 0)
			for !iter.Done() {
				records = append(records, iter.Next())
			}
			if len(records) == 0 {
				continue
			}

			if err := w.client.CommitRecords(ctx, records...); err != nil {
				w.logger.WithError(err).Error("failed to commit crawl job offsets")
			}
			w.processBatch(ctx, records)
		}
	}
}

// processBatch runs the batch's jobs with at most `concurrency` crawls in
// flight. Job failures are logged; they never stop the worker.
func (w *Worker) processBatch(ctx context.Context, records []*kgo.Record) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.concurrency)

	for _, record := range records {
		record := record
		group.Go(func() error {
			job, err := decodeJob(record)
			if err != nil {
				w.logger.WithError(err).WithFields(logging.Fields{
					"topic":     record.Topic,
					"partition": record.Partition,
					"offset":    record.Offset,
				}).Error("dropping malformed crawl job")
				return nil
			}

			started := time.Now()
			if err := w.runner.Run(groupCtx, job); err != nil {
				w.logger.WithError(err).WithField("site_id", job.SiteID).Error("crawl job failed")
				return nil
			}
			w.logger.WithFields(logging.Fields{
				"site_id":  job.SiteID,
				"duration": time.Since(started).Round(time.Second).String(),
			}).Info("crawl job finished")
			return nil
		})
	}
	_ = group.Wait()
}

func decodeJob(record *kgo.Record) (crawler.Job, error) {
	var job crawler.Job
	if err := json.Unmarshal(record.Value, &job); err != nil {
		return crawler.Job{}, fmt.Errorf("decode crawl job: %w", err)
	}
	if job.SiteID == "" {
		return crawler.Job{}, fmt.Errorf("crawl job missing siteId")
	}
	return job, nil
}

// HealthCheck pings the broker.
func (w *Worker) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

func (w *Worker) Close() {
	w.client.Close()
}
