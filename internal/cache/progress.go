package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const progressTTL = time.Hour

// Progress is the live view of a crawl job, polled by the dashboard while
// the worker runs. Overwritten on every iteration; last writer wins.
type Progress struct {
	SiteID          string      `json:"siteId"`
	Status          string      `json:"status"`
	PagesDiscovered int         `json:"pagesDiscovered"`
	PagesCrawled    int         `json:"pagesCrawled"`
	PagesProcessed  int         `json:"pagesProcessed"`
	CurrentURL      string      `json:"currentUrl,omitempty"`
	Errors          []PageError `json:"errors,omitempty"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// PageError records a single failed page fetch.
type PageError struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

// ProgressChannel publishes and reads crawl progress snapshots.
type ProgressChannel struct {
	rdb Cmdable
}

// NewProgressChannel returns a progress accessor over the given client.
func NewProgressChannel(rdb Cmdable) *ProgressChannel {
	return &ProgressChannel{rdb: rdb}
}

func progressKey(siteID string) string {
	return "crawl:progress:" + siteID
}

// Publish overwrites the progress snapshot for a site.
func (p *ProgressChannel) Publish(ctx context.Context, progress Progress) error {
	progress.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := p.rdb.Set(ctx, progressKey(progress.SiteID), payload, progressTTL).Err(); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

// Get returns the current progress snapshot, or nil when none exists.
func (p *ProgressChannel) Get(ctx context.Context, siteID string) (*Progress, error) {
	payload, err := p.rdb.Get(ctx, progressKey(siteID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	var progress Progress
	if err := json.Unmarshal([]byte(payload), &progress); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &progress, nil
}

// Clear removes the progress snapshot for a site.
func (p *ProgressChannel) Clear(ctx context.Context, siteID string) error {
	return p.rdb.Del(ctx, progressKey(siteID)).Err()
}
