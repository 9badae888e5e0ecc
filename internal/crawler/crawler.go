// Package crawler turns a site's public pages into embedded knowledge
// chunks. A bounded breadth-first crawl renders each page in headless
// Chromium, extracts readable text, and hands the result to the ingestion
// step, which chunks, embeds, and replaces the site's vector namespace
// atomically from the caller's point of view.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sitechat/internal/cache"
	"sitechat/internal/chunker"
	"sitechat/internal/llm"
	"sitechat/internal/logging"
	"sitechat/internal/store"
	"sitechat/internal/vector"
)

// Job is one crawl request for a site. URLs seeds the frontier; when empty
// the site's stored seed URLs (or its root URL) are used.
type Job struct {
	SiteID string   `json:"siteId"`
	URLs   []string `json:"urls,omitempty"`
}

// SiteStore is the slice of the site repository the crawler needs.
type SiteStore interface {
	FindByID(ctx context.Context, siteID string) (*store.Site, error)
	UpdateStatus(ctx context.Context, siteID, status, lastError string) error
	MarkCrawlFinished(ctx context.Context, siteID string, at time.Time) error
}

// ChunkStore persists the text side of indexed chunks.
type ChunkStore interface {
	BulkCreate(ctx context.Context, chunks []store.KnowledgeChunk) error
	DeleteBySite(ctx context.Context, siteID string) error
}

// VectorStore persists the embedding side of indexed chunks.
type VectorStore interface {
	Upsert(ctx context.Context, records []vector.Record) error
	DeleteNamespace(ctx context.Context, siteID string) error
}

// ProgressSink receives crawl progress snapshots. Publish failures are
// logged and ignored; progress is advisory, not part of the crawl result.
type ProgressSink interface {
	Publish(ctx context.Context, p cache.Progress) error
}

// Config wires a Crawler's dependencies and budgets. Zero budgets fall back
// to conservative defaults.
type Config struct {
	Sites    SiteStore
	Chunks   ChunkStore
	Vectors  VectorStore
	Progress ProgressSink
	Fetcher  Fetcher
	Embedder llm.EmbeddingClient
	Logger   logging.Logger

	MaxPages    int
	MaxDepth    int
	MaxDuration time.Duration
	MinPages    int
	PoliteDelay time.Duration

	ChunkTokenLimit   int
	ChunkTokenOverlap int
}

// Crawler runs bounded site crawls and indexes what they find.
type Crawler struct {
	cfg Config
	log logging.Logger
}

func New(cfg Config) *Crawler {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 0
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 10 * time.Minute
	}
	if cfg.MinPages <= 0 {
		cfg.MinPages = 3
	}
	if cfg.ChunkTokenLimit <= 0 {
		cfg.ChunkTokenLimit = 500
	}
	if cfg.ChunkTokenOverlap < 0 {
		cfg.ChunkTokenOverlap = 0
	}
	return &Crawler{cfg: cfg, log: cfg.Logger}
}

type frontierEntry struct {
	url   string
	depth int
}

// Run executes one crawl job end to end: BFS over same-host links within
// the page, depth, and wall-clock budgets, then chunk/embed/index. The
// site's status reflects the outcome (crawling -> active or error).
func (c *Crawler) Run(ctx context.Context, job Job) error {
	started := time.Now()
	defer func() { crawlDuration.Observe(time.Since(started).Seconds()) }()

	site, err := c.cfg.Sites.FindByID(ctx, job.SiteID)
	if err != nil {
		crawlsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("load site %s: %w", job.SiteID, err)
	}

	if err := c.cfg.Sites.UpdateStatus(ctx, site.ID, store.SiteStatusCrawling, ""); err != nil {
		crawlsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("mark site crawling: %w", err)
	}

	progress := &cache.Progress{SiteID: site.ID, Status: "crawling"}
	c.publish(ctx, progress)

	pages, pageErrs := c.collect(ctx, site, job, progress)

	if len(pages) < c.cfg.MinPages {
		msg := fmt.Sprintf("insufficient pages: %d/%d - site may be blocking automated access", len(pages), c.cfg.MinPages)
		if statusErr := c.cfg.Sites.UpdateStatus(ctx, site.ID, store.SiteStatusError, msg); statusErr != nil {
			c.log.WithError(statusErr).WithField("site_id", site.ID).Warn("failed to record crawl error status")
		}
		progress.Status = "failed"
		progress.Errors = pageErrs
		c.publish(ctx, progress)
		crawlsTotal.WithLabelValues("insufficient_pages").Inc()
		return errors.New(msg)
	}

	progress.Status = "processing"
	c.publish(ctx, progress)

	if err := c.ingest(ctx, site, pages, progress); err != nil {
		if statusErr := c.cfg.Sites.UpdateStatus(ctx, site.ID, store.SiteStatusError, err.Error()); statusErr != nil {
			c.log.WithError(statusErr).WithField("site_id", site.ID).Warn("failed to record crawl error status")
		}
		progress.Status = "failed"
		c.publish(ctx, progress)
		crawlsTotal.WithLabelValues("error").Inc()
		return err
	}

	if err := c.cfg.Sites.MarkCrawlFinished(ctx, site.ID, time.Now()); err != nil {
		crawlsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("mark crawl finished: %w", err)
	}

	progress.Status = "completed"
	c.publish(ctx, progress)
	crawlsTotal.WithLabelValues("success").Inc()

	c.log.WithFields(logging.Fields{
		"site_id":  site.ID,
		"pages":    len(pages),
		"errors":   len(pageErrs),
		"duration": time.Since(started).Round(time.Millisecond).String(),
	}).Info("crawl completed")
	return nil
}

// collect is the BFS loop. It stops when the frontier drains or any budget
// (pages, depth, wall clock) is exhausted, and returns whatever pages it
// managed to fetch along with per-URL errors.
func (c *Crawler) collect(ctx context.Context, site *store.Site, job Job, progress *cache.Progress) ([]*Page, []cache.PageError) {
	deadline, cancel := context.WithTimeout(ctx, c.cfg.MaxDuration)
	defer cancel()

	seeds := job.URLs
	if len(seeds) == 0 {
		seeds = site.SeedURLs
	}
	if len(seeds) == 0 {
		seeds = []string{site.URL}
	}

	var frontier []frontierEntry
	discovered := make(map[string]bool)
	var scopeURL string
	for _, seed := range seeds {
		normalized, err := NormalizeURL(seed)
		if err != nil {
			continue
		}
		if scopeURL == "" {
			scopeURL = normalized
		}
		if !discovered[normalized] {
			discovered[normalized] = true
			frontier = append(frontier, frontierEntry{url: normalized, depth: 0})
		}
	}
	progress.PagesDiscovered = len(frontier)

	var pages []*Page
	var pageErrs []cache.PageError
	visited := 0

	// The page budget bounds visits, not successes: a site full of broken
	// links must not turn the budget into an unbounded retry sweep.
	for len(frontier) > 0 && visited < c.cfg.MaxPages {
		if deadline.Err() != nil {
			c.log.WithField("site_id", site.ID).Warn("crawl stopped: duration budget exhausted")
			break
		}

		entry := frontier[0]
		frontier = frontier[1:]
		visited++

		progress.CurrentURL = entry.url
		progress.PagesCrawled = visited
		progress.PagesProcessed = len(pages)
		c.publish(ctx, progress)

		fetchStart := time.Now()
		page, err := c.cfg.Fetcher.Fetch(deadline, entry.url)
		fetchDuration.Observe(time.Since(fetchStart).Seconds())
		if err != nil {
			status := "error"
			if errors.Is(err, ErrBotBlocked) {
				status = "blocked"
			}
			crawlPagesTotal.WithLabelValues(status).Inc()
			pageErrs = append(pageErrs, cache.PageError{URL: entry.url, Message: err.Error()})
			c.log.WithError(err).WithField("url", entry.url).Warn("page fetch failed")
			c.politePause(deadline)
			continue
		}

		if page.Content == "" {
			crawlPagesTotal.WithLabelValues("empty").Inc()
			c.politePause(deadline)
			continue
		}

		pages = append(pages, page)
		crawlPagesTotal.WithLabelValues("success").Inc()

		if entry.depth < c.cfg.MaxDepth {
			for _, link := range page.Links {
				normalized, linkErr := NormalizeURL(link)
				if linkErr != nil || discovered[normalized] {
					continue
				}
				if !SameHost(normalized, scopeURL) {
					continue
				}
				discovered[normalized] = true
				frontier = append(frontier, frontierEntry{url: normalized, depth: entry.depth + 1})
				linkDiscoveryTotal.Inc()
			}
			progress.PagesDiscovered = len(discovered)
		}

		if len(frontier) > 0 && visited < c.cfg.MaxPages {
			c.politePause(deadline)
		}
	}

	progress.CurrentURL = ""
	progress.PagesCrawled = visited
	progress.PagesProcessed = len(pages)
	progress.Errors = pageErrs
	return pages, pageErrs
}

// ingest chunks, embeds, and indexes the fetched pages, replacing the
// site's previous chunks. Old data is deleted only after embedding has
// succeeded so a failed run leaves the prior index intact.
func (c *Crawler) ingest(ctx context.Context, site *store.Site, pages []*Page, progress *cache.Progress) error {
	var records []vector.Record
	var chunks []store.KnowledgeChunk

	for _, page := range pages {
		heading := page.Title
		pageChunks := chunker.Split(chunker.Normalize(page.Content), c.cfg.ChunkTokenLimit, c.cfg.ChunkTokenOverlap)
		for _, chunk := range pageChunks {
			vectorID := vector.NewRecordID(site.ID)
			records = append(records, vector.Record{
				ID:      vectorID,
				SiteID:  site.ID,
				PageURL: page.URL,
				Heading: heading,
				Content: chunk.Content,
			})
			chunks = append(chunks, store.KnowledgeChunk{
				ID:         uuid.NewString(),
				SiteID:     site.ID,
				PageURL:    page.URL,
				Heading:    heading,
				Content:    chunk.Content,
				VectorID:   vectorID,
				ChunkIndex: chunk.Index,
			})
		}
	}

	if len(records) == 0 {
		return errors.New("no indexable content extracted from crawled pages")
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = record.Content
	}
	embeddings, err := c.cfg.Embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(records), err)
	}
	for i := range records {
		records[i].Embedding = embeddings[i]
	}

	if err := c.cfg.Vectors.DeleteNamespace(ctx, site.ID); err != nil {
		return fmt.Errorf("clear vector namespace: %w", err)
	}
	if err := c.cfg.Chunks.DeleteBySite(ctx, site.ID); err != nil {
		return fmt.Errorf("clear previous chunks: %w", err)
	}
	if err := c.cfg.Vectors.Upsert(ctx, records); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	if err := c.cfg.Chunks.BulkCreate(ctx, chunks); err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}

	chunksIndexedTotal.Add(float64(len(records)))
	progress.PagesProcessed = len(pages)
	return nil
}

func (c *Crawler) publish(ctx context.Context, p *cache.Progress) {
	if c.cfg.Progress == nil {
		return
	}
	if err := c.cfg.Progress.Publish(ctx, *p); err != nil {
		c.log.WithError(err).WithField("site_id", p.SiteID).Warn("failed to publish crawl progress")
	}
}

// politePause sleeps the configured delay between fetches, returning early
// if the crawl deadline fires.
func (c *Crawler) politePause(ctx context.Context) {
	if c.cfg.PoliteDelay <= 0 {
		return
	}
	timer := time.NewTimer(c.cfg.PoliteDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
