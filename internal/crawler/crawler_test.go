package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"sitechat/internal/cache"
	"sitechat/internal/logging"
	"sitechat/internal/store"
	"sitechat/internal/vector"
)

type fakeFetcher struct {
	pages   map[string]*Page
	errs    map[string]error
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL string) (*Page, error) {
	f.fetched = append(f.fetched, pageURL)
	if err, ok := f.errs[pageURL]; ok {
		return nil, err
	}
	if page, ok := f.pages[pageURL]; ok {
		return page, nil
	}
	return nil, fmt.Errorf("no route to %s", pageURL)
}

func (f *fakeFetcher) Close() {}

type fakeSites struct {
	site     *store.Site
	statuses []string
	lastErr  string
	finished bool
}

func (f *fakeSites) FindByID(_ context.Context, siteID string) (*store.Site, error) {
	if f.site == nil || f.site.ID != siteID {
		return nil, store.ErrNotFound
	}
	return f.site, nil
}

func (f *fakeSites) UpdateStatus(_ context.Context, _, status, lastError string) error {
	f.statuses = append(f.statuses, status)
	f.lastErr = lastError
	return nil
}

func (f *fakeSites) MarkCrawlFinished(_ context.Context, _ string, _ time.Time) error {
	f.finished = true
	return nil
}

type fakeChunks struct {
	created []store.KnowledgeChunk
	deleted []string
}

func (f *fakeChunks) BulkCreate(_ context.Context, chunks []store.KnowledgeChunk) error {
	f.created = append(f.created, chunks...)
	return nil
}

func (f *fakeChunks) DeleteBySite(_ context.Context, siteID string) error {
	f.deleted = append(f.deleted, siteID)
	return nil
}

type fakeVectors struct {
	upserted []vector.Record
	cleared  []string
}

func (f *fakeVectors) Upsert(_ context.Context, records []vector.Record) error {
	if len(f.cleared) == 0 {
		return errors.New("upsert before namespace clear")
	}
	f.upserted = append(f.upserted, records...)
	return nil
}

func (f *fakeVectors) DeleteNamespace(_ context.Context, siteID string) error {
	f.cleared = append(f.cleared, siteID)
	return nil
}

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeProgress struct {
	statuses []string
	last     cache.Progress
}

func (f *fakeProgress) Publish(_ context.Context, p cache.Progress) error {
	f.statuses = append(f.statuses, p.Status)
	f.last = p
	return nil
}

func quietLogger() logging.Logger {
	log := logging.NewLogger()
	log.SetOutput(io.Discard)
	return log
}

func sentence(n int) string {
	return fmt.Sprintf("This is fact number %d about the product, spelled out in a full sentence. ", n)
}

func pageContent(words int) string {
	var b strings.Builder
	for i := 0; i < words; i++ {
		b.WriteString(sentence(i))
	}
	return b.String()
}

func testSite() *store.Site {
	return &store.Site{
		ID:     "site-1",
		Name:   "Acme",
		URL:    "https://acme.example",
		Domain: "acme.example",
		Status: store.SiteStatusPending,
	}
}

func newTestCrawler(f *fakeFetcher, sites *fakeSites, chunks *fakeChunks, vectors *fakeVectors, progress *fakeProgress) *Crawler {
	return New(Config{
		Sites:             sites,
		Chunks:            chunks,
		Vectors:           vectors,
		Progress:          progress,
		Fetcher:           f,
		Embedder:          &fakeEmbedder{},
		Logger:            quietLogger(),
		MaxPages:          50,
		MaxDepth:          2,
		MaxDuration:       time.Minute,
		MinPages:          3,
		PoliteDelay:       0,
		ChunkTokenLimit:   500,
		ChunkTokenOverlap: 50,
	})
}

func TestRunCrawlsLinkedPagesAndActivatesSite(t *testing.T) {
	content := pageContent(12)
	fetcher := &fakeFetcher{pages: map[string]*Page{
		"https://acme.example": {
			URL: "https://acme.example", Title: "Home", Content: content,
			Links: []string{"https://acme.example/docs", "https://acme.example/pricing"},
		},
		"https://acme.example/docs": {
			URL: "https://acme.example/docs", Title: "Docs", Content: content,
			Links: []string{"https://acme.example/pricing", "https://acme.example/about"},
		},
		"https://acme.example/pricing": {
			URL: "https://acme.example/pricing", Title: "Pricing", Content: content,
		},
		"https://acme.example/about": {
			URL: "https://acme.example/about", Title: "About", Content: content,
		},
	}}
	sites := &fakeSites{site: testSite()}
	chunks := &fakeChunks{}
	vectors := &fakeVectors{}
	progress := &fakeProgress{}

	c := newTestCrawler(fetcher, sites, chunks, vectors, progress)
	if err := c.Run(context.Background(), Job{SiteID: "site-1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fetcher.fetched) != 4 {
		t.Errorf("fetched %d pages %v, want 4", len(fetcher.fetched), fetcher.fetched)
	}
	// Pricing is linked from both home and docs but must be fetched once.
	seen := map[string]int{}
	for _, u := range fetcher.fetched {
		seen[u]++
		if seen[u] > 1 {
			t.Errorf("fetched %s twice", u)
		}
	}

	if !sites.finished {
		t.Error("MarkCrawlFinished not called")
	}
	if len(sites.statuses) == 0 || sites.statuses[0] != store.SiteStatusCrawling {
		t.Errorf("statuses = %v, want crawling first", sites.statuses)
	}
	if len(vectors.upserted) == 0 {
		t.Fatal("no vectors upserted")
	}
	if len(vectors.upserted) != len(chunks.created) {
		t.Errorf("vector/chunk count mismatch: %d vs %d", len(vectors.upserted), len(chunks.created))
	}
	for _, r := range vectors.upserted {
		if r.SiteID != "site-1" {
			t.Errorf("record in wrong namespace: %s", r.SiteID)
		}
		if len(r.Embedding) == 0 {
			t.Error("record missing embedding")
		}
	}
	if vectors.cleared[0] != "site-1" || chunks.deleted[0] != "site-1" {
		t.Error("previous index not cleared")
	}

	if progress.last.Status != "completed" {
		t.Errorf("final progress status = %q, want completed", progress.last.Status)
	}
	if progress.last.PagesCrawled != 4 || progress.last.PagesProcessed != 4 {
		t.Errorf("progress counts = %d crawled / %d processed, want 4/4",
			progress.last.PagesCrawled, progress.last.PagesProcessed)
	}
}

func TestRunFailsWhenSiteBlocksCrawler(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{
		"https://acme.example": fmt.Errorf("https://acme.example returned 403: %w", ErrBotBlocked),
	}}
	sites := &fakeSites{site: testSite()}
	chunks := &fakeChunks{}
	vectors := &fakeVectors{}
	progress := &fakeProgress{}

	c := newTestCrawler(fetcher, sites, chunks, vectors, progress)
	err := c.Run(context.Background(), Job{SiteID: "site-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "insufficient pages: 0/3") {
		t.Errorf("error = %v, want insufficient pages message", err)
	}
	if sites.statuses[len(sites.statuses)-1] != store.SiteStatusError {
		t.Errorf("statuses = %v, want error last", sites.statuses)
	}
	if !strings.Contains(sites.lastErr, "blocking automated access") {
		t.Errorf("lastErr = %q", sites.lastErr)
	}
	if sites.finished {
		t.Error("MarkCrawlFinished should not be called on failure")
	}
	if len(vectors.upserted) != 0 || len(vectors.cleared) != 0 {
		t.Error("vector store touched on failed crawl")
	}
	if progress.last.Status != "failed" {
		t.Errorf("final progress status = %q, want failed", progress.last.Status)
	}
	if len(progress.last.Errors) != 1 {
		t.Errorf("progress errors = %v, want the blocked page recorded", progress.last.Errors)
	}
}

func TestRunHonorsPageBudget(t *testing.T) {
	content := pageContent(12)
	pages := map[string]*Page{}
	var links []string
	for i := 0; i < 10; i++ {
		u := fmt.Sprintf("https://acme.example/p%d", i)
		links = append(links, u)
		pages[u] = &Page{URL: u, Title: fmt.Sprintf("P%d", i), Content: content}
	}
	pages["https://acme.example"] = &Page{
		URL: "https://acme.example", Title: "Home", Content: content, Links: links,
	}

	fetcher := &fakeFetcher{pages: pages}
	sites := &fakeSites{site: testSite()}
	progress := &fakeProgress{}
	c := New(Config{
		Sites:       sites,
		Chunks:      &fakeChunks{},
		Vectors:     &fakeVectors{},
		Progress:    progress,
		Fetcher:     fetcher,
		Embedder:    &fakeEmbedder{},
		Logger:      quietLogger(),
		MaxPages:    4,
		MaxDepth:    2,
		MaxDuration: time.Minute,
		MinPages:    3,
	})

	if err := c.Run(context.Background(), Job{SiteID: "site-1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fetcher.fetched) != 4 {
		t.Errorf("fetched %d pages, budget is 4", len(fetcher.fetched))
	}
}

func TestRunPageBudgetCountsFailedFetches(t *testing.T) {
	// A seed full of dead links must not let the crawler visit more URLs
	// than the page budget allows.
	content := pageContent(12)
	var links []string
	for i := 0; i < 20; i++ {
		links = append(links, fmt.Sprintf("https://acme.example/dead%d", i))
	}
	fetcher := &fakeFetcher{pages: map[string]*Page{
		"https://acme.example": {
			URL: "https://acme.example", Title: "Home", Content: content, Links: links,
		},
	}}
	sites := &fakeSites{site: testSite()}
	progress := &fakeProgress{}
	c := New(Config{
		Sites:       sites,
		Chunks:      &fakeChunks{},
		Vectors:     &fakeVectors{},
		Progress:    progress,
		Fetcher:     fetcher,
		Embedder:    &fakeEmbedder{},
		Logger:      quietLogger(),
		MaxPages:    4,
		MaxDepth:    2,
		MaxDuration: time.Minute,
		MinPages:    3,
	})

	err := c.Run(context.Background(), Job{SiteID: "site-1"})
	if err == nil {
		t.Fatal("expected insufficient pages error")
	}
	if len(fetcher.fetched) != 4 {
		t.Errorf("visited %d URLs, budget is 4: %v", len(fetcher.fetched), fetcher.fetched)
	}
	if progress.last.PagesCrawled != 4 {
		t.Errorf("PagesCrawled = %d, want 4 visits", progress.last.PagesCrawled)
	}
	if progress.last.PagesProcessed != 1 {
		t.Errorf("PagesProcessed = %d, want 1 page with content", progress.last.PagesProcessed)
	}
}

func TestRunHonorsDepthBudget(t *testing.T) {
	content := pageContent(12)
	fetcher := &fakeFetcher{pages: map[string]*Page{
		"https://acme.example": {
			URL: "https://acme.example", Title: "Home", Content: content,
			Links: []string{"https://acme.example/a", "https://acme.example/b", "https://acme.example/c"},
		},
		"https://acme.example/a": {
			URL: "https://acme.example/a", Title: "A", Content: content,
			Links: []string{"https://acme.example/deep"},
		},
		"https://acme.example/b": {URL: "https://acme.example/b", Title: "B", Content: content},
		"https://acme.example/c": {URL: "https://acme.example/c", Title: "C", Content: content},
		"https://acme.example/deep": {
			URL: "https://acme.example/deep", Title: "Deep", Content: content,
		},
	}}
	sites := &fakeSites{site: testSite()}
	c := New(Config{
		Sites:       sites,
		Chunks:      &fakeChunks{},
		Vectors:     &fakeVectors{},
		Progress:    &fakeProgress{},
		Fetcher:     fetcher,
		Embedder:    &fakeEmbedder{},
		Logger:      quietLogger(),
		MaxPages:    50,
		MaxDepth:    1,
		MaxDuration: time.Minute,
		MinPages:    3,
	})

	if err := c.Run(context.Background(), Job{SiteID: "site-1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, u := range fetcher.fetched {
		if u == "https://acme.example/deep" {
			t.Error("depth-2 page fetched with MaxDepth=1")
		}
	}
	if len(fetcher.fetched) != 4 {
		t.Errorf("fetched %v, want seed plus 3 depth-1 pages", fetcher.fetched)
	}
}

func TestRunSkipsOffHostLinks(t *testing.T) {
	content := pageContent(12)
	fetcher := &fakeFetcher{pages: map[string]*Page{
		"https://acme.example": {
			URL: "https://acme.example", Title: "Home", Content: content,
			Links: []string{
				"https://other.example/elsewhere",
				"https://acme.example/a",
				"https://acme.example/b",
			},
		},
		"https://acme.example/a": {URL: "https://acme.example/a", Title: "A", Content: content},
		"https://acme.example/b": {URL: "https://acme.example/b", Title: "B", Content: content},
	}}
	sites := &fakeSites{site: testSite()}
	c := newTestCrawler(fetcher, sites, &fakeChunks{}, &fakeVectors{}, &fakeProgress{})

	if err := c.Run(context.Background(), Job{SiteID: "site-1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, u := range fetcher.fetched {
		if strings.Contains(u, "other.example") {
			t.Errorf("off-host page fetched: %s", u)
		}
	}
}

func TestRunToleratesPartialFailures(t *testing.T) {
	content := pageContent(12)
	fetcher := &fakeFetcher{
		pages: map[string]*Page{
			"https://acme.example": {
				URL: "https://acme.example", Title: "Home", Content: content,
				Links: []string{
					"https://acme.example/a",
					"https://acme.example/broken",
					"https://acme.example/b",
					"https://acme.example/c",
				},
			},
			"https://acme.example/a": {URL: "https://acme.example/a", Title: "A", Content: content},
			"https://acme.example/b": {URL: "https://acme.example/b", Title: "B", Content: content},
			"https://acme.example/c": {URL: "https://acme.example/c", Title: "C", Content: content},
		},
		errs: map[string]error{
			"https://acme.example/broken": errors.New("navigate timeout"),
		},
	}
	sites := &fakeSites{site: testSite()}
	progress := &fakeProgress{}
	c := newTestCrawler(fetcher, sites, &fakeChunks{}, &fakeVectors{}, progress)

	if err := c.Run(context.Background(), Job{SiteID: "site-1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if progress.last.Status != "completed" {
		t.Errorf("status = %q, one broken page should not fail the crawl", progress.last.Status)
	}
	if len(progress.last.Errors) != 1 || progress.last.Errors[0].URL != "https://acme.example/broken" {
		t.Errorf("progress errors = %v", progress.last.Errors)
	}
}

func TestRunUnknownSite(t *testing.T) {
	sites := &fakeSites{}
	c := newTestCrawler(&fakeFetcher{}, sites, &fakeChunks{}, &fakeVectors{}, &fakeProgress{})
	err := c.Run(context.Background(), Job{SiteID: "nope"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
