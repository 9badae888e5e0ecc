// Package store holds the relational repositories. Plain CRUD over lib/pq,
// no business logic.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Site lifecycle states.
const (
	SiteStatusPending  = "pending"
	SiteStatusCrawling = "crawling"
	SiteStatusActive   = "active"
	SiteStatusError    = "error"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Site is one registered customer website.
type Site struct {
	ID                    string
	Name                  string
	URL                   string
	Domain                string
	Status                string
	SeedURLs              []string
	SimilarityThreshold   float64
	AllowGeneralKnowledge bool
	MaxMessagesPerSession int
	LastCrawlAt           *time.Time
	LastError             string
	CreatedAt             time.Time
}

// Sites is the site repository.
type Sites struct {
	db *sql.DB
}

// NewSites returns a site repository over the given connection.
func NewSites(db *sql.DB) *Sites {
	return &Sites{db: db}
}

const siteColumns = `id, name, url, domain, status, seed_urls, similarity_threshold,
	allow_general_knowledge, max_messages_per_session, last_crawl_at, last_error, created_at`

// FindByID returns the site or ErrNotFound.
func (s *Sites) FindByID(ctx context.Context, siteID string) (*Site, error) {
	if siteID == "" {
		return nil, errors.New("site id is required")
	}

	var site Site
	var lastCrawl sql.NullTime
	var lastError sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT `+siteColumns+`
		FROM sites
		WHERE id = $1
	`, siteID).Scan(
		&site.ID,
		&site.Name,
		&site.URL,
		&site.Domain,
		&site.Status,
		pq.Array(&site.SeedURLs),
		&site.SimilarityThreshold,
		&site.AllowGeneralKnowledge,
		&site.MaxMessagesPerSession,
		&lastCrawl,
		&lastError,
		&site.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find site: %w", err)
	}
	if lastCrawl.Valid {
		t := lastCrawl.Time
		site.LastCrawlAt = &t
	}
	site.LastError = lastError.String
	return &site, nil
}

// UpdateStatus transitions the site's lifecycle state, recording the error
// message (empty to clear).
func (s *Sites) UpdateStatus(ctx context.Context, siteID, status, lastError string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sites
		SET status = $2, last_error = NULLIF($3, '')
		WHERE id = $1
	`, siteID, status, lastError)
	if err != nil {
		return fmt.Errorf("update site status: %w", err)
	}
	return requireRow(result)
}

// MarkCrawlFinished flips the site to active and stamps the crawl time.
func (s *Sites) MarkCrawlFinished(ctx context.Context, siteID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sites
		SET status = $2, last_crawl_at = $3, last_error = NULL
		WHERE id = $1
	`, siteID, SiteStatusActive, at)
	if err != nil {
		return fmt.Errorf("mark crawl finished: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
