package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// KnowledgeChunk is the durable record of one embedded chunk. VectorID
// references the row in the vector namespace.
type KnowledgeChunk struct {
	ID         string
	SiteID     string
	PageURL    string
	Heading    string
	Content    string
	VectorID   string
	ChunkIndex int
	CreatedAt  time.Time
}

// Chunks is the knowledge chunk repository.
type Chunks struct {
	db *sql.DB
}

// NewChunks returns a chunk repository over the given connection.
func NewChunks(db *sql.DB) *Chunks {
	return &Chunks{db: db}
}

// BulkCreate inserts all chunks in one transaction. Called once at the end
// of a successful crawl.
func (c *Chunks) BulkCreate(ctx context.Context, chunks []KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO knowledge_chunks (
			id,
			site_id,
			page_url,
			heading,
			content,
			vector_id,
			chunk_index
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if chunk.SiteID == "" {
			return errors.New("site id is required for chunk")
		}
		if _, err := stmt.ExecContext(
			ctx,
			chunk.ID,
			chunk.SiteID,
			chunk.PageURL,
			chunk.Heading,
			chunk.Content,
			chunk.VectorID,
			chunk.ChunkIndex,
		); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteBySite removes every chunk row for a site, before a recrawl or on
// site deletion.
func (c *Chunks) DeleteBySite(ctx context.Context, siteID string) error {
	if siteID == "" {
		return errors.New("site id is required")
	}
	if _, err := c.db.ExecContext(ctx, `
		DELETE FROM knowledge_chunks
		WHERE site_id = $1
	`, siteID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// CountBySite reports how many chunks a site has.
func (c *Chunks) CountBySite(ctx context.Context, siteID string) (int, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM knowledge_chunks
		WHERE site_id = $1
	`, siteID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}
