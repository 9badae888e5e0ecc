// Package vector stores and queries knowledge embeddings in Postgres with
// pgvector. Rows are partitioned by site id, which acts as the isolation
// namespace; every query and delete is site-scoped, never cross-site.
package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Provider cap carried over from batch-oriented vector APIs; keeps upsert
// transactions bounded.
const upsertBatchSize = 100

// Record is one embedded chunk to store.
type Record struct {
	ID        string
	SiteID    string
	PageURL   string
	Heading   string
	Content   string
	Embedding []float32
}

// Match is one similarity query result, highest score first.
type Match struct {
	ID      string
	PageURL string
	Heading string
	Content string
	Score   float64
}

// Store wraps the knowledge_vectors table.
type Store struct {
	db *sql.DB
}

// NewStore returns a vector store over the given connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewRecordID mints a vector id unique within the site's namespace.
func NewRecordID(siteID string) string {
	return siteID + "-" + uuid.NewString()
}

// Upsert writes records in batches. All records must belong to one site.
func (s *Store) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	siteID := records[0].SiteID
	for _, record := range records {
		if record.SiteID == "" {
			return errors.New("site id is required for record")
		}
		if record.SiteID != siteID {
			return fmt.Errorf("all records in an upsert must share one site: %s vs %s", siteID, record.SiteID)
		}
		if record.ID == "" {
			return errors.New("record id is required")
		}
	}

	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.upsertBatch(ctx, records[start:end]); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (s *Store) upsertBatch(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO knowledge_vectors (
			id,
			site_id,
			page_url,
			heading,
			content,
			embedding
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			page_url = EXCLUDED.page_url,
			heading = EXCLUDED.heading,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(
			ctx,
			record.ID,
			record.SiteID,
			record.PageURL,
			record.Heading,
			record.Content,
			pgvector.NewVector(record.Embedding),
		); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteNamespace removes every vector belonging to a site. Used before a
// recrawl and on site deletion.
func (s *Store) DeleteNamespace(ctx context.Context, siteID string) error {
	if siteID == "" {
		return errors.New("site id is required")
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM knowledge_vectors
		WHERE site_id = $1
	`, siteID); err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	return nil
}

// Query returns the topK most similar records in the site's namespace,
// scored by cosine similarity.
func (s *Store) Query(ctx context.Context, siteID string, embedding []float32, topK int) ([]Match, error) {
	if siteID == "" {
		return nil, errors.New("site id is required")
	}
	if len(embedding) == 0 {
		return nil, errors.New("embedding is required")
	}
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id,
			page_url,
			heading,
			content,
			1 - (embedding <=> $2) AS score
		FROM knowledge_vectors
		WHERE site_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, siteID, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var match Match
		if err := rows.Scan(
			&match.ID,
			&match.PageURL,
			&match.Heading,
			&match.Content,
			&match.Score,
		); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}

	return matches, nil
}
