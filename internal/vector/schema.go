package vector

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the DDL for the vector table. Applied by deploy tooling; kept
// here so the store and its shape live together.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS knowledge_vectors (
	id         TEXT PRIMARY KEY,
	site_id    TEXT NOT NULL,
	page_url   TEXT NOT NULL,
	heading    TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	embedding  vector(1536) NOT NULL
);

CREATE INDEX IF NOT EXISTS knowledge_vectors_site_idx
	ON knowledge_vectors (site_id);

CREATE INDEX IF NOT EXISTS knowledge_vectors_embedding_idx
	ON knowledge_vectors USING hnsw (embedding vector_cosine_ops)
	WITH (m = 24, ef_construction = 256);
`

// EnsureDimensions checks whether the embedding column matches the model's
// output dimensions; when they differ it truncates stale vectors, alters the
// column, and rebuilds the HNSW index. Returns true when a migration ran.
func EnsureDimensions(ctx context.Context, db *sql.DB, target int) (bool, error) {
	if target <= 0 {
		return false, fmt.Errorf("invalid embedding dimensions: %d", target)
	}

	// pgvector stores the dimension count in atttypmod for vector(N) columns.
	var current int
	err := db.QueryRowContext(ctx, `
		SELECT atttypmod
		FROM pg_attribute
		WHERE attrelid = 'knowledge_vectors'::regclass
		  AND attname = 'embedding'
	`).Scan(&current)
	if err != nil {
		return false, fmt.Errorf("query current embedding dimensions: %w", err)
	}

	if current == target {
		return false, nil
	}

	// Old embeddings come from a different model and cannot be searched
	// against the new one, so truncate before altering.
	stmts := []string{
		`DROP INDEX IF EXISTS knowledge_vectors_embedding_idx`,
		`TRUNCATE knowledge_vectors`,
		fmt.Sprintf(`ALTER TABLE knowledge_vectors ALTER COLUMN embedding TYPE vector(%d)`, target),
		`CREATE INDEX knowledge_vectors_embedding_idx ON knowledge_vectors USING hnsw (embedding vector_cosine_ops) WITH (m = 24, ef_construction = 256)`,
	}
	for _, stmt := range stmts {
		if _, execErr := db.ExecContext(ctx, stmt); execErr != nil {
			return false, fmt.Errorf("migrate embedding dimensions (%d -> %d): %w", current, target, execErr)
		}
	}

	return true, nil
}
