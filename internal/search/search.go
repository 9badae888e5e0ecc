// Package search decides whether a site's knowledge base can ground an
// answer for a question.
package search

import (
	"context"
	"fmt"

	"sitechat/internal/llm"
	"sitechat/internal/vector"
)

const (
	// Candidates fetched from the vector store per question.
	topK = 5
	// Chunks actually handed to the generator.
	maxChunksReturned = 3
)

// VectorIndex is the slice of the vector store the service needs.
type VectorIndex interface {
	Query(ctx context.Context, siteID string, embedding []float32, topK int) ([]vector.Match, error)
}

// Result is the outcome of one knowledge search. When HasAnswer is false,
// BestScore still carries the best observed similarity for diagnostics and
// the unanswered-question record.
type Result struct {
	HasAnswer bool
	Chunks    []vector.Match
	BestScore float64
}

// Service embeds questions and applies the site's similarity threshold.
type Service struct {
	embedder llm.EmbeddingClient
	index    VectorIndex
}

// NewService returns a search service over the given embedder and index.
func NewService(embedder llm.EmbeddingClient, index VectorIndex) *Service {
	return &Service{embedder: embedder, index: index}
}

// Search embeds the question, queries the site's namespace, and filters to
// matches at or above threshold. Passing matches are deduplicated by source
// page, highest score kept, capped at maxChunksReturned.
func (s *Service) Search(ctx context.Context, siteID, question string, threshold float64) (Result, error) {
	embedding, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return Result{}, fmt.Errorf("embed question: %w", err)
	}

	matches, err := s.index.Query(ctx, siteID, embedding, topK)
	if err != nil {
		return Result{}, fmt.Errorf("query namespace %s: %w", siteID, err)
	}
	if len(matches) == 0 {
		return Result{}, nil
	}

	var passing []vector.Match
	for _, match := range matches {
		if match.Score >= threshold {
			passing = append(passing, match)
		}
	}
	if len(passing) == 0 {
		// Matches come back ordered by similarity, best first.
		return Result{BestScore: matches[0].Score}, nil
	}

	return Result{
		HasAnswer: true,
		Chunks:    dedupeByPage(passing, maxChunksReturned),
		BestScore: passing[0].Score,
	}, nil
}

func dedupeByPage(matches []vector.Match, limit int) []vector.Match {
	seen := make(map[string]bool, len(matches))
	out := make([]vector.Match, 0, limit)
	for _, match := range matches {
		if seen[match.PageURL] {
			continue
		}
		seen[match.PageURL] = true
		out = append(out, match)
		if len(out) == limit {
			break
		}
	}
	return out
}
