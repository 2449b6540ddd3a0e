// Package reranker defines the contract for cross-encoder rerankers that
// reorder retrieval candidates by query relevance.
package reranker

import "context"

// Result is one reranked document: its position in the input slice and
// the model's relevance score.
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Provider reorders documents by relevance to a query.
type Provider interface {
	// Rerank scores documents against the query and returns up to topN
	// results, best first. topN <= 0 returns all documents.
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)

	// Close releases provider resources.
	Close() error
}
