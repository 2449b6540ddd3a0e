// Package embedder defines the contracts for dense and sparse text
// embedding providers.
package embedder

import "context"

// Action tells asymmetric embedding models which side of retrieval the
// text is on. Providers without asymmetric modes ignore it.
type Action string

const (
	// ActionAdd embeds text being stored.
	ActionAdd Action = "add"

	// ActionSearch embeds a query.
	ActionSearch Action = "search"

	// ActionUpdate embeds replacement text for an existing memory.
	ActionUpdate Action = "update"
)

// Provider converts text into dense vectors.
type Provider interface {
	// Embed converts one text into a vector.
	Embed(ctx context.Context, text string, action Action) ([]float64, error)

	// EmbedBatch converts many texts in one call, preserving order.
	EmbedBatch(ctx context.Context, texts []string, action Action) ([][]float64, error)

	// Dimensions is the length of every vector this provider produces.
	Dimensions() int

	// Close releases provider resources.
	Close() error
}

// SparseProvider converts text into sparse token-weight vectors for
// lexical-style retrieval. Keys are token ids within the provider's
// vocabulary, values are non-negative weights.
type SparseProvider interface {
	// EmbedSparse converts one text into a sparse vector.
	EmbedSparse(ctx context.Context, text string, action Action) (map[int]float64, error)

	// VocabSize is the exclusive upper bound on token ids.
	VocabSize() int
}
