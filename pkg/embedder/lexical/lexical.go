// Package lexical implements a deterministic sparse embedder built on the
// hashing trick. Tokens are lowercased, hashed into a fixed vocabulary,
// and weighted by sublinear term frequency. It needs no model service,
// which makes it the default sparse signal for self-hosted deployments.
package lexical

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/recallhq/recall-go/pkg/embedder"
)

// DefaultVocabSize matches the sparse column dimension of the SQL backends.
const DefaultVocabSize = 262144

// Embedder implements embedder.SparseProvider.
type Embedder struct {
	vocabSize int
}

// New builds a lexical embedder. vocabSize <= 0 selects the default.
func New(vocabSize int) *Embedder {
	if vocabSize <= 0 {
		vocabSize = DefaultVocabSize
	}
	return &Embedder{vocabSize: vocabSize}
}

// EmbedSparse hashes the text's tokens into weighted token ids. The same
// text always produces the same vector; the action is irrelevant.
func (e *Embedder) EmbedSparse(_ context.Context, text string, _ embedder.Action) (map[int]float64, error) {
	counts := make(map[int]int)
	for _, token := range tokenize(text) {
		counts[e.tokenID(token)]++
	}
	if len(counts) == 0 {
		return nil, nil
	}

	// Sublinear tf, then L2 normalization so inner products stay
	// comparable across texts of different lengths.
	weights := make(map[int]float64, len(counts))
	var norm float64
	for id, n := range counts {
		w := 1 + math.Log(float64(n))
		weights[id] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for id := range weights {
		weights[id] /= norm
	}
	return weights, nil
}

// VocabSize is the exclusive upper bound on token ids.
func (e *Embedder) VocabSize() int {
	return e.vocabSize
}

func (e *Embedder) tokenID(token string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return int(h.Sum32()) % e.vocabSize
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
