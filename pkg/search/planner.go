// Package search plans and executes hybrid retrieval over a vector store.
//
// A query carries up to three signals (dense, full-text, sparse). When the
// connected engine can fuse them in one call and nothing in the request
// needs client-side work, the whole query is pushed down. Otherwise the
// signals run concurrently and are fused client-side with reciprocal rank
// fusion.
package search

import (
	"github.com/recallhq/recall-go/pkg/storage"
)

// Mode says where fusion happens.
type Mode string

const (
	// ModeNative pushes the fused query to the engine.
	ModeNative Mode = "native"

	// ModeFallback fans out per-signal queries and fuses client-side.
	ModeFallback Mode = "fallback"
)

// Request is a planned retrieval request. At least one signal must be set.
type Request struct {
	// Dense is the query embedding.
	Dense []float64

	// Query is the full-text query string. Empty disables the signal.
	Query string

	// Sparse is the sparse query vector. Nil disables the signal.
	Sparse map[int]float64

	Identity *storage.Identity
	Filter   *storage.Filter
	Limit    int

	// Threshold drops dense candidates scoring below it. Dense scores are
	// cosine similarities, so the useful range is (0, 1]. Zero disables
	// the cut. A non-zero threshold forces client-side execution.
	Threshold float64

	// Weights are per-signal fusion weights. Zero values mean equal
	// weight over the active signals.
	Weights storage.HybridWeights
}

// Signals reports which signals the request activates.
func (r *Request) Signals() (dense, fullText, sparse bool) {
	return len(r.Dense) > 0, r.Query != "", len(r.Sparse) > 0
}

// Plan is the execution decision for one request.
type Plan struct {
	Mode Mode

	// Reason explains a fallback decision. Empty for native plans.
	Reason string

	// Dense, FullText, Sparse are the signals that will actually run,
	// after capability pruning.
	Dense    bool
	FullText bool
	Sparse   bool
}

// MakePlan decides native versus fallback for a request against the probed
// capabilities. It is pure: same inputs, same plan.
func MakePlan(caps storage.Capabilities, req *Request) Plan {
	dense, fullText, sparse := req.Signals()

	p := Plan{
		Dense:    dense,
		FullText: fullText && caps.FullText,
		Sparse:   sparse && caps.Sparse,
	}

	switch {
	case !caps.NativeHybrid:
		p.Mode = ModeFallback
		p.Reason = "engine has no native fusion"
	case sparse && !caps.Sparse:
		p.Mode = ModeFallback
		p.Reason = "sparse signal requested but collection has no sparse index"
	case req.Threshold > 0:
		p.Mode = ModeFallback
		p.Reason = "score threshold needs client-side scoring"
	case req.Filter != nil && !req.Filter.ColumnOnly():
		p.Mode = ModeFallback
		p.Reason = "metadata filters need client-side evaluation"
	default:
		p.Mode = ModeNative
	}
	return p
}
