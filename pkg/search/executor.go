package search

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/recallhq/recall-go/pkg/logging"
	"github.com/recallhq/recall-go/pkg/storage"
)

// fetchFloor is the minimum per-signal candidate pool in fallback mode.
// Over-fetching keeps the fused top-k stable when post-filters drop rows.
const fetchFloor = 50

// Executor runs planned retrieval against one store.
type Executor struct {
	store  storage.VectorStore
	logger *zap.Logger

	// Downgrade warnings fire once per process, not once per query.
	warnNative   sync.Once
	warnFullText sync.Once
	warnSparse   sync.Once
}

// NewExecutor wraps a store. Logger may be nil.
func NewExecutor(store storage.VectorStore, logger *zap.Logger) *Executor {
	return &Executor{store: store, logger: logging.OrNop(logger)}
}

// Search plans and executes one request, returning the fused ranking and
// the plan that produced it.
func (e *Executor) Search(ctx context.Context, req *Request) ([]*storage.Memory, Plan, error) {
	dense, fullText, sparse := req.Signals()
	if !dense && !fullText && !sparse {
		return nil, Plan{}, fmt.Errorf("search: no signals in request")
	}

	plan := MakePlan(e.store.Capabilities(), req)
	if plan.Mode == ModeNative {
		results, err := e.searchNative(ctx, req)
		if err == nil {
			return results, plan, nil
		}
		if !errors.Is(err, storage.ErrUnsupported) {
			return nil, plan, err
		}
		// Capability drift between probe and query.
		e.warnNative.Do(func() {
			e.logger.Warn("native hybrid search rejected by engine, falling back to client-side fusion",
				zap.Error(err))
		})
		plan.Mode = ModeFallback
		plan.Reason = "engine rejected native fusion at query time"
	}

	results, err := e.searchFallback(ctx, req, plan)
	return results, plan, err
}

func (e *Executor) searchNative(ctx context.Context, req *Request) ([]*storage.Memory, error) {
	return e.store.HybridSearch(ctx, &storage.HybridQuery{
		Dense:    req.Dense,
		Query:    req.Query,
		Sparse:   req.Sparse,
		Identity: req.Identity,
		Filter:   req.Filter,
		Limit:    req.Limit,
		Weights:  req.Weights,
	})
}

// searchFallback fans the active signals out concurrently, pushes column
// filters into each query, fuses with RRF, then applies metadata filters
// and the dense threshold client-side.
func (e *Executor) searchFallback(ctx context.Context, req *Request, plan Plan) ([]*storage.Memory, error) {
	var columnFilter, metadataFilter *storage.Filter
	if req.Filter != nil {
		columnFilter, metadataFilter = req.Filter.Partition()
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	fetchLimit := limit * 3
	if fetchLimit < fetchFloor {
		fetchLimit = fetchFloor
	}
	opts := &storage.SearchOptions{
		Identity: req.Identity,
		Filter:   columnFilter,
		Limit:    fetchLimit,
	}

	var denseList, fullTextList, sparseList []*storage.Memory
	g, gctx := errgroup.WithContext(ctx)

	if plan.Dense {
		g.Go(func() error {
			results, err := e.store.VectorSearch(gctx, req.Dense, opts)
			if err != nil {
				return fmt.Errorf("dense signal: %w", err)
			}
			denseList = results
			return nil
		})
	}
	if plan.FullText {
		g.Go(func() error {
			results, err := e.store.FullTextSearch(gctx, req.Query, opts)
			if err != nil {
				if errors.Is(err, storage.ErrUnsupported) {
					e.warnFullText.Do(func() {
						e.logger.Warn("full-text signal unavailable, skipping")
					})
					return nil
				}
				return fmt.Errorf("full-text signal: %w", err)
			}
			fullTextList = results
			return nil
		})
	}
	if plan.Sparse {
		g.Go(func() error {
			results, err := e.store.SparseSearch(gctx, req.Sparse, opts)
			if err != nil {
				if errors.Is(err, storage.ErrUnsupported) {
					e.warnSparse.Do(func() {
						e.logger.Warn("sparse signal unavailable, skipping")
					})
					return nil
				}
				return fmt.Errorf("sparse signal: %w", err)
			}
			sparseList = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The threshold cut applies to dense cosine scores only; rank-based
	// fusion scores are not comparable to it.
	if req.Threshold > 0 {
		kept := denseList[:0]
		for _, m := range denseList {
			if m.Score >= req.Threshold {
				kept = append(kept, m)
			}
		}
		denseList = kept
	}

	weights := resolveWeights(req.Weights, plan.Dense, plan.FullText, plan.Sparse)
	fused := fuse([]rankedList{
		{memories: denseList, weight: weights.Dense},
		{memories: fullTextList, weight: weights.FullText},
		{memories: sparseList, weight: weights.Sparse},
	})

	if metadataFilter != nil {
		kept := fused[:0]
		for _, m := range fused {
			if metadataFilter.Match(m) {
				kept = append(kept, m)
			}
		}
		fused = kept
	}

	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}
