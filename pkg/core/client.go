package core

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/recallhq/recall-go/pkg/audit"
	"github.com/recallhq/recall-go/pkg/embedder"
	"github.com/recallhq/recall-go/pkg/intelligence"
	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/logging"
	"github.com/recallhq/recall-go/pkg/reranker"
	"github.com/recallhq/recall-go/pkg/search"
	"github.com/recallhq/recall-go/pkg/storage"
	"github.com/recallhq/recall-go/pkg/telemetry"
)

// Memory aliases the storage record so callers can stay on this package.
type Memory = storage.Memory

// Client is the memory service. It owns the storage connection, the
// embedding and LLM providers, and the ingest and retrieval pipelines.
// Safe for concurrent use.
type Client struct {
	config *Config
	logger *zap.Logger

	store    storage.VectorStore
	embedder embedder.Provider
	sparse   embedder.SparseProvider
	llm      llm.Provider
	reranker reranker.Provider

	extractor  *intelligence.Extractor
	reconciler *intelligence.Reconciler
	decay      *intelligence.DecayScorer
	executor   *search.Executor

	node    *snowflake.Node
	metrics *telemetry.Metrics
	audit   *audit.Sink
}

// ClientOption injects a component, mainly for tests and embedding the
// client into a larger process.
type ClientOption func(*Client)

// WithLogger sets the logger instead of building one from config.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithStore injects a storage backend.
func WithStore(store storage.VectorStore) ClientOption {
	return func(c *Client) { c.store = store }
}

// WithLLMProvider injects an LLM provider.
func WithLLMProvider(provider llm.Provider) ClientOption {
	return func(c *Client) { c.llm = provider }
}

// WithEmbedderProvider injects a dense embedding provider.
func WithEmbedderProvider(provider embedder.Provider) ClientOption {
	return func(c *Client) { c.embedder = provider }
}

// WithSparseProvider injects a sparse embedding provider.
func WithSparseProvider(provider embedder.SparseProvider) ClientOption {
	return func(c *Client) { c.sparse = provider }
}

// WithRerankerProvider injects a reranker.
func WithRerankerProvider(provider reranker.Provider) ClientOption {
	return func(c *Client) { c.reranker = provider }
}

// WithMetrics injects the metric set.
func WithMetrics(metrics *telemetry.Metrics) ClientOption {
	return func(c *Client) { c.metrics = metrics }
}

// NewClient builds a client from config. Components injected through
// options are used as-is; everything else is constructed from config.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, NewMemoryError("NewClient", fmt.Errorf("%w: nil config", ErrInvalidConfig))
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	c := &Client{config: cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, NewMemoryError("NewClient", err)
		}
		c.logger = logger
	}

	var err error
	if c.llm == nil {
		if c.llm, err = buildLLM(cfg.LLM); err != nil {
			return nil, NewMemoryError("NewClient", err)
		}
	}
	if c.embedder == nil {
		if c.embedder, err = buildEmbedder(cfg.Embedder); err != nil {
			return nil, NewMemoryError("NewClient", err)
		}
	}
	if c.sparse == nil {
		if c.sparse, err = buildSparse(cfg.Sparse); err != nil {
			return nil, NewMemoryError("NewClient", err)
		}
	}
	if c.reranker == nil {
		if c.reranker, err = buildReranker(cfg.Reranker); err != nil {
			return nil, NewMemoryError("NewClient", err)
		}
	}
	if c.store == nil {
		if c.store, err = buildStore(cfg.VectorStore, c.embedder.Dimensions(), c.logger); err != nil {
			return nil, NewMemoryError("NewClient", err)
		}
		c.store = storage.WithRetries(c.store)
	}

	c.node, err = snowflake.NewNode(1)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	var extractorOpts []intelligence.ExtractorOption
	if cfg.Intelligence.ExtractionPrompt != "" {
		extractorOpts = append(extractorOpts, intelligence.WithExtractionPrompt(cfg.Intelligence.ExtractionPrompt))
	}
	extractorOpts = append(extractorOpts, intelligence.WithExtractorLogger(c.logger))
	c.extractor = intelligence.NewExtractor(c.llm, extractorOpts...)

	var reconcilerOpts []intelligence.ReconcilerOption
	if cfg.Intelligence.ReconcilePrompt != "" {
		reconcilerOpts = append(reconcilerOpts, intelligence.WithReconcilePrompt(cfg.Intelligence.ReconcilePrompt))
	}
	reconcilerOpts = append(reconcilerOpts, intelligence.WithReconcilerLogger(c.logger))
	c.reconciler = intelligence.NewReconciler(c.llm, reconcilerOpts...)

	if cfg.Intelligence.DecayEnabled {
		c.decay = intelligence.NewDecayScorer(cfg.Intelligence.DecayRate, cfg.Intelligence.Reinforcement)
	}

	c.executor = search.NewExecutor(c.store, c.logger)
	c.audit = audit.NewSink(c.logger)

	c.logger.Info("recall client ready",
		zap.String("store", cfg.VectorStore.Provider),
		zap.String("llm", cfg.LLM.Provider),
		zap.String("embedder", cfg.Embedder.Provider),
		zap.Bool("sparse", c.sparse != nil),
		zap.Bool("reranker", c.reranker != nil))
	return c, nil
}

// Capabilities reports what the connected backend executes natively.
func (c *Client) Capabilities() storage.Capabilities {
	return c.store.Capabilities()
}

// Search retrieves memories by hybrid relevance.
func (c *Client) Search(ctx context.Context, query string, opts ...SearchOption) ([]*storage.Memory, error) {
	const op = "Search"
	if query == "" {
		return nil, NewMemoryError(op, fmt.Errorf("%w: empty query", ErrInvalidInput))
	}
	options := applySearchOptions(opts)

	filter, err := storage.ParseFilter(options.Filters)
	if err != nil {
		return nil, NewMemoryError(op, fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}

	start := time.Now()

	dense, err := c.embedder.Embed(ctx, query, embedder.ActionSearch)
	if err != nil {
		return nil, NewMemoryError(op, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
	}
	var sparseVec map[int]float64
	if c.sparse != nil {
		if sparseVec, err = c.sparse.EmbedSparse(ctx, query, embedder.ActionSearch); err != nil {
			c.logger.Warn("sparse query embedding failed, continuing without sparse signal", zap.Error(err))
			sparseVec = nil
		}
	}

	// Over-fetch when a reranker will trim the list afterwards.
	fetchLimit := options.Limit
	rerankActive := c.reranker != nil && (options.Rerank == nil || *options.Rerank)
	if rerankActive {
		multiplier := c.config.Reranker.CandidateMultiplier
		if multiplier <= 0 {
			multiplier = 3
		}
		fetchLimit = options.Limit * multiplier
	}

	results, plan, err := c.executor.Search(ctx, &search.Request{
		Dense:     dense,
		Query:     query,
		Sparse:    sparseVec,
		Identity:  options.Identity(),
		Filter:    filter,
		Limit:     fetchLimit,
		Threshold: options.Threshold,
		Weights:   options.Weights,
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.StoreErrors.WithLabelValues(op).Inc()
		}
		return nil, NewMemoryError(op, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}
	if c.metrics != nil {
		c.metrics.SearchTotal.WithLabelValues(string(plan.Mode)).Inc()
		c.metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}

	if rerankActive {
		results = c.applyRerank(ctx, query, results, options.Limit)
	}
	if c.decay != nil {
		c.decay.Rescore(results)
	}
	if len(results) > options.Limit {
		results = results[:options.Limit]
	}
	// Search responses carry relevance, not vectors.
	for _, m := range results {
		m.Embedding = nil
		m.SparseEmbedding = nil
	}
	return results, nil
}

// applyRerank reorders candidates with the configured reranker. Failures
// degrade to the fused order rather than failing the search.
func (c *Client) applyRerank(ctx context.Context, query string, candidates []*storage.Memory, limit int) []*storage.Memory {
	if len(candidates) == 0 {
		return candidates
	}
	documents := make([]string, len(candidates))
	for i, m := range candidates {
		documents[i] = m.Content
	}

	ranked, err := c.reranker.Rerank(ctx, query, documents, limit)
	if err != nil {
		c.logger.Warn("rerank failed, keeping fused order", zap.Error(err))
		return candidates
	}

	reordered := make([]*storage.Memory, 0, len(ranked))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		m := candidates[r.Index]
		m.Score = r.Score
		reordered = append(reordered, m)
	}
	if len(reordered) == 0 {
		return candidates
	}
	return reordered
}

// Get returns one memory by id.
func (c *Client) Get(ctx context.Context, id int64, opts ...GetOption) (*storage.Memory, error) {
	const op = "Get"
	options := applyGetOptions(opts)

	m, err := c.store.Get(ctx, id, options.Identity())
	if err != nil {
		return nil, NewMemoryError(op, err)
	}
	return m, nil
}

// GetAll lists memories with filtering and pagination.
func (c *Client) GetAll(ctx context.Context, opts ...GetAllOption) ([]*storage.Memory, error) {
	const op = "GetAll"
	options := applyGetAllOptions(opts)

	filter, err := storage.ParseFilter(options.Filters)
	if err != nil {
		return nil, NewMemoryError(op, fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}

	memories, err := c.store.List(ctx, &storage.ListOptions{
		Identity: options.Identity(),
		Filter:   filter,
		Limit:    options.Limit,
		Offset:   options.Offset,
		SortBy:   options.SortBy,
		Order:    options.Order,
	})
	if err != nil {
		return nil, NewMemoryError(op, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}
	return memories, nil
}

// Update rewrites a memory's content and/or tags. A non-empty content is
// re-embedded; the backend recomputes the hash atomically with the write.
func (c *Client) Update(ctx context.Context, id int64, content string, opts ...UpdateOption) (*storage.Memory, error) {
	const op = "Update"
	options := applyUpdateOptions(opts)

	fields := &storage.UpdateFields{
		Metadata:   options.Metadata,
		Category:   options.Category,
		MemoryType: options.MemoryType,
	}
	if content != "" {
		dense, err := c.embedder.Embed(ctx, content, embedder.ActionUpdate)
		if err != nil {
			return nil, NewMemoryError(op, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
		}
		fields.Content = &content
		fields.Embedding = dense
		if c.sparse != nil {
			if sparseVec, err := c.sparse.EmbedSparse(ctx, content, embedder.ActionUpdate); err == nil {
				fields.SparseEmbedding = sparseVec
			}
		}
	}

	m, err := c.store.Update(ctx, id, fields, options.Identity())
	if err != nil {
		return nil, NewMemoryError(op, err)
	}
	c.audit.Record("update", options.Identity(), id)
	return m, nil
}

// Delete removes one memory.
func (c *Client) Delete(ctx context.Context, id int64, opts ...DeleteOption) error {
	const op = "Delete"
	options := applyDeleteOptions(opts)

	if err := c.store.Delete(ctx, id, options.Identity()); err != nil {
		return NewMemoryError(op, err)
	}
	c.audit.Record("delete", options.Identity(), id)
	return nil
}

// DeleteAll bulk-deletes memories matching the identity and filters.
// Returns the number removed.
func (c *Client) DeleteAll(ctx context.Context, opts ...DeleteAllOption) (int64, error) {
	const op = "DeleteAll"
	options := applyDeleteAllOptions(opts)

	filter, err := storage.ParseFilter(options.Filters)
	if err != nil {
		return 0, NewMemoryError(op, fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}

	n, err := c.store.DeleteByFilter(ctx, filter, options.Identity())
	if err != nil {
		return 0, NewMemoryError(op, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}
	c.audit.Record("delete_all", options.Identity(), 0, zap.Int64("deleted", n))
	return n, nil
}

// Statistics summarizes the identity-visible slice of the collection.
func (c *Client) Statistics(ctx context.Context, identity *storage.Identity) (*storage.Statistics, error) {
	const op = "Statistics"
	stats, err := c.store.Statistics(ctx, identity)
	if err != nil {
		return nil, NewMemoryError(op, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}
	return stats, nil
}

// Reset drops and recreates the collection. Administrative.
func (c *Client) Reset(ctx context.Context) error {
	const op = "Reset"
	if err := c.store.Reset(ctx); err != nil {
		return NewMemoryError(op, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}
	c.audit.Record("reset", nil, 0)
	return nil
}

// Close releases every provider and the storage connection.
func (c *Client) Close() error {
	var firstErr error
	if err := c.store.Close(); err != nil {
		firstErr = err
	}
	if err := c.llm.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.embedder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if c.reranker != nil {
		if err := c.reranker.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_ = c.logger.Sync()
	return firstErr
}
