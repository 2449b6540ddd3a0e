package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/recallhq/recall-go/pkg/embedder"
	"github.com/recallhq/recall-go/pkg/intelligence"
	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/storage"
)

// MemoryActionResult is one applied (or skipped) ingest decision.
type MemoryActionResult struct {
	// ID is the affected memory. Zero for NONE decisions.
	ID int64 `json:"id,omitempty"`

	// Content is the stored or skipped text.
	Content string `json:"content,omitempty"`

	// Event is ADD, UPDATE, DELETE, or NONE.
	Event string `json:"event"`

	// OldMemory is the pre-update content for UPDATE events.
	OldMemory string `json:"old_memory,omitempty"`

	// Reason explains NONE decisions, e.g. "duplicate".
	Reason string `json:"reason,omitempty"`
}

// AddResult is the outcome of one ingest call.
type AddResult struct {
	Results []MemoryActionResult `json:"results"`
}

// Add ingests a conversation. With inference on (the default) the
// pipeline extracts facts, retrieves similar memories, asks the model to
// reconcile, and applies the decisions. With inference off the flattened
// text is stored verbatim, subject only to hash deduplication.
//
// Extraction failure is not fatal: the call returns an empty result.
// Reconciliation failure is fatal and applies no mutations.
func (c *Client) Add(ctx context.Context, messages interface{}, opts ...AddOption) (*AddResult, error) {
	const op = "Add"
	options := applyAddOptions(opts)
	if c.metrics != nil {
		c.metrics.AddRequested.Inc()
	}

	normalized, err := NormalizeMessages(messages)
	if err != nil {
		return nil, NewMemoryError(op, err)
	}

	infer := true
	if c.config.Intelligence.InferDefault != nil {
		infer = *c.config.Intelligence.InferDefault
	}
	if options.Infer != nil {
		infer = *options.Infer
	}

	var result *AddResult
	if infer {
		result, err = c.addInferred(ctx, normalized, options)
	} else {
		result, err = c.addDirect(ctx, flattenText(normalized), options)
	}

	if c.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.AddTotal.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		return nil, NewMemoryError(op, err)
	}
	return result, nil
}

// addDirect stores the text verbatim.
func (c *Client) addDirect(ctx context.Context, content string, options *AddOptions) (*AddResult, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidInput)
	}

	dup, err := c.hashExists(ctx, storage.ContentHash(content), options.Identity())
	if err != nil {
		return nil, err
	}
	if dup {
		return &AddResult{Results: []MemoryActionResult{{
			Content: content,
			Event:   intelligence.EventNone,
			Reason:  "duplicate",
		}}}, nil
	}

	id, err := c.insertMemory(ctx, content, options)
	if err != nil {
		return nil, err
	}
	return &AddResult{Results: []MemoryActionResult{{
		ID:      id,
		Content: content,
		Event:   intelligence.EventAdd,
	}}}, nil
}

// addInferred runs the extract / retrieve / reconcile / apply pipeline.
func (c *Client) addInferred(ctx context.Context, messages []llm.Message, options *AddOptions) (*AddResult, error) {
	facts, err := c.extractFacts(ctx, messages, options)
	if err != nil {
		// Extraction failure means "nothing worth storing", not a lost
		// request. The warning is the only trace.
		c.logger.Warn("fact extraction failed, storing nothing",
			zap.Error(fmt.Errorf("%w: %v", ErrExtractionFailed, err)))
		return &AddResult{}, nil
	}
	if len(facts) == 0 {
		return &AddResult{}, nil
	}

	neighbors, err := c.collectNeighbors(ctx, facts, options)
	if err != nil {
		return nil, err
	}

	decisions, err := c.reconciler.Decide(ctx, facts, neighbors)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReconcileFailed, err)
	}

	return c.applyDecisions(ctx, decisions, options)
}

func (c *Client) extractFacts(ctx context.Context, messages []llm.Message, options *AddOptions) ([]string, error) {
	if options.Prompt == "" {
		return c.extractor.Extract(ctx, messages)
	}
	custom := intelligence.NewExtractor(c.llm,
		intelligence.WithExtractionPrompt(options.Prompt),
		intelligence.WithExtractorLogger(c.logger))
	return custom.Extract(ctx, messages)
}

// collectNeighbors embeds every fact and unions their nearest stored
// memories, deduplicated by id.
func (c *Client) collectNeighbors(ctx context.Context, facts []string, options *AddOptions) ([]intelligence.Neighbor, error) {
	vectors, err := c.embedder.EmbedBatch(ctx, facts, embedder.ActionAdd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	seen := make(map[int64]bool)
	var neighbors []intelligence.Neighbor
	for _, vec := range vectors {
		matches, err := c.store.VectorSearch(ctx, vec, &storage.SearchOptions{
			Identity: options.Identity(),
			Limit:    c.config.Intelligence.NeighborLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageOperation, err)
		}
		for _, m := range matches {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			neighbors = append(neighbors, intelligence.Neighbor{ID: m.ID, Content: m.Content})
		}
	}
	return neighbors, nil
}

// applyDecisions mutates the store per decision. ADDs that hash-collide
// with an existing memory of the same owner become NONE with reason
// "duplicate".
func (c *Client) applyDecisions(ctx context.Context, decisions []intelligence.Decision, options *AddOptions) (*AddResult, error) {
	result := &AddResult{Results: make([]MemoryActionResult, 0, len(decisions))}
	identity := options.Identity()

	for _, d := range decisions {
		if c.metrics != nil {
			c.metrics.ReconcileDecisions.WithLabelValues(d.Event).Inc()
		}

		switch d.Event {
		case intelligence.EventAdd:
			dup, err := c.hashExists(ctx, storage.ContentHash(d.Text), identity)
			if err != nil {
				return nil, err
			}
			if dup {
				result.Results = append(result.Results, MemoryActionResult{
					Content: d.Text,
					Event:   intelligence.EventNone,
					Reason:  "duplicate",
				})
				continue
			}
			id, err := c.insertMemory(ctx, d.Text, options)
			if err != nil {
				return nil, err
			}
			result.Results = append(result.Results, MemoryActionResult{
				ID: id, Content: d.Text, Event: intelligence.EventAdd,
			})

		case intelligence.EventUpdate:
			dense, err := c.embedder.Embed(ctx, d.Text, embedder.ActionUpdate)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
			}
			fields := &storage.UpdateFields{Content: &d.Text, Embedding: dense}
			if c.sparse != nil {
				if sparseVec, err := c.sparse.EmbedSparse(ctx, d.Text, embedder.ActionUpdate); err == nil {
					fields.SparseEmbedding = sparseVec
				}
			}
			if _, err := c.store.Update(ctx, d.MemoryID, fields, identity); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrStorageOperation, err)
			}
			c.audit.Record("reconcile_update", identity, d.MemoryID)
			result.Results = append(result.Results, MemoryActionResult{
				ID: d.MemoryID, Content: d.Text, Event: intelligence.EventUpdate, OldMemory: d.OldText,
			})

		case intelligence.EventDelete:
			if err := c.store.Delete(ctx, d.MemoryID, identity); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrStorageOperation, err)
			}
			c.audit.Record("reconcile_delete", identity, d.MemoryID)
			result.Results = append(result.Results, MemoryActionResult{
				ID: d.MemoryID, Event: intelligence.EventDelete,
			})

		case intelligence.EventNone:
			result.Results = append(result.Results, MemoryActionResult{
				Content: d.Text, Event: intelligence.EventNone, Reason: d.Reason,
			})
		}
	}
	return result, nil
}

// insertMemory embeds and stores one new memory.
func (c *Client) insertMemory(ctx context.Context, content string, options *AddOptions) (int64, error) {
	dense, err := c.embedder.Embed(ctx, content, embedder.ActionAdd)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	m := &storage.Memory{
		ID:         c.node.Generate().Int64(),
		Content:    content,
		Embedding:  dense,
		UserID:     options.UserID,
		AgentID:    options.AgentID,
		RunID:      options.RunID,
		ActorID:    options.ActorID,
		Scope:      options.Scope,
		Category:   options.Category,
		MemoryType: options.MemoryType,
		Metadata:   options.Metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if c.sparse != nil {
		if sparseVec, err := c.sparse.EmbedSparse(ctx, content, embedder.ActionAdd); err == nil {
			m.SparseEmbedding = sparseVec
		}
	}

	if _, err := c.store.Insert(ctx, []*storage.Memory{m}); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageOperation, err)
	}
	c.audit.Record("add", options.Identity(), m.ID)
	return m.ID, nil
}

// hashExists checks for an identical normalized content under the same
// owner tuple.
func (c *Client) hashExists(ctx context.Context, hash string, identity *storage.Identity) (bool, error) {
	filters := map[string]interface{}{"hash": hash}
	if identity != nil {
		if identity.UserID != "" {
			filters["user_id"] = identity.UserID
		}
		if identity.AgentID != "" {
			filters["agent_id"] = identity.AgentID
		}
		if identity.RunID != "" {
			filters["run_id"] = identity.RunID
		}
		if identity.ActorID != "" {
			filters["actor_id"] = identity.ActorID
		}
	}
	filter, err := storage.ParseFilter(filters)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	existing, err := c.store.List(ctx, &storage.ListOptions{Filter: filter, Limit: 1})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageOperation, err)
	}
	return len(existing) > 0, nil
}

// BatchAddItem is one conversation in a batch ingest.
type BatchAddItem struct {
	Messages interface{}
	Options  []AddOption
}

// BatchAddResult pairs a batch item with its outcome.
type BatchAddResult struct {
	Index  int
	Result *AddResult
	Err    error
}

// AddBatch ingests conversations sequentially, isolating failures per
// item so one bad conversation does not abort the rest.
func (c *Client) AddBatch(ctx context.Context, items []BatchAddItem, shared ...AddOption) []BatchAddResult {
	results := make([]BatchAddResult, len(items))
	for i, item := range items {
		opts := append(append([]AddOption{}, shared...), item.Options...)
		result, err := c.Add(ctx, item.Messages, opts...)
		results[i] = BatchAddResult{Index: i, Result: result, Err: err}
	}
	return results
}
