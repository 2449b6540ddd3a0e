// Package storage defines the contract between the memory core and the
// relational vector stores that persist memories.
//
// It holds the Memory record, the filter language, content hashing, and the
// VectorStore interface every backend (SQLite, PostgreSQL, OceanBase) must
// satisfy.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound indicates the requested memory does not exist or is not
	// visible to the caller's identity.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidVector indicates an embedding whose length does not match
	// the collection dimension. Raised before any write happens.
	ErrInvalidVector = errors.New("embedding dimension mismatch")

	// ErrUnsupported indicates the backend lacks the capability required
	// by the operation (e.g. sparse search on a dense-only collection).
	ErrUnsupported = errors.New("operation not supported by backend")
)

// Scope controls cross-identity visibility of a memory.
type Scope string

const (
	// ScopePrivate restricts the memory to its exact owner tuple.
	ScopePrivate Scope = "private"

	// ScopeAgentGroup shares the memory with all users of the same agent.
	ScopeAgentGroup Scope = "agent_group"

	// ScopeUserGroup shares the memory with all agents of the same user.
	ScopeUserGroup Scope = "user_group"

	// ScopePublic makes the memory visible to every identity.
	ScopePublic Scope = "public"
)

// Identity is the ownership tuple attached to memories and queries.
// Empty fields are wildcards on reads and nulls on writes.
type Identity struct {
	UserID  string `json:"user_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
}

// IsZero reports whether no owner field is set.
func (id *Identity) IsZero() bool {
	if id == nil {
		return true
	}
	return id.UserID == "" && id.AgentID == "" && id.RunID == "" && id.ActorID == ""
}

// Memory is the atomic stored unit.
type Memory struct {
	// ID is a snowflake id, unique and never reissued.
	ID int64 `json:"id"`

	// Content is the fact text as stored.
	Content string `json:"content"`

	// Hash is the md5 digest of the normalized content. It is recomputed
	// by the backend on every content write.
	Hash string `json:"hash,omitempty"`

	// Embedding is the dense vector. Its length must equal the collection
	// dimension.
	Embedding []float64 `json:"embedding,omitempty"`

	// SparseEmbedding maps token id to weight. Present only when the
	// backend and collection support sparse retrieval.
	SparseEmbedding map[int]float64 `json:"sparse_embedding,omitempty"`

	// Owner fields. Any subset may be empty.
	UserID  string `json:"user_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	ActorID string `json:"actor_id,omitempty"`

	// Scope controls cross-owner visibility.
	Scope Scope `json:"scope,omitempty"`

	// Category and MemoryType are short tags used for filtering.
	Category   string `json:"category,omitempty"`
	MemoryType string `json:"memory_type,omitempty"`

	// Metadata is an arbitrary JSON map, queryable through metadata-path
	// filters but never through the native hybrid fast path.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Score is the retrieval score for search results, in the metric's
	// native range. Zero outside of search.
	Score float64 `json:"score,omitempty"`
}

// Owner returns the memory's identity tuple.
func (m *Memory) Owner() Identity {
	return Identity{UserID: m.UserID, AgentID: m.AgentID, RunID: m.RunID, ActorID: m.ActorID}
}

// MetricType is the distance metric of the collection's dense index.
type MetricType string

const (
	MetricCosine MetricType = "cosine"
	MetricL2     MetricType = "l2"
	MetricIP     MetricType = "ip"
)

// Capabilities describes what a connected backend can execute natively.
// It is probed once at startup and carried on the store handle so the
// planner and the status endpoint never have to guess.
type Capabilities struct {
	// FullText indicates a usable full-text index on content.
	FullText bool `json:"full_text"`

	// Sparse indicates a sparse embedding column and index.
	Sparse bool `json:"sparse"`

	// NativeHybrid indicates the engine can fuse dense, full-text and
	// sparse signals in a single call.
	NativeHybrid bool `json:"native_hybrid"`
}

// SortField is a column List can order by.
type SortField string

const (
	SortByID        SortField = "id"
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
)

// SortOrder is the direction of a List sort.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ListOptions configures List.
type ListOptions struct {
	Identity *Identity
	Filter   *Filter
	Limit    int
	Offset   int

	// SortBy defaults to created_at; ties always break by descending id.
	SortBy SortField
	Order  SortOrder
}

// SearchOptions configures the single-signal search operations.
type SearchOptions struct {
	Identity *Identity
	Filter   *Filter
	Limit    int
}

// HybridWeights are the per-signal fusion weights. Zero values mean
// "equal weight over active signals".
type HybridWeights struct {
	Dense    float64 `json:"dense,omitempty"`
	FullText float64 `json:"full_text,omitempty"`
	Sparse   float64 `json:"sparse,omitempty"`
}

// HybridQuery is the input to a native fused search call.
type HybridQuery struct {
	Dense    []float64
	Query    string
	Sparse   map[int]float64
	Identity *Identity
	Filter   *Filter
	Limit    int
	Weights  HybridWeights
}

// UpdateFields is the partial-update payload. Nil pointers leave the
// column untouched. When Content is set the backend recomputes hash and
// updated_at atomically with the write; the caller supplies the matching
// embedding.
type UpdateFields struct {
	Content         *string
	Embedding       []float64
	SparseEmbedding map[int]float64
	Metadata        map[string]interface{}
	Category        *string
	MemoryType      *string
}

// Statistics summarizes the visible slice of the collection.
type Statistics struct {
	Total        int64            `json:"total"`
	ByMemoryType map[string]int64 `json:"by_memory_type"`
	ByCategory   map[string]int64 `json:"by_category"`

	// AgeBuckets counts records by created_at age: last_24h, last_7d,
	// last_30d, older.
	AgeBuckets map[string]int64 `json:"age_buckets"`
}

// VectorStore is the storage engine contract.
//
// Implementations must be safe for concurrent use; every method honors
// context cancellation. Reads with a non-empty identity enforce scope
// visibility: a record is returned when the filtered owner field matches
// or the record's scope permits cross-owner access.
type VectorStore interface {
	// Insert writes a batch of memories and returns their ids in order.
	// Embedding lengths are validated against the collection dimension
	// before any write. No deduplication happens here.
	Insert(ctx context.Context, memories []*Memory) ([]int64, error)

	// Get returns one memory by id, enforcing identity visibility.
	// Returns ErrNotFound when missing or not visible.
	Get(ctx context.Context, id int64, identity *Identity) (*Memory, error)

	// List returns memories matching the filter, ordered by the sort
	// column with ties broken by descending id.
	List(ctx context.Context, opts *ListOptions) ([]*Memory, error)

	// VectorSearch returns the top-k memories by dense similarity.
	VectorSearch(ctx context.Context, embedding []float64, opts *SearchOptions) ([]*Memory, error)

	// FullTextSearch returns the top-k memories by text relevance.
	FullTextSearch(ctx context.Context, query string, opts *SearchOptions) ([]*Memory, error)

	// SparseSearch returns the top-k memories by sparse similarity.
	// Returns ErrUnsupported when the collection has no sparse column.
	SparseSearch(ctx context.Context, sparse map[int]float64, opts *SearchOptions) ([]*Memory, error)

	// HybridSearch executes the engine-side fused query. Only valid when
	// Capabilities().NativeHybrid is true.
	HybridSearch(ctx context.Context, q *HybridQuery) ([]*Memory, error)

	// Update applies a partial update, enforcing identity ownership.
	Update(ctx context.Context, id int64, fields *UpdateFields, identity *Identity) (*Memory, error)

	// Delete removes one memory, enforcing identity ownership.
	Delete(ctx context.Context, id int64, identity *Identity) error

	// DeleteByFilter bulk-deletes and returns the number removed.
	DeleteByFilter(ctx context.Context, filter *Filter, identity *Identity) (int64, error)

	// Statistics returns counts for the identity-visible slice.
	Statistics(ctx context.Context, identity *Identity) (*Statistics, error)

	// Reset drops and recreates the collection. Administrative.
	Reset(ctx context.Context) error

	// Capabilities reports what this connection can execute natively.
	Capabilities() Capabilities

	Close() error
}
