package core

import (
	"github.com/recallhq/recall-go/pkg/storage"
)

// AddOption configures Add.
type AddOption func(*AddOptions)

// AddOptions collects per-call ingest settings.
type AddOptions struct {
	UserID  string
	AgentID string
	RunID   string
	ActorID string

	// Scope defaults to private.
	Scope storage.Scope

	Category   string
	MemoryType string
	Metadata   map[string]interface{}

	// Infer selects the LLM pipeline (extract + reconcile) when true, a
	// direct verbatim store when false. Nil uses the configured default,
	// which is true.
	Infer *bool

	// Prompt overrides the extraction prompt for this call.
	Prompt string
}

// Identity returns the owner tuple for this call.
func (o *AddOptions) Identity() *storage.Identity {
	return &storage.Identity{UserID: o.UserID, AgentID: o.AgentID, RunID: o.RunID, ActorID: o.ActorID}
}

// WithUserID sets the owning user.
func WithUserID(userID string) AddOption {
	return func(o *AddOptions) { o.UserID = userID }
}

// WithAgentID sets the owning agent.
func WithAgentID(agentID string) AddOption {
	return func(o *AddOptions) { o.AgentID = agentID }
}

// WithRunID sets the owning run.
func WithRunID(runID string) AddOption {
	return func(o *AddOptions) { o.RunID = runID }
}

// WithActorID sets the acting participant.
func WithActorID(actorID string) AddOption {
	return func(o *AddOptions) { o.ActorID = actorID }
}

// WithScope sets cross-owner visibility.
func WithScope(scope storage.Scope) AddOption {
	return func(o *AddOptions) { o.Scope = scope }
}

// WithCategory tags the stored memories.
func WithCategory(category string) AddOption {
	return func(o *AddOptions) { o.Category = category }
}

// WithMemoryType sets the memory type tag.
func WithMemoryType(memoryType string) AddOption {
	return func(o *AddOptions) { o.MemoryType = memoryType }
}

// WithMetadata attaches arbitrary metadata to stored memories.
func WithMetadata(metadata map[string]interface{}) AddOption {
	return func(o *AddOptions) { o.Metadata = metadata }
}

// WithInfer toggles the LLM pipeline for this call.
func WithInfer(infer bool) AddOption {
	return func(o *AddOptions) { o.Infer = &infer }
}

// WithPrompt overrides the extraction prompt for this call.
func WithPrompt(prompt string) AddOption {
	return func(o *AddOptions) { o.Prompt = prompt }
}

// SearchOption configures Search.
type SearchOption func(*SearchOptions)

// SearchOptions collects per-call retrieval settings.
type SearchOptions struct {
	UserID  string
	AgentID string
	RunID   string
	ActorID string

	// Limit defaults to 10.
	Limit int

	// Filters is the raw filter map, parsed into the filter tree.
	Filters map[string]interface{}

	// Threshold drops dense candidates below this cosine similarity.
	Threshold float64

	// Weights override per-signal fusion weights.
	Weights storage.HybridWeights

	// Rerank toggles the reranking stage. Nil reranks whenever a
	// reranker is configured.
	Rerank *bool
}

// Identity returns the querying identity.
func (o *SearchOptions) Identity() *storage.Identity {
	return &storage.Identity{UserID: o.UserID, AgentID: o.AgentID, RunID: o.RunID, ActorID: o.ActorID}
}

// WithUserIDForSearch scopes the search to a user.
func WithUserIDForSearch(userID string) SearchOption {
	return func(o *SearchOptions) { o.UserID = userID }
}

// WithAgentIDForSearch scopes the search to an agent.
func WithAgentIDForSearch(agentID string) SearchOption {
	return func(o *SearchOptions) { o.AgentID = agentID }
}

// WithRunIDForSearch scopes the search to a run.
func WithRunIDForSearch(runID string) SearchOption {
	return func(o *SearchOptions) { o.RunID = runID }
}

// WithActorIDForSearch scopes the search to an actor.
func WithActorIDForSearch(actorID string) SearchOption {
	return func(o *SearchOptions) { o.ActorID = actorID }
}

// WithLimit caps the result count.
func WithLimit(limit int) SearchOption {
	return func(o *SearchOptions) { o.Limit = limit }
}

// WithFilters applies a filter map to the search.
func WithFilters(filters map[string]interface{}) SearchOption {
	return func(o *SearchOptions) { o.Filters = filters }
}

// WithThreshold drops weak dense matches.
func WithThreshold(threshold float64) SearchOption {
	return func(o *SearchOptions) { o.Threshold = threshold }
}

// WithWeights overrides fusion weights.
func WithWeights(weights storage.HybridWeights) SearchOption {
	return func(o *SearchOptions) { o.Weights = weights }
}

// WithRerank toggles the reranking stage for this call.
func WithRerank(rerank bool) SearchOption {
	return func(o *SearchOptions) { o.Rerank = &rerank }
}

// GetOption configures Get.
type GetOption func(*GetOptions)

// GetOptions carries the identity for visibility checks.
type GetOptions struct {
	UserID  string
	AgentID string
	RunID   string
	ActorID string
}

// Identity returns the caller identity.
func (o *GetOptions) Identity() *storage.Identity {
	return &storage.Identity{UserID: o.UserID, AgentID: o.AgentID, RunID: o.RunID, ActorID: o.ActorID}
}

// WithUserIDForGet scopes the lookup to a user.
func WithUserIDForGet(userID string) GetOption {
	return func(o *GetOptions) { o.UserID = userID }
}

// WithAgentIDForGet scopes the lookup to an agent.
func WithAgentIDForGet(agentID string) GetOption {
	return func(o *GetOptions) { o.AgentID = agentID }
}

// GetAllOption configures GetAll.
type GetAllOption func(*GetAllOptions)

// GetAllOptions collects listing settings.
type GetAllOptions struct {
	UserID  string
	AgentID string
	RunID   string
	ActorID string

	Filters map[string]interface{}
	Limit   int
	Offset  int
	SortBy  storage.SortField
	Order   storage.SortOrder
}

// Identity returns the caller identity.
func (o *GetAllOptions) Identity() *storage.Identity {
	return &storage.Identity{UserID: o.UserID, AgentID: o.AgentID, RunID: o.RunID, ActorID: o.ActorID}
}

// WithUserIDForGetAll scopes the listing to a user.
func WithUserIDForGetAll(userID string) GetAllOption {
	return func(o *GetAllOptions) { o.UserID = userID }
}

// WithAgentIDForGetAll scopes the listing to an agent.
func WithAgentIDForGetAll(agentID string) GetAllOption {
	return func(o *GetAllOptions) { o.AgentID = agentID }
}

// WithRunIDForGetAll scopes the listing to a run.
func WithRunIDForGetAll(runID string) GetAllOption {
	return func(o *GetAllOptions) { o.RunID = runID }
}

// WithFiltersForGetAll applies a filter map to the listing.
func WithFiltersForGetAll(filters map[string]interface{}) GetAllOption {
	return func(o *GetAllOptions) { o.Filters = filters }
}

// WithLimitForGetAll caps the page size.
func WithLimitForGetAll(limit int) GetAllOption {
	return func(o *GetAllOptions) { o.Limit = limit }
}

// WithOffset skips rows for pagination.
func WithOffset(offset int) GetAllOption {
	return func(o *GetAllOptions) { o.Offset = offset }
}

// WithSort sets the sort column and direction.
func WithSort(sortBy storage.SortField, order storage.SortOrder) GetAllOption {
	return func(o *GetAllOptions) {
		o.SortBy = sortBy
		o.Order = order
	}
}

// UpdateOption configures Update.
type UpdateOption func(*UpdateOptions)

// UpdateOptions collects partial-update settings beyond content.
type UpdateOptions struct {
	UserID  string
	AgentID string
	RunID   string
	ActorID string

	Metadata   map[string]interface{}
	Category   *string
	MemoryType *string
}

// Identity returns the caller identity, enforced as strict ownership.
func (o *UpdateOptions) Identity() *storage.Identity {
	return &storage.Identity{UserID: o.UserID, AgentID: o.AgentID, RunID: o.RunID, ActorID: o.ActorID}
}

// WithUserIDForUpdate requires the memory to belong to this user.
func WithUserIDForUpdate(userID string) UpdateOption {
	return func(o *UpdateOptions) { o.UserID = userID }
}

// WithAgentIDForUpdate requires the memory to belong to this agent.
func WithAgentIDForUpdate(agentID string) UpdateOption {
	return func(o *UpdateOptions) { o.AgentID = agentID }
}

// WithMetadataForUpdate replaces the metadata map.
func WithMetadataForUpdate(metadata map[string]interface{}) UpdateOption {
	return func(o *UpdateOptions) { o.Metadata = metadata }
}

// WithCategoryForUpdate replaces the category tag.
func WithCategoryForUpdate(category string) UpdateOption {
	return func(o *UpdateOptions) { o.Category = &category }
}

// WithMemoryTypeForUpdate replaces the memory type tag.
func WithMemoryTypeForUpdate(memoryType string) UpdateOption {
	return func(o *UpdateOptions) { o.MemoryType = &memoryType }
}

// DeleteOption configures Delete.
type DeleteOption func(*DeleteOptions)

// DeleteOptions carries the identity for ownership checks.
type DeleteOptions struct {
	UserID  string
	AgentID string
	RunID   string
	ActorID string
}

// Identity returns the caller identity, enforced as strict ownership.
func (o *DeleteOptions) Identity() *storage.Identity {
	return &storage.Identity{UserID: o.UserID, AgentID: o.AgentID, RunID: o.RunID, ActorID: o.ActorID}
}

// WithUserIDForDelete requires the memory to belong to this user.
func WithUserIDForDelete(userID string) DeleteOption {
	return func(o *DeleteOptions) { o.UserID = userID }
}

// WithAgentIDForDelete requires the memory to belong to this agent.
func WithAgentIDForDelete(agentID string) DeleteOption {
	return func(o *DeleteOptions) { o.AgentID = agentID }
}

// DeleteAllOption configures DeleteAll.
type DeleteAllOption func(*DeleteAllOptions)

// DeleteAllOptions collects bulk-delete settings.
type DeleteAllOptions struct {
	UserID  string
	AgentID string
	RunID   string
	ActorID string

	Filters map[string]interface{}
}

// Identity returns the caller identity.
func (o *DeleteAllOptions) Identity() *storage.Identity {
	return &storage.Identity{UserID: o.UserID, AgentID: o.AgentID, RunID: o.RunID, ActorID: o.ActorID}
}

// WithUserIDForDeleteAll scopes the bulk delete to a user.
func WithUserIDForDeleteAll(userID string) DeleteAllOption {
	return func(o *DeleteAllOptions) { o.UserID = userID }
}

// WithAgentIDForDeleteAll scopes the bulk delete to an agent.
func WithAgentIDForDeleteAll(agentID string) DeleteAllOption {
	return func(o *DeleteAllOptions) { o.AgentID = agentID }
}

// WithRunIDForDeleteAll scopes the bulk delete to a run.
func WithRunIDForDeleteAll(runID string) DeleteAllOption {
	return func(o *DeleteAllOptions) { o.RunID = runID }
}

// WithFiltersForDeleteAll narrows the bulk delete with a filter map.
func WithFiltersForDeleteAll(filters map[string]interface{}) DeleteAllOption {
	return func(o *DeleteAllOptions) { o.Filters = filters }
}

func applyAddOptions(opts []AddOption) *AddOptions {
	options := &AddOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applySearchOptions(opts []SearchOption) *SearchOptions {
	options := &SearchOptions{Limit: 10}
	for _, opt := range opts {
		opt(options)
	}
	if options.Limit <= 0 {
		options.Limit = 10
	}
	return options
}

func applyGetOptions(opts []GetOption) *GetOptions {
	options := &GetOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applyGetAllOptions(opts []GetAllOption) *GetAllOptions {
	options := &GetAllOptions{Limit: 100}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applyUpdateOptions(opts []UpdateOption) *UpdateOptions {
	options := &UpdateOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applyDeleteOptions(opts []DeleteOption) *DeleteOptions {
	options := &DeleteOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applyDeleteAllOptions(opts []DeleteAllOption) *DeleteAllOptions {
	options := &DeleteAllOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
