package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/storage"
)

// identityFields is embedded in every request body that scopes an
// operation to an owner.
type identityFields struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
	RunID   string `json:"run_id"`
	ActorID string `json:"actor_id"`
}

type addRequest struct {
	identityFields
	Messages   interface{}            `json:"messages" binding:"required"`
	Scope      string                 `json:"scope"`
	Category   string                 `json:"category"`
	MemoryType string                 `json:"memory_type"`
	Metadata   map[string]interface{} `json:"metadata"`
	Infer      *bool                  `json:"infer"`
	Prompt     string                 `json:"prompt"`
}

func (r *addRequest) options() []core.AddOption {
	opts := []core.AddOption{
		core.WithUserID(r.UserID),
		core.WithAgentID(r.AgentID),
		core.WithRunID(r.RunID),
		core.WithActorID(r.ActorID),
	}
	if r.Scope != "" {
		opts = append(opts, core.WithScope(storage.Scope(r.Scope)))
	}
	if r.Category != "" {
		opts = append(opts, core.WithCategory(r.Category))
	}
	if r.MemoryType != "" {
		opts = append(opts, core.WithMemoryType(r.MemoryType))
	}
	if r.Metadata != nil {
		opts = append(opts, core.WithMetadata(r.Metadata))
	}
	if r.Infer != nil {
		opts = append(opts, core.WithInfer(*r.Infer))
	}
	if r.Prompt != "" {
		opts = append(opts, core.WithPrompt(r.Prompt))
	}
	return opts
}

type searchRequest struct {
	identityFields
	Query     string                 `json:"query" binding:"required"`
	Limit     int                    `json:"limit"`
	Threshold float64                `json:"threshold"`
	Filters   map[string]interface{} `json:"filters"`
	Weights   *storage.HybridWeights `json:"weights"`
	Rerank    *bool                  `json:"rerank"`
}

type updateRequest struct {
	identityFields
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
	Category   *string                `json:"category"`
	MemoryType *string                `json:"memory_type"`
}

type deleteAllRequest struct {
	identityFields
	Filters map[string]interface{} `json:"filters"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleStatus(c *gin.Context) {
	caps := s.client.Capabilities()
	c.JSON(http.StatusOK, gin.H{
		"store":    s.config.VectorStore.Provider,
		"llm":      s.config.LLM.Provider,
		"embedder": s.config.Embedder.Provider,
		"reranker": s.config.Reranker.Provider,
		"capabilities": gin.H{
			"full_text":     caps.FullText,
			"sparse":        caps.Sparse,
			"native_hybrid": caps.NativeHybrid,
		},
	})
}

func (s *Server) handleAdd(c *gin.Context) {
	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	result, err := s.client.Add(c.Request.Context(), req.Messages, req.options()...)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAddBatch(c *gin.Context) {
	var req struct {
		Items []addRequest `json:"items" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	type itemResult struct {
		Index  int             `json:"index"`
		Result *core.AddResult `json:"result,omitempty"`
		Error  string          `json:"error,omitempty"`
	}
	out := make([]itemResult, len(req.Items))
	for i, item := range req.Items {
		result, err := s.client.Add(c.Request.Context(), item.Messages, item.options()...)
		out[i] = itemResult{Index: i, Result: result}
		if err != nil {
			out[i].Error = err.Error()
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	opts := []core.SearchOption{
		core.WithUserIDForSearch(req.UserID),
		core.WithAgentIDForSearch(req.AgentID),
		core.WithRunIDForSearch(req.RunID),
		core.WithActorIDForSearch(req.ActorID),
	}
	if req.Limit > 0 {
		opts = append(opts, core.WithLimit(req.Limit))
	}
	if req.Threshold > 0 {
		opts = append(opts, core.WithThreshold(req.Threshold))
	}
	if req.Filters != nil {
		opts = append(opts, core.WithFilters(req.Filters))
	}
	if req.Weights != nil {
		opts = append(opts, core.WithWeights(*req.Weights))
	}
	if req.Rerank != nil {
		opts = append(opts, core.WithRerank(*req.Rerank))
	}

	memories, err := s.client.Search(c.Request.Context(), req.Query, opts...)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": memories})
}

func (s *Server) handleList(c *gin.Context) {
	opts := []core.GetAllOption{
		core.WithUserIDForGetAll(c.Query("user_id")),
		core.WithAgentIDForGetAll(c.Query("agent_id")),
		core.WithRunIDForGetAll(c.Query("run_id")),
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		opts = append(opts, core.WithLimitForGetAll(limit))
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil && offset > 0 {
		opts = append(opts, core.WithOffset(offset))
	}
	if sortBy := c.Query("sort_by"); sortBy != "" {
		order := storage.SortOrder(c.DefaultQuery("order", string(storage.OrderDesc)))
		opts = append(opts, core.WithSort(storage.SortField(sortBy), order))
	}

	memories, err := s.client.GetAll(c.Request.Context(), opts...)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": memories})
}

func (s *Server) handleGet(c *gin.Context) {
	id, ok := s.memoryID(c)
	if !ok {
		return
	}

	opts := []core.GetOption{
		core.WithUserIDForGet(c.Query("user_id")),
		core.WithAgentIDForGet(c.Query("agent_id")),
	}
	m, err := s.client.Get(c.Request.Context(), id, opts...)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleUpdate(c *gin.Context) {
	id, ok := s.memoryID(c)
	if !ok {
		return
	}
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	opts := []core.UpdateOption{
		core.WithUserIDForUpdate(req.UserID),
		core.WithAgentIDForUpdate(req.AgentID),
	}
	if req.Metadata != nil {
		opts = append(opts, core.WithMetadataForUpdate(req.Metadata))
	}
	if req.Category != nil {
		opts = append(opts, core.WithCategoryForUpdate(*req.Category))
	}
	if req.MemoryType != nil {
		opts = append(opts, core.WithMemoryTypeForUpdate(*req.MemoryType))
	}

	m, err := s.client.Update(c.Request.Context(), id, req.Content, opts...)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleDelete(c *gin.Context) {
	id, ok := s.memoryID(c)
	if !ok {
		return
	}

	opts := []core.DeleteOption{
		core.WithUserIDForDelete(c.Query("user_id")),
		core.WithAgentIDForDelete(c.Query("agent_id")),
	}
	if err := s.client.Delete(c.Request.Context(), id, opts...); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

func (s *Server) handleDeleteAll(c *gin.Context) {
	var req deleteAllRequest
	// The body is optional; an empty one deletes everything the
	// identity owns.
	_ = c.ShouldBindJSON(&req)
	if req.UserID == "" {
		req.UserID = c.Query("user_id")
	}
	if req.AgentID == "" {
		req.AgentID = c.Query("agent_id")
	}
	if req.RunID == "" {
		req.RunID = c.Query("run_id")
	}

	opts := []core.DeleteAllOption{
		core.WithUserIDForDeleteAll(req.UserID),
		core.WithAgentIDForDeleteAll(req.AgentID),
		core.WithRunIDForDeleteAll(req.RunID),
	}
	if req.Filters != nil {
		opts = append(opts, core.WithFiltersForDeleteAll(req.Filters))
	}

	n, err := s.client.DeleteAll(c.Request.Context(), opts...)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) memoryID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "memory id must be an integer"})
		return 0, false
	}
	return id, true
}

// writeError maps domain errors onto HTTP codes.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, storage.ErrInvalidVector):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrInvalidConfig):
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
