package oceanbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/recallhq/recall-go/pkg/storage"
)

func (c *Client) selectColumns() string {
	cols := []string{
		"id", "content", "hash", "embedding",
		"user_id", "agent_id", "run_id", "actor_id",
		"scope", "category", "memory_type", "metadata",
		"created_at", "updated_at",
	}
	if c.caps.Sparse {
		rest := append([]string{"sparse_embedding"}, cols[4:]...)
		cols = append(cols[:4:4], rest...)
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (c *Client) scanFields(s rowScanner, m *storage.Memory, extra ...interface{}) error {
	var embeddingStr string
	var sparseStr, metadataStr sql.NullString
	var scope string

	dest := []interface{}{&m.ID, &m.Content, &m.Hash, &embeddingStr}
	if c.caps.Sparse {
		dest = append(dest, &sparseStr)
	}
	dest = append(dest,
		&m.UserID, &m.AgentID, &m.RunID, &m.ActorID,
		&scope, &m.Category, &m.MemoryType, &metadataStr,
		&m.CreatedAt, &m.UpdatedAt,
	)
	dest = append(dest, extra...)
	if err := s.Scan(dest...); err != nil {
		return err
	}

	m.Scope = storage.Scope(scope)
	if embeddingStr != "" {
		vec, err := stringToVector(embeddingStr)
		if err != nil {
			return fmt.Errorf("parse embedding: %w", err)
		}
		m.Embedding = vec
	}
	if sparseStr.Valid && sparseStr.String != "" {
		sparse, err := stringToSparse(sparseStr.String)
		if err != nil {
			return fmt.Errorf("parse sparse embedding: %w", err)
		}
		m.SparseEmbedding = sparse
	}
	if metadataStr.Valid && metadataStr.String != "" {
		if err := json.Unmarshal([]byte(metadataStr.String), &m.Metadata); err != nil {
			return fmt.Errorf("parse metadata: %w", err)
		}
	}
	return nil
}

func (c *Client) scanMemory(s rowScanner) (*storage.Memory, error) {
	var m storage.Memory
	if err := c.scanFields(s, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) queryMemories(ctx context.Context, query string, args []interface{}) ([]*storage.Memory, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("oceanbase: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		m, err := c.scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("oceanbase: scan: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (c *Client) queryScored(ctx context.Context, query string, args []interface{}) ([]*storage.Memory, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("oceanbase: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		var m storage.Memory
		if err := c.scanFields(rows, &m, &m.Score); err != nil {
			return nil, fmt.Errorf("oceanbase: scan: %w", err)
		}
		memories = append(memories, &m)
	}
	return memories, rows.Err()
}

// vectorToString renders a dense vector in OceanBase VECTOR input format.
// Example: [0.1, 0.2, 0.3] -> "[0.1,0.2,0.3]"
func vectorToString(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func stringToVector(s string) ([]float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return []float64{}, nil
	}
	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		result[i] = v
	}
	return result, nil
}

// sparseToString renders a sparse vector in SPARSEVECTOR input format:
// {index:value,...} with indices in ascending order.
func sparseToString(sparse map[int]float64) string {
	indices := make([]int, 0, len(sparse))
	for idx := range sparse {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var b strings.Builder
	b.WriteByte('{')
	for i, idx := range indices {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(idx))
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(sparse[idx], 'g', -1, 64))
	}
	b.WriteByte('}')
	return b.String()
}

// sparseToStringOrNil maps an absent sparse vector to SQL NULL.
func sparseToStringOrNil(sparse map[int]float64) interface{} {
	if len(sparse) == 0 {
		return nil
	}
	return sparseToString(sparse)
}

func stringToSparse(s string) (map[int]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if s == "" {
		return nil, nil
	}
	out := make(map[int]float64)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed sparse entry %q", pair)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil {
			return nil, err
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, err
		}
		out[idx] = val
	}
	return out, nil
}

func marshalMetadata(metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// activeWeights resolves fusion weights: zero-valued weight sets mean equal
// weight over the signals present in the query.
func activeWeights(q *storage.HybridQuery) storage.HybridWeights {
	w := q.Weights
	if w.Dense != 0 || w.FullText != 0 || w.Sparse != 0 {
		return w
	}
	if len(q.Dense) > 0 {
		w.Dense = 1
	}
	if q.Query != "" {
		w.FullText = 1
	}
	if len(q.Sparse) > 0 {
		w.Sparse = 1
	}
	return w
}

func formatWeight(w float64) string {
	return strconv.FormatFloat(w, 'g', -1, 64)
}

// isExistsError matches "already exists" and "duplicate column" DDL errors
// so repeated startups stay idempotent.
func isExistsError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "exist") || strings.Contains(msg, "duplicate")
}

// extractVersion pulls the OceanBase version triple out of a
// version_comment string such as "OceanBase_CE 4.3.5.1 ...".
func extractVersion(comment string) string {
	for _, field := range strings.Fields(comment) {
		field = strings.TrimPrefix(field, "v")
		if len(field) > 0 && field[0] >= '0' && field[0] <= '9' && strings.Contains(field, ".") {
			return field
		}
	}
	return ""
}

// versionAtLeast compares dotted numeric versions component-wise.
func versionAtLeast(version, minimum string) bool {
	if version == "" {
		return false
	}
	have := strings.Split(version, ".")
	want := strings.Split(minimum, ".")
	for i := 0; i < len(want); i++ {
		var h int
		if i < len(have) {
			h, _ = strconv.Atoi(have[i])
		}
		w, _ := strconv.Atoi(want[i])
		if h != w {
			return h > w
		}
	}
	return true
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func orderBy(sortBy storage.SortField, order storage.SortOrder) string {
	col := string(sortBy)
	switch sortBy {
	case storage.SortByID, storage.SortByCreatedAt, storage.SortByUpdatedAt:
	default:
		col = string(storage.SortByCreatedAt)
	}
	dir := "DESC"
	if order == storage.OrderAsc {
		dir = "ASC"
	}
	if col == "id" {
		return fmt.Sprintf("id %s", dir)
	}
	return fmt.Sprintf("%s %s, id DESC", col, dir)
}

func andWhere(where, cond string) string {
	if where == "" {
		return "WHERE " + cond
	}
	return where + " AND " + cond
}
