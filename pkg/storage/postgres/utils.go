package postgres

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

// selectColumns lists the scan columns. Vector columns come back as text so
// the pgvector wire formats can be parsed without a driver extension.
func (c *Client) selectColumns(alias string) string {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	cols := []string{
		"id", "content", "hash", "embedding::text",
		"user_id", "agent_id", "run_id", "actor_id",
		"scope", "category", "memory_type", "metadata::text",
		"created_at", "updated_at",
	}
	if c.caps.Sparse {
		rest := append([]string{"sparse_embedding::text"}, cols[4:]...)
		cols = append(cols[:4:4], rest...)
	}
	for i, col := range cols {
		cols[i] = prefix + col
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (c *Client) scanFields(s rowScanner, m *storage.Memory, extra ...interface{}) error {
	var embeddingText, sparseText, metadataText sql.NullString
	var scope string

	dest := []interface{}{&m.ID, &m.Content, &m.Hash, &embeddingText}
	if c.caps.Sparse {
		dest = append(dest, &sparseText)
	}
	dest = append(dest,
		&m.UserID, &m.AgentID, &m.RunID, &m.ActorID,
		&scope, &m.Category, &m.MemoryType, &metadataText,
		&m.CreatedAt, &m.UpdatedAt,
	)
	dest = append(dest, extra...)
	if err := s.Scan(dest...); err != nil {
		return err
	}

	m.Scope = storage.Scope(scope)
	if embeddingText.Valid && embeddingText.String != "" {
		vec, err := parseVectorText(embeddingText.String)
		if err != nil {
			return fmt.Errorf("parse embedding: %w", err)
		}
		m.Embedding = vec
	}
	if sparseText.Valid && sparseText.String != "" {
		sparse, err := parseSparseText(sparseText.String)
		if err != nil {
			return fmt.Errorf("parse sparse embedding: %w", err)
		}
		m.SparseEmbedding = sparse
	}
	if metadataText.Valid && metadataText.String != "" {
		if err := json.Unmarshal([]byte(metadataText.String), &m.Metadata); err != nil {
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
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		m, err := c.scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (c *Client) queryScored(ctx context.Context, query string, args []interface{}) ([]*storage.Memory, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		var m storage.Memory
		if err := c.scanFields(rows, &m, &m.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		memories = append(memories, &m)
	}
	return memories, rows.Err()
}

// vectorLiteral renders a dense vector in pgvector input format: [1,2,3].
func vectorLiteral(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVectorText(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		vec[i] = v
	}
	return vec, nil
}

// sparseLiteral renders a sparse vector in sparsevec input format:
// {index:value,...}/dims with 1-based indices in ascending order.
func sparseLiteral(sparse map[int]float64, dims int) string {
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
		b.WriteString(strconv.Itoa(idx + 1))
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(sparse[idx], 'g', -1, 64))
	}
	b.WriteByte('}')
	b.WriteByte('/')
	b.WriteString(strconv.Itoa(dims))
	return b.String()
}

// sparseLiteralOrNil maps an absent sparse vector to SQL NULL.
func sparseLiteralOrNil(sparse map[int]float64, dims int) interface{} {
	if len(sparse) == 0 {
		return nil
	}
	return sparseLiteral(sparse, dims)
}

func parseSparseText(s string) (map[int]float64, error) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if s == "" {
		return nil, nil
	}
	out := make(map[int]float64)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed sparsevec entry %q", pair)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil {
			return nil, err
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, err
		}
		out[idx-1] = val
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
