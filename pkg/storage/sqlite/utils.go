package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/recallhq/recall-go/pkg/storage"
)

const columns = `id, content, hash, embedding, user_id, agent_id, run_id, actor_id,
	scope, category, memory_type, metadata, created_at, updated_at`

func prefixedColumns(alias string) string {
	cols := strings.Split(columns, ",")
	for i, col := range cols {
		cols[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFields(s rowScanner, m *storage.Memory, extra ...interface{}) error {
	var embeddingJSON, metadataJSON sql.NullString
	var scope string

	dest := []interface{}{
		&m.ID, &m.Content, &m.Hash, &embeddingJSON,
		&m.UserID, &m.AgentID, &m.RunID, &m.ActorID,
		&scope, &m.Category, &m.MemoryType, &metadataJSON,
		&m.CreatedAt, &m.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := s.Scan(dest...); err != nil {
		return err
	}

	m.Scope = storage.Scope(scope)
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &m.Embedding); err != nil {
			return fmt.Errorf("parse embedding: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
			return fmt.Errorf("parse metadata: %w", err)
		}
	}
	return nil
}

func scanMemory(s rowScanner) (*storage.Memory, error) {
	var m storage.Memory
	if err := scanFields(s, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMemoryWithScore(s rowScanner) (*storage.Memory, float64, error) {
	var m storage.Memory
	var score float64
	if err := scanFields(s, &m, &score); err != nil {
		return nil, 0, err
	}
	return &m, score, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortByScore orders by descending score, ties by descending id.
func sortByScore(memories []*storage.Memory) {
	sort.SliceStable(memories, func(i, j int) bool {
		if memories[i].Score != memories[j].Score {
			return memories[i].Score > memories[j].Score
		}
		return memories[i].ID > memories[j].ID
	})
}

func clip(memories []*storage.Memory, limit int) []*storage.Memory {
	if limit > 0 && len(memories) > limit {
		return memories[:limit]
	}
	return memories
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

// ftsQueryString quotes every term so user punctuation cannot break the
// FTS5 query grammar.
func ftsQueryString(query string) string {
	terms := strings.Fields(query)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	return strings.Join(terms, " OR ")
}

func orEmptyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func andWhere(where, cond string) string {
	if where == "" {
		return "WHERE " + cond
	}
	return where + " AND " + cond
}
