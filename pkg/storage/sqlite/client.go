// Package sqlite implements the storage contract on a local SQLite file.
//
// Vectors are stored as JSON text and compared in process; full-text search
// runs over an FTS5 mirror of the content column. SQLite never offers the
// sparse or native-hybrid capabilities, so retrieval always takes the
// client-side fusion path.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/recallhq/recall-go/pkg/logging"
	"github.com/recallhq/recall-go/pkg/storage"
)

// Client implements storage.VectorStore backed by a SQLite file.
type Client struct {
	db         *sql.DB
	collection string
	dims       int
	caps       storage.Capabilities
	logger     *zap.Logger
}

// Config configures the SQLite store.
type Config struct {
	// DBPath is the database file path. Parent directories are created.
	DBPath string

	// CollectionName is the table name holding memories.
	CollectionName string

	// EmbeddingModelDims is the dense vector dimension.
	EmbeddingModelDims int

	// Logger receives downgrade warnings. Optional.
	Logger *zap.Logger
}

// NewClient opens the database and creates the collection schema.
func NewClient(cfg *Config) (*Client, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	c := &Client{
		db:         db,
		collection: cfg.CollectionName,
		dims:       cfg.EmbeddingModelDims,
		caps:       storage.Capabilities{},
		logger:     logging.OrNop(cfg.Logger),
	}

	if err := c.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			content TEXT NOT NULL,
			hash TEXT NOT NULL,
			embedding TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT '',
			actor_id TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL DEFAULT 'private',
			category TEXT NOT NULL DEFAULT '',
			memory_type TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`, c.collection)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqlite: init schema: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s(user_id, agent_id, run_id)
	`, c.collection, c.collection)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("sqlite: init index: %w", err)
	}

	// FTS5 is compiled into most sqlite3 builds but not all; degrade to
	// vector-only retrieval when the virtual table cannot be created.
	ftsQuery := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %s_fts USING fts5(content, content=%s, content_rowid=id)
	`, c.collection, c.collection)
	if _, err := c.db.ExecContext(ctx, ftsQuery); err != nil {
		c.logger.Warn("sqlite: fts5 unavailable, full-text search disabled", zap.Error(err))
		c.caps.FullText = false
	} else {
		c.caps.FullText = true
	}

	return nil
}

// Capabilities reports the probed feature set. SQLite never supports
// sparse columns or engine-side fusion.
func (c *Client) Capabilities() storage.Capabilities { return c.caps }

// Insert writes a batch in one transaction. Embedding lengths are checked
// before anything is written.
func (c *Client) Insert(ctx context.Context, memories []*storage.Memory) ([]int64, error) {
	for _, m := range memories {
		if len(m.Embedding) != c.dims {
			return nil, fmt.Errorf("sqlite: insert id=%d: %w: got %d, want %d",
				m.ID, storage.ErrInvalidVector, len(m.Embedding), c.dims)
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := fmt.Sprintf(`
		INSERT INTO %s
		(id, content, hash, embedding, user_id, agent_id, run_id, actor_id,
		 scope, category, memory_type, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collection)
	ftsInsert := fmt.Sprintf(`INSERT INTO %s_fts (rowid, content) VALUES (?, ?)`, c.collection)

	ids := make([]int64, 0, len(memories))
	now := time.Now().UTC()
	for _, m := range memories {
		embeddingJSON, err := json.Marshal(m.Embedding)
		if err != nil {
			return nil, fmt.Errorf("sqlite: insert: %w", err)
		}
		metadataJSON, err := json.Marshal(orEmptyMap(m.Metadata))
		if err != nil {
			return nil, fmt.Errorf("sqlite: insert: %w", err)
		}
		scope := m.Scope
		if scope == "" {
			scope = storage.ScopePrivate
		}
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		_, err = tx.ExecContext(ctx, insert,
			m.ID, m.Content, storage.ContentHash(m.Content), string(embeddingJSON),
			m.UserID, m.AgentID, m.RunID, m.ActorID,
			string(scope), m.Category, m.MemoryType, string(metadataJSON),
			createdAt, createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: insert: %w", err)
		}
		if c.caps.FullText {
			if _, err := tx.ExecContext(ctx, ftsInsert, m.ID, m.Content); err != nil {
				return nil, fmt.Errorf("sqlite: insert fts: %w", err)
			}
		}
		ids = append(ids, m.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: insert: %w", err)
	}
	return ids, nil
}

// Get returns a memory by id, enforcing scope visibility.
func (c *Client) Get(ctx context.Context, id int64, identity *storage.Identity) (*storage.Memory, error) {
	b := storage.NewSQLBuilder(storage.DialectSQLite)
	where := "id = " + b.Bind(id)
	if clause := b.IdentityClause(identity); clause != "" {
		where += " AND " + clause
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, columns, c.collection, where)
	row := c.db.QueryRowContext(ctx, query, b.Args()...)

	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get: %w", err)
	}
	return m, nil
}

// List returns filtered memories with stable ordering.
func (c *Client) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	b := storage.NewSQLBuilder(storage.DialectSQLite)
	where, err := c.whereClause(b, opts.Identity, opts.Filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY %s LIMIT %s OFFSET %s`,
		columns, c.collection, where,
		orderBy(opts.SortBy, opts.Order),
		b.Bind(normalizeLimit(opts.Limit)), b.Bind(opts.Offset))

	return c.queryMemories(ctx, query, b.Args())
}

// VectorSearch prefilters in SQL then ranks by cosine similarity in
// process. SQLite has no vector index, so this is a scan of the filtered
// candidate set.
func (c *Client) VectorSearch(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if len(embedding) != c.dims {
		return nil, storage.ErrInvalidVector
	}

	b := storage.NewSQLBuilder(storage.DialectSQLite)
	where, err := c.whereClause(b, opts.Identity, opts.Filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s %s`, columns, c.collection, where)
	memories, err := c.queryMemories(ctx, query, b.Args())
	if err != nil {
		return nil, err
	}

	for _, m := range memories {
		m.Score = cosineSimilarity(embedding, m.Embedding)
	}
	sortByScore(memories)
	return clip(memories, opts.Limit), nil
}

// FullTextSearch ranks by FTS5 bm25. Scores are mapped to 1/(1+bm25) so
// higher is better, matching the other signals.
func (c *Client) FullTextSearch(ctx context.Context, query string, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if !c.caps.FullText {
		return nil, storage.ErrUnsupported
	}

	b := storage.NewSQLBuilder(storage.DialectSQLite)
	matchArg := b.Bind(ftsQueryString(query))
	where, err := c.whereClause(b, opts.Identity, opts.Filter)
	if err != nil {
		return nil, err
	}
	and := ""
	if where != "" {
		and = " AND " + strings.TrimPrefix(where, "WHERE ")
	}

	sqlQuery := fmt.Sprintf(`
		SELECT %s, bm25(%s_fts) AS rank
		FROM %s_fts
		JOIN %s m ON m.id = %s_fts.rowid
		WHERE %s_fts MATCH %s%s
		ORDER BY rank ASC, m.id DESC
		LIMIT %s
	`, prefixedColumns("m"), c.collection, c.collection, c.collection, c.collection,
		c.collection, matchArg, and, b.Bind(normalizeLimit(opts.Limit)))

	rows, err := c.db.QueryContext(ctx, sqlQuery, b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fulltext search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		m, rank, err := scanMemoryWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: fulltext search: %w", err)
		}
		m.Score = 1.0 / (1.0 + math.Max(rank, 0))
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// SparseSearch is unavailable on SQLite.
func (c *Client) SparseSearch(ctx context.Context, sparse map[int]float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	return nil, storage.ErrUnsupported
}

// HybridSearch is unavailable on SQLite; the planner always fuses
// client-side for this backend.
func (c *Client) HybridSearch(ctx context.Context, q *storage.HybridQuery) ([]*storage.Memory, error) {
	return nil, storage.ErrUnsupported
}

// Update applies a partial update under strict ownership. Content writes
// recompute hash and updated_at in the same statement.
func (c *Client) Update(ctx context.Context, id int64, fields *storage.UpdateFields, identity *storage.Identity) (*storage.Memory, error) {
	b := storage.NewSQLBuilder(storage.DialectSQLite)

	var sets []string
	if fields.Content != nil {
		if len(fields.Embedding) != c.dims {
			return nil, storage.ErrInvalidVector
		}
		embeddingJSON, err := json.Marshal(fields.Embedding)
		if err != nil {
			return nil, fmt.Errorf("sqlite: update: %w", err)
		}
		sets = append(sets,
			"content = "+b.Bind(*fields.Content),
			"hash = "+b.Bind(storage.ContentHash(*fields.Content)),
			"embedding = "+b.Bind(string(embeddingJSON)),
		)
	}
	if fields.Metadata != nil {
		metadataJSON, err := json.Marshal(fields.Metadata)
		if err != nil {
			return nil, fmt.Errorf("sqlite: update: %w", err)
		}
		sets = append(sets, "metadata = "+b.Bind(string(metadataJSON)))
	}
	if fields.Category != nil {
		sets = append(sets, "category = "+b.Bind(*fields.Category))
	}
	if fields.MemoryType != nil {
		sets = append(sets, "memory_type = "+b.Bind(*fields.MemoryType))
	}
	if len(sets) == 0 {
		return c.Get(ctx, id, identity)
	}
	sets = append(sets, "updated_at = "+b.Bind(time.Now().UTC()))

	where := "id = " + b.Bind(id)
	if clause := b.OwnerClause(identity); clause != "" {
		where += " AND " + clause
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s`, c.collection, strings.Join(sets, ", "), where)
	result, err := c.db.ExecContext(ctx, query, b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: update: %w", err)
	}
	if affected == 0 {
		return nil, storage.ErrNotFound
	}

	if fields.Content != nil && c.caps.FullText {
		if err := c.refreshFTS(ctx, id, *fields.Content); err != nil {
			return nil, err
		}
	}

	return c.Get(ctx, id, nil)
}

func (c *Client) refreshFTS(ctx context.Context, id int64, content string) error {
	if _, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s_fts WHERE rowid = ?`, c.collection), id); err != nil {
		return fmt.Errorf("sqlite: refresh fts: %w", err)
	}
	if _, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s_fts (rowid, content) VALUES (?, ?)`, c.collection), id, content); err != nil {
		return fmt.Errorf("sqlite: refresh fts: %w", err)
	}
	return nil
}

// Delete removes one memory under strict ownership.
func (c *Client) Delete(ctx context.Context, id int64, identity *storage.Identity) error {
	b := storage.NewSQLBuilder(storage.DialectSQLite)
	where := "id = " + b.Bind(id)
	if clause := b.OwnerClause(identity); clause != "" {
		where += " AND " + clause
	}

	result, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s`, c.collection, where), b.Args()...)
	if err != nil {
		return fmt.Errorf("sqlite: delete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if c.caps.FullText {
		_, _ = c.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s_fts WHERE rowid = ?`, c.collection), id)
	}
	return nil
}

// DeleteByFilter bulk-deletes matching rows and returns the count.
func (c *Client) DeleteByFilter(ctx context.Context, filter *storage.Filter, identity *storage.Identity) (int64, error) {
	// Strict ownership: shared visibility never grants bulk deletion.
	b := storage.NewSQLBuilder(storage.DialectSQLite)
	var parts []string
	if clause := b.OwnerClause(identity); clause != "" {
		parts = append(parts, clause)
	}
	clause, err := b.Filter(filter)
	if err != nil {
		return 0, err
	}
	if clause != "" {
		parts = append(parts, clause)
	}
	where := ""
	if len(parts) > 0 {
		where = "WHERE " + strings.Join(parts, " AND ")
	}

	if c.caps.FullText {
		sub := fmt.Sprintf(`DELETE FROM %s_fts WHERE rowid IN (SELECT id FROM %s %s)`,
			c.collection, c.collection, where)
		if _, err := c.db.ExecContext(ctx, sub, b.Args()...); err != nil {
			return 0, fmt.Errorf("sqlite: delete by filter: %w", err)
		}
	}

	result, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s %s`, c.collection, where), b.Args()...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete by filter: %w", err)
	}
	return result.RowsAffected()
}

// Statistics aggregates counts, type distribution and age buckets for the
// identity-visible slice.
func (c *Client) Statistics(ctx context.Context, identity *storage.Identity) (*storage.Statistics, error) {
	b := storage.NewSQLBuilder(storage.DialectSQLite)
	where := ""
	if clause := b.IdentityClause(identity); clause != "" {
		where = "WHERE " + clause
	}

	stats := &storage.Statistics{
		ByMemoryType: map[string]int64{},
		ByCategory:   map[string]int64{},
		AgeBuckets:   map[string]int64{},
	}

	row := c.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, c.collection, where), b.Args()...)
	if err := row.Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("sqlite: statistics: %w", err)
	}

	if err := c.groupCount(ctx, "memory_type", where, b.Args(), stats.ByMemoryType); err != nil {
		return nil, err
	}
	if err := c.groupCount(ctx, "category", where, b.Args(), stats.ByCategory); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	buckets := []struct {
		name  string
		since time.Time
	}{
		{"last_24h", now.Add(-24 * time.Hour)},
		{"last_7d", now.Add(-7 * 24 * time.Hour)},
		{"last_30d", now.Add(-30 * 24 * time.Hour)},
	}
	// Buckets are cumulative windows; "older" is everything outside the
	// widest one.
	var last30 int64
	for _, bucket := range buckets {
		args := append(append([]interface{}{}, b.Args()...), bucket.since)
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, c.collection, andWhere(where, "created_at >= ?"))
		var n int64
		if err := c.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
			return nil, fmt.Errorf("sqlite: statistics: %w", err)
		}
		stats.AgeBuckets[bucket.name] = n
		last30 = n
	}
	stats.AgeBuckets["older"] = stats.Total - last30
	return stats, nil
}

func (c *Client) groupCount(ctx context.Context, column, where string, args []interface{}, into map[string]int64) error {
	q := fmt.Sprintf(`SELECT %s, COUNT(*) FROM %s %s GROUP BY %s`, column, c.collection, where, column)
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlite: statistics: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("sqlite: statistics: %w", err)
		}
		if key == "" {
			key = "unspecified"
		}
		into[key] = n
	}
	return rows.Err()
}

// Reset drops and recreates the collection.
func (c *Client) Reset(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s_fts`, c.collection)); err != nil {
		return fmt.Errorf("sqlite: reset: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, c.collection)); err != nil {
		return fmt.Errorf("sqlite: reset: %w", err)
	}
	return c.initSchema(ctx)
}

// Close closes the database handle.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Client) whereClause(b *storage.SQLBuilder, identity *storage.Identity, filter *storage.Filter) (string, error) {
	var parts []string
	if clause := b.IdentityClause(identity); clause != "" {
		parts = append(parts, clause)
	}
	clause, err := b.Filter(filter)
	if err != nil {
		return "", err
	}
	if clause != "" {
		parts = append(parts, clause)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(parts, " AND "), nil
}

func (c *Client) queryMemories(ctx context.Context, query string, args []interface{}) ([]*storage.Memory, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
