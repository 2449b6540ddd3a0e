// Package postgres implements the storage contract on PostgreSQL with the
// pgvector extension.
//
// Dense vectors use the vector type with an HNSW index, sparse vectors use
// sparsevec (pgvector >= 0.7), and full-text search runs over a GIN index
// on to_tsvector(content). PostgreSQL has no engine-side fused primitive,
// so hybrid retrieval always fuses client-side.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/recallhq/recall-go/pkg/logging"
	"github.com/recallhq/recall-go/pkg/storage"
)

// DefaultSparseDims is the sparse vocabulary size when none is configured.
// It must match the sparse embedder's hash space.
const DefaultSparseDims = 262144

// Client implements storage.VectorStore backed by PostgreSQL + pgvector.
type Client struct {
	db         *sql.DB
	collection string
	dims       int
	sparseDims int
	caps       storage.Capabilities
	logger     *zap.Logger
}

// Config configures the PostgreSQL store.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int

	// SparseDims is the sparsevec dimension. Defaults to DefaultSparseDims.
	SparseDims int

	// SSLMode defaults to disable.
	SSLMode string

	// MaxOpenConns bounds the connection pool. Defaults to 10.
	MaxOpenConns int

	Logger *zap.Logger
}

// NewClient connects, ensures the extension and schema, and probes
// capabilities.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)

	sparseDims := cfg.SparseDims
	if sparseDims <= 0 {
		sparseDims = DefaultSparseDims
	}

	c := &Client{
		db:         db,
		collection: cfg.CollectionName,
		dims:       cfg.EmbeddingModelDims,
		sparseDims: sparseDims,
		logger:     logging.OrNop(cfg.Logger),
	}

	if err := c.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) initSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("postgres: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			content TEXT NOT NULL,
			hash CHAR(32) NOT NULL,
			embedding vector(%d) NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT '',
			actor_id TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL DEFAULT 'private',
			category TEXT NOT NULL DEFAULT '',
			memory_type TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`, c.collection, c.dims)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("postgres: init schema: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s (user_id, agent_id, run_id)`,
			c.collection, c.collection),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_fts ON %s USING GIN (to_tsvector('english', content))`,
			c.collection, c.collection),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_vec ON %s USING hnsw (embedding vector_cosine_ops)`,
			c.collection, c.collection),
	}
	for _, idx := range indexes {
		if _, err := c.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("postgres: init index: %w", err)
		}
	}
	c.caps.FullText = true

	// sparsevec needs pgvector >= 0.7; older servers reject the column
	// type and the sparse signal is disabled for this connection.
	sparseCol := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS sparse_embedding sparsevec(%d)`,
		c.collection, c.sparseDims)
	if _, err := c.db.ExecContext(ctx, sparseCol); err != nil {
		c.logger.Warn("postgres: sparsevec unavailable, sparse retrieval disabled", zap.Error(err))
		c.caps.Sparse = false
		return nil
	}
	sparseIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sparse ON %s USING hnsw (sparse_embedding sparsevec_ip_ops)`,
		c.collection, c.collection)
	if _, err := c.db.ExecContext(ctx, sparseIdx); err != nil {
		c.logger.Warn("postgres: sparse index unavailable, sparse retrieval disabled", zap.Error(err))
		c.caps.Sparse = false
		return nil
	}
	c.caps.Sparse = true
	return nil
}

// Capabilities reports the probed feature set.
func (c *Client) Capabilities() storage.Capabilities { return c.caps }

// Insert writes a batch in one transaction.
func (c *Client) Insert(ctx context.Context, memories []*storage.Memory) ([]int64, error) {
	for _, m := range memories {
		if len(m.Embedding) != c.dims {
			return nil, fmt.Errorf("postgres: insert id=%d: %w: got %d, want %d",
				m.ID, storage.ErrInvalidVector, len(m.Embedding), c.dims)
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var insert string
	if c.caps.Sparse {
		insert = fmt.Sprintf(`
			INSERT INTO %s
			(id, content, hash, embedding, sparse_embedding, user_id, agent_id, run_id,
			 actor_id, scope, category, memory_type, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, c.collection)
	} else {
		insert = fmt.Sprintf(`
			INSERT INTO %s
			(id, content, hash, embedding, user_id, agent_id, run_id,
			 actor_id, scope, category, memory_type, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, c.collection)
	}

	ids := make([]int64, 0, len(memories))
	now := time.Now().UTC()
	for _, m := range memories {
		scope := m.Scope
		if scope == "" {
			scope = storage.ScopePrivate
		}
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		metadataJSON, err := marshalMetadata(m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("postgres: insert: %w", err)
		}

		args := []interface{}{m.ID, m.Content, storage.ContentHash(m.Content), vectorLiteral(m.Embedding)}
		if c.caps.Sparse {
			args = append(args, sparseLiteralOrNil(m.SparseEmbedding, c.sparseDims))
		}
		args = append(args,
			m.UserID, m.AgentID, m.RunID, m.ActorID,
			string(scope), m.Category, m.MemoryType, metadataJSON,
			createdAt, createdAt,
		)
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return nil, fmt.Errorf("postgres: insert: %w", err)
		}
		ids = append(ids, m.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: insert: %w", err)
	}
	return ids, nil
}

// Get returns a memory by id, enforcing scope visibility.
func (c *Client) Get(ctx context.Context, id int64, identity *storage.Identity) (*storage.Memory, error) {
	b := storage.NewSQLBuilder(storage.DialectPostgres)
	where := "id = " + b.Bind(id)
	if clause := b.IdentityClause(identity); clause != "" {
		where += " AND " + clause
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, c.selectColumns(""), c.collection, where)
	row := c.db.QueryRowContext(ctx, query, b.Args()...)

	m, err := c.scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get: %w", err)
	}
	return m, nil
}

// List returns filtered memories with stable ordering.
func (c *Client) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	b := storage.NewSQLBuilder(storage.DialectPostgres)
	where, err := c.whereClause(b, opts.Identity, opts.Filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY %s LIMIT %s OFFSET %s`,
		c.selectColumns(""), c.collection, where,
		orderBy(opts.SortBy, opts.Order),
		b.Bind(normalizeLimit(opts.Limit)), b.Bind(opts.Offset))

	return c.queryMemories(ctx, query, b.Args())
}

// VectorSearch ranks by cosine similarity through the HNSW index.
func (c *Client) VectorSearch(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if len(embedding) != c.dims {
		return nil, storage.ErrInvalidVector
	}

	b := storage.NewSQLBuilder(storage.DialectPostgres)
	scoreExpr := fmt.Sprintf("1 - (embedding <=> %s::vector)", b.Bind(vectorLiteral(embedding)))
	where, err := c.whereClause(b, opts.Identity, opts.Filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s, %s AS score
		FROM %s %s
		ORDER BY score DESC, id DESC
		LIMIT %s
	`, c.selectColumns(""), scoreExpr, c.collection, where, b.Bind(normalizeLimit(opts.Limit)))

	return c.queryScored(ctx, query, b.Args())
}

// FullTextSearch ranks by ts_rank over the GIN index.
func (c *Client) FullTextSearch(ctx context.Context, query string, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	b := storage.NewSQLBuilder(storage.DialectPostgres)
	tsquery := b.Bind(query)
	where, err := c.whereClause(b, opts.Identity, opts.Filter)
	if err != nil {
		return nil, err
	}
	matchCond := fmt.Sprintf("to_tsvector('english', content) @@ plainto_tsquery('english', %s)", tsquery)
	where = andWhere(where, matchCond)

	sqlQuery := fmt.Sprintf(`
		SELECT %s, ts_rank(to_tsvector('english', content), plainto_tsquery('english', %s)) AS score
		FROM %s %s
		ORDER BY score DESC, id DESC
		LIMIT %s
	`, c.selectColumns(""), tsquery, c.collection, where, b.Bind(normalizeLimit(opts.Limit)))

	return c.queryScored(ctx, sqlQuery, b.Args())
}

// SparseSearch ranks by sparse inner product.
func (c *Client) SparseSearch(ctx context.Context, sparse map[int]float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if !c.caps.Sparse {
		return nil, storage.ErrUnsupported
	}

	b := storage.NewSQLBuilder(storage.DialectPostgres)
	// <#> returns negative inner product; negate for higher-is-better.
	scoreExpr := fmt.Sprintf("-(sparse_embedding <#> %s::sparsevec)", b.Bind(sparseLiteral(sparse, c.sparseDims)))
	where, err := c.whereClause(b, opts.Identity, opts.Filter)
	if err != nil {
		return nil, err
	}
	where = andWhere(where, "sparse_embedding IS NOT NULL")

	query := fmt.Sprintf(`
		SELECT %s, %s AS score
		FROM %s %s
		ORDER BY score DESC, id DESC
		LIMIT %s
	`, c.selectColumns(""), scoreExpr, c.collection, where, b.Bind(normalizeLimit(opts.Limit)))

	return c.queryScored(ctx, query, b.Args())
}

// HybridSearch is not native on PostgreSQL.
func (c *Client) HybridSearch(ctx context.Context, q *storage.HybridQuery) ([]*storage.Memory, error) {
	return nil, storage.ErrUnsupported
}

// Update applies a partial update under strict ownership.
func (c *Client) Update(ctx context.Context, id int64, fields *storage.UpdateFields, identity *storage.Identity) (*storage.Memory, error) {
	b := storage.NewSQLBuilder(storage.DialectPostgres)

	var sets []string
	if fields.Content != nil {
		if len(fields.Embedding) != c.dims {
			return nil, storage.ErrInvalidVector
		}
		sets = append(sets,
			"content = "+b.Bind(*fields.Content),
			"hash = "+b.Bind(storage.ContentHash(*fields.Content)),
			"embedding = "+b.Bind(vectorLiteral(fields.Embedding))+"::vector",
		)
		if c.caps.Sparse && fields.SparseEmbedding != nil {
			sets = append(sets, "sparse_embedding = "+b.Bind(sparseLiteral(fields.SparseEmbedding, c.sparseDims))+"::sparsevec")
		}
	}
	if fields.Metadata != nil {
		metadataJSON, err := marshalMetadata(fields.Metadata)
		if err != nil {
			return nil, fmt.Errorf("postgres: update: %w", err)
		}
		sets = append(sets, "metadata = "+b.Bind(metadataJSON)+"::jsonb")
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
		return nil, fmt.Errorf("postgres: update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("postgres: update: %w", err)
	}
	if affected == 0 {
		return nil, storage.ErrNotFound
	}

	return c.Get(ctx, id, nil)
}

// Delete removes one memory under strict ownership.
func (c *Client) Delete(ctx context.Context, id int64, identity *storage.Identity) error {
	b := storage.NewSQLBuilder(storage.DialectPostgres)
	where := "id = " + b.Bind(id)
	if clause := b.OwnerClause(identity); clause != "" {
		where += " AND " + clause
	}

	result, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s`, c.collection, where), b.Args()...)
	if err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteByFilter bulk-deletes matching rows.
func (c *Client) DeleteByFilter(ctx context.Context, filter *storage.Filter, identity *storage.Identity) (int64, error) {
	// Strict ownership: shared visibility never grants bulk deletion.
	b := storage.NewSQLBuilder(storage.DialectPostgres)
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

	result, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s %s`, c.collection, where), b.Args()...)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete by filter: %w", err)
	}
	return result.RowsAffected()
}

// Statistics aggregates counts for the identity-visible slice.
func (c *Client) Statistics(ctx context.Context, identity *storage.Identity) (*storage.Statistics, error) {
	b := storage.NewSQLBuilder(storage.DialectPostgres)
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
		return nil, fmt.Errorf("postgres: statistics: %w", err)
	}

	if err := c.groupCount(ctx, "memory_type", where, b.Args(), stats.ByMemoryType); err != nil {
		return nil, err
	}
	if err := c.groupCount(ctx, "category", where, b.Args(), stats.ByCategory); err != nil {
		return nil, err
	}

	ageQuery := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE created_at >= NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE created_at >= NOW() - INTERVAL '7 days'),
			COUNT(*) FILTER (WHERE created_at >= NOW() - INTERVAL '30 days')
		FROM %s %s
	`, c.collection, where)
	var h24, d7, d30 int64
	if err := c.db.QueryRowContext(ctx, ageQuery, b.Args()...).Scan(&h24, &d7, &d30); err != nil {
		return nil, fmt.Errorf("postgres: statistics: %w", err)
	}
	stats.AgeBuckets["last_24h"] = h24
	stats.AgeBuckets["last_7d"] = d7
	stats.AgeBuckets["last_30d"] = d30
	stats.AgeBuckets["older"] = stats.Total - d30
	return stats, nil
}

func (c *Client) groupCount(ctx context.Context, column, where string, args []interface{}, into map[string]int64) error {
	q := fmt.Sprintf(`SELECT %s, COUNT(*) FROM %s %s GROUP BY %s`, column, c.collection, where, column)
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("postgres: statistics: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("postgres: statistics: %w", err)
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
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, c.collection)); err != nil {
		return fmt.Errorf("postgres: reset: %w", err)
	}
	return c.initSchema(ctx)
}

// Close closes the connection pool.
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
