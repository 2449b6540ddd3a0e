// Package oceanbase implements the storage contract on OceanBase over the
// MySQL wire protocol.
//
// OceanBase 4.3+ carries a VECTOR column type with cosine_distance, a
// FULLTEXT index with MATCH AGAINST, and (from 4.3.5) a SPARSEVECTOR type.
// When the server is new enough, hybrid retrieval runs as a single fused
// query; older servers silently downgrade to whatever they can do and the
// client-side fusion path takes over.
package oceanbase

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/recallhq/recall-go/pkg/logging"
	"github.com/recallhq/recall-go/pkg/storage"
)

// Minimum server versions for the optional capabilities.
const (
	minVersionHybrid = "4.3.3"
	minVersionSparse = "4.3.5"
)

// Client implements storage.VectorStore backed by OceanBase.
type Client struct {
	db         *sql.DB
	collection string
	dims       int
	caps       storage.Capabilities
	version    string
	logger     *zap.Logger
}

// Config contains OceanBase connection configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int

	// MaxOpenConns bounds the connection pool. Defaults to 10.
	MaxOpenConns int

	Logger *zap.Logger
}

// NewClient connects, probes the server version, and ensures the schema.
// Capabilities the server cannot provide are disabled with a single warning
// rather than failing the connection.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("oceanbase: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("oceanbase: ping: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)

	c := &Client{
		db:         db,
		collection: cfg.CollectionName,
		dims:       cfg.EmbeddingModelDims,
		logger:     logging.OrNop(cfg.Logger),
	}

	ctx := context.Background()
	c.probeVersion(ctx)
	if err := c.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) probeVersion(ctx context.Context) {
	var comment string
	if err := c.db.QueryRowContext(ctx, `SELECT @@version_comment`).Scan(&comment); err != nil {
		c.logger.Warn("oceanbase: version probe failed, optional capabilities disabled", zap.Error(err))
		return
	}
	c.version = extractVersion(comment)
	if c.version == "" {
		c.logger.Warn("oceanbase: unrecognized server version, optional capabilities disabled",
			zap.String("version_comment", comment))
	}
}

func (c *Client) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			content LONGTEXT NOT NULL,
			hash VARCHAR(32) NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			user_id VARCHAR(128) NOT NULL DEFAULT '',
			agent_id VARCHAR(128) NOT NULL DEFAULT '',
			run_id VARCHAR(128) NOT NULL DEFAULT '',
			actor_id VARCHAR(128) NOT NULL DEFAULT '',
			scope VARCHAR(32) NOT NULL DEFAULT 'private',
			category VARCHAR(64) NOT NULL DEFAULT '',
			memory_type VARCHAR(64) NOT NULL DEFAULT '',
			metadata JSON,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_owner (user_id, agent_id, run_id),
			FULLTEXT INDEX idx_content_fts (content)
		)
	`, c.collection, c.dims)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("oceanbase: init schema: %w", err)
	}
	c.caps.FullText = true

	vectorIdx := fmt.Sprintf(`
		CREATE VECTOR INDEX IF NOT EXISTS idx_%s_vec ON %s (embedding) WITH (
			type = HNSW,
			distance = cosine
		)`, c.collection, c.collection)
	if _, err := c.db.ExecContext(ctx, vectorIdx); err != nil && !isExistsError(err) {
		c.logger.Warn("oceanbase: vector index creation failed, searches will scan", zap.Error(err))
	}

	c.caps.NativeHybrid = versionAtLeast(c.version, minVersionHybrid)
	if !c.caps.NativeHybrid {
		c.logger.Warn("oceanbase: server too old for fused hybrid search, client-side fusion will be used",
			zap.String("version", c.version), zap.String("required", minVersionHybrid))
	}

	if versionAtLeast(c.version, minVersionSparse) {
		sparseCol := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN sparse_embedding SPARSEVECTOR`, c.collection)
		if _, err := c.db.ExecContext(ctx, sparseCol); err != nil && !isExistsError(err) {
			c.logger.Warn("oceanbase: sparse column unavailable, sparse retrieval disabled", zap.Error(err))
		} else {
			c.caps.Sparse = true
		}
	}
	return nil
}

// Capabilities reports the probed feature set.
func (c *Client) Capabilities() storage.Capabilities { return c.caps }

// ServerVersion returns the probed OceanBase version, empty when unknown.
func (c *Client) ServerVersion() string { return c.version }

// Insert writes a batch in one transaction.
func (c *Client) Insert(ctx context.Context, memories []*storage.Memory) ([]int64, error) {
	for _, m := range memories {
		if len(m.Embedding) != c.dims {
			return nil, fmt.Errorf("oceanbase: insert id=%d: %w: got %d, want %d",
				m.ID, storage.ErrInvalidVector, len(m.Embedding), c.dims)
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("oceanbase: insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var insert string
	if c.caps.Sparse {
		insert = fmt.Sprintf(`
			INSERT INTO %s
			(id, content, hash, embedding, sparse_embedding, user_id, agent_id, run_id,
			 actor_id, scope, category, memory_type, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.collection)
	} else {
		insert = fmt.Sprintf(`
			INSERT INTO %s
			(id, content, hash, embedding, user_id, agent_id, run_id,
			 actor_id, scope, category, memory_type, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
			return nil, fmt.Errorf("oceanbase: insert: %w", err)
		}

		args := []interface{}{m.ID, m.Content, storage.ContentHash(m.Content), vectorToString(m.Embedding)}
		if c.caps.Sparse {
			args = append(args, sparseToStringOrNil(m.SparseEmbedding))
		}
		args = append(args,
			m.UserID, m.AgentID, m.RunID, m.ActorID,
			string(scope), m.Category, m.MemoryType, metadataJSON,
			createdAt, createdAt,
		)
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return nil, fmt.Errorf("oceanbase: insert: %w", err)
		}
		ids = append(ids, m.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("oceanbase: insert: %w", err)
	}
	return ids, nil
}

// Get returns a memory by id, enforcing scope visibility.
func (c *Client) Get(ctx context.Context, id int64, identity *storage.Identity) (*storage.Memory, error) {
	b := storage.NewSQLBuilder(storage.DialectMySQL)
	where := "id = " + b.Bind(id)
	if clause := b.IdentityClause(identity); clause != "" {
		where += " AND " + clause
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, c.selectColumns(), c.collection, where)
	row := c.db.QueryRowContext(ctx, query, b.Args()...)

	m, err := c.scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("oceanbase: get: %w", err)
	}
	return m, nil
}

// List returns filtered memories with stable ordering.
func (c *Client) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	b := storage.NewSQLBuilder(storage.DialectMySQL)
	where, err := c.whereClause(b, opts.Identity, opts.Filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY %s LIMIT ? OFFSET ?`,
		c.selectColumns(), c.collection, where, orderBy(opts.SortBy, opts.Order))
	args := append(b.Args(), normalizeLimit(opts.Limit), opts.Offset)

	return c.queryMemories(ctx, query, args)
}

// VectorSearch ranks by cosine similarity.
func (c *Client) VectorSearch(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if len(embedding) != c.dims {
		return nil, storage.ErrInvalidVector
	}

	b := storage.NewSQLBuilder(storage.DialectMySQL)
	scoreExpr := "1 - cosine_distance(embedding, " + b.Bind(vectorToString(embedding)) + ")"
	where, err := c.whereClause(b, opts.Identity, opts.Filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s, %s AS score
		FROM %s %s
		ORDER BY score DESC, id DESC
		LIMIT ?
	`, c.selectColumns(), scoreExpr, c.collection, where)
	args := append(b.Args(), normalizeLimit(opts.Limit))

	return c.queryScored(ctx, query, args)
}

// FullTextSearch ranks by MATCH AGAINST relevance.
func (c *Client) FullTextSearch(ctx context.Context, query string, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	b := storage.NewSQLBuilder(storage.DialectMySQL)
	scoreExpr := "MATCH(content) AGAINST(" + b.Bind(query) + " IN NATURAL LANGUAGE MODE)"
	where, err := c.whereClause(b, opts.Identity, opts.Filter)
	if err != nil {
		return nil, err
	}
	where = andWhere(where, scoreExpr+" > 0")

	sqlQuery := fmt.Sprintf(`
		SELECT %s, %s AS score
		FROM %s %s
		ORDER BY score DESC, id DESC
		LIMIT ?
	`, c.selectColumns(), scoreExpr, c.collection, where)
	args := append(b.Args(), normalizeLimit(opts.Limit))

	return c.queryScored(ctx, sqlQuery, args)
}

// SparseSearch ranks by sparse inner product.
func (c *Client) SparseSearch(ctx context.Context, sparse map[int]float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if !c.caps.Sparse {
		return nil, storage.ErrUnsupported
	}

	b := storage.NewSQLBuilder(storage.DialectMySQL)
	scoreExpr := "inner_product(sparse_embedding, " + b.Bind(sparseToString(sparse)) + ")"
	where, err := c.whereClause(b, opts.Identity, opts.Filter)
	if err != nil {
		return nil, err
	}
	where = andWhere(where, "sparse_embedding IS NOT NULL")

	query := fmt.Sprintf(`
		SELECT %s, %s AS score
		FROM %s %s
		ORDER BY score DESC, id DESC
		LIMIT ?
	`, c.selectColumns(), scoreExpr, c.collection, where)
	args := append(b.Args(), normalizeLimit(opts.Limit))

	return c.queryScored(ctx, query, args)
}

// HybridSearch fuses the requested signals in a single engine-side query
// with weighted score addition. Only valid when NativeHybrid is probed.
func (c *Client) HybridSearch(ctx context.Context, q *storage.HybridQuery) ([]*storage.Memory, error) {
	if !c.caps.NativeHybrid {
		return nil, storage.ErrUnsupported
	}
	if q.Sparse != nil && !c.caps.Sparse {
		return nil, storage.ErrUnsupported
	}

	b := storage.NewSQLBuilder(storage.DialectMySQL)
	weights := activeWeights(q)

	var terms []string
	if len(q.Dense) > 0 {
		if len(q.Dense) != c.dims {
			return nil, storage.ErrInvalidVector
		}
		terms = append(terms, fmt.Sprintf("%s * (1 - cosine_distance(embedding, %s))",
			formatWeight(weights.Dense), b.Bind(vectorToString(q.Dense))))
	}
	if q.Query != "" {
		terms = append(terms, fmt.Sprintf("%s * MATCH(content) AGAINST(%s IN NATURAL LANGUAGE MODE)",
			formatWeight(weights.FullText), b.Bind(q.Query)))
	}
	if len(q.Sparse) > 0 {
		terms = append(terms, fmt.Sprintf("%s * COALESCE(inner_product(sparse_embedding, %s), 0)",
			formatWeight(weights.Sparse), b.Bind(sparseToString(q.Sparse))))
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("oceanbase: hybrid search: no signals requested")
	}
	scoreExpr := "(" + strings.Join(terms, " + ") + ")"

	where, err := c.whereClause(b, q.Identity, q.Filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s, %s AS score
		FROM %s %s
		ORDER BY score DESC, id DESC
		LIMIT ?
	`, c.selectColumns(), scoreExpr, c.collection, where)
	args := append(b.Args(), normalizeLimit(q.Limit))

	return c.queryScored(ctx, query, args)
}

// Update applies a partial update under strict ownership.
func (c *Client) Update(ctx context.Context, id int64, fields *storage.UpdateFields, identity *storage.Identity) (*storage.Memory, error) {
	b := storage.NewSQLBuilder(storage.DialectMySQL)

	var sets []string
	if fields.Content != nil {
		if len(fields.Embedding) != c.dims {
			return nil, storage.ErrInvalidVector
		}
		sets = append(sets,
			"content = "+b.Bind(*fields.Content),
			"hash = "+b.Bind(storage.ContentHash(*fields.Content)),
			"embedding = "+b.Bind(vectorToString(fields.Embedding)),
		)
		if c.caps.Sparse && fields.SparseEmbedding != nil {
			sets = append(sets, "sparse_embedding = "+b.Bind(sparseToString(fields.SparseEmbedding)))
		}
	}
	if fields.Metadata != nil {
		metadataJSON, err := marshalMetadata(fields.Metadata)
		if err != nil {
			return nil, fmt.Errorf("oceanbase: update: %w", err)
		}
		sets = append(sets, "metadata = "+b.Bind(metadataJSON))
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
		return nil, fmt.Errorf("oceanbase: update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("oceanbase: update: %w", err)
	}
	if affected == 0 {
		return nil, storage.ErrNotFound
	}

	return c.Get(ctx, id, nil)
}

// Delete removes one memory under strict ownership.
func (c *Client) Delete(ctx context.Context, id int64, identity *storage.Identity) error {
	b := storage.NewSQLBuilder(storage.DialectMySQL)
	where := "id = " + b.Bind(id)
	if clause := b.OwnerClause(identity); clause != "" {
		where += " AND " + clause
	}

	result, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s`, c.collection, where), b.Args()...)
	if err != nil {
		return fmt.Errorf("oceanbase: delete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("oceanbase: delete: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteByFilter bulk-deletes matching rows.
func (c *Client) DeleteByFilter(ctx context.Context, filter *storage.Filter, identity *storage.Identity) (int64, error) {
	// Strict ownership: shared visibility never grants bulk deletion.
	b := storage.NewSQLBuilder(storage.DialectMySQL)
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
		return 0, fmt.Errorf("oceanbase: delete by filter: %w", err)
	}
	return result.RowsAffected()
}

// Statistics aggregates counts for the identity-visible slice.
func (c *Client) Statistics(ctx context.Context, identity *storage.Identity) (*storage.Statistics, error) {
	b := storage.NewSQLBuilder(storage.DialectMySQL)
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
		return nil, fmt.Errorf("oceanbase: statistics: %w", err)
	}

	if err := c.groupCount(ctx, "memory_type", where, b.Args(), stats.ByMemoryType); err != nil {
		return nil, err
	}
	if err := c.groupCount(ctx, "category", where, b.Args(), stats.ByCategory); err != nil {
		return nil, err
	}

	ageQuery := fmt.Sprintf(`
		SELECT
			SUM(created_at >= NOW() - INTERVAL 24 HOUR),
			SUM(created_at >= NOW() - INTERVAL 7 DAY),
			SUM(created_at >= NOW() - INTERVAL 30 DAY)
		FROM %s %s
	`, c.collection, where)
	var h24, d7, d30 sql.NullInt64
	if err := c.db.QueryRowContext(ctx, ageQuery, b.Args()...).Scan(&h24, &d7, &d30); err != nil {
		return nil, fmt.Errorf("oceanbase: statistics: %w", err)
	}
	stats.AgeBuckets["last_24h"] = h24.Int64
	stats.AgeBuckets["last_7d"] = d7.Int64
	stats.AgeBuckets["last_30d"] = d30.Int64
	stats.AgeBuckets["older"] = stats.Total - d30.Int64
	return stats, nil
}

func (c *Client) groupCount(ctx context.Context, column, where string, args []interface{}, into map[string]int64) error {
	q := fmt.Sprintf(`SELECT %s, COUNT(*) FROM %s %s GROUP BY %s`, column, c.collection, where, column)
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("oceanbase: statistics: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("oceanbase: statistics: %w", err)
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
		return fmt.Errorf("oceanbase: reset: %w", err)
	}
	c.caps = storage.Capabilities{}
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
