package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/storage"
	"github.com/recallhq/recall-go/pkg/storage/sqlite"
)

const testDims = 4

func setupStore(t *testing.T) storage.VectorStore {
	t.Helper()
	store, err := sqlite.NewClient(&sqlite.Config{
		DBPath:             filepath.Join(t.TempDir(), "recall_test.db"),
		CollectionName:     "memories",
		EmbeddingModelDims: testDims,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insertOne(t *testing.T, store storage.VectorStore, id int64, content string, embedding []float64, identity storage.Identity) *storage.Memory {
	t.Helper()
	m := &storage.Memory{
		ID:        id,
		Content:   content,
		Embedding: embedding,
		UserID:    identity.UserID,
		AgentID:   identity.AgentID,
		RunID:     identity.RunID,
		Scope:     storage.ScopePrivate,
	}
	ids, err := store.Insert(context.Background(), []*storage.Memory{m})
	require.NoError(t, err)
	require.Equal(t, []int64{id}, ids)
	return m
}

func TestClient_InsertAndGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	insertOne(t, store, 1, "User likes coffee", []float64{1, 0, 0, 0}, storage.Identity{UserID: "alice"})

	m, err := store.Get(ctx, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "User likes coffee", m.Content)
	assert.Equal(t, "alice", m.UserID)
	assert.Equal(t, storage.ContentHash("User likes coffee"), m.Hash)
	assert.Equal(t, []float64{1, 0, 0, 0}, m.Embedding)
	assert.False(t, m.CreatedAt.IsZero())
}

func TestClient_Insert_DimensionMismatch(t *testing.T) {
	store := setupStore(t)

	_, err := store.Insert(context.Background(), []*storage.Memory{{
		ID:        1,
		Content:   "bad vector",
		Embedding: []float64{1, 2},
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInvalidVector)

	// Nothing was written.
	_, err = store.Get(context.Background(), 1, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClient_Get_ScopeVisibility(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	insertOne(t, store, 1, "private fact", []float64{1, 0, 0, 0}, storage.Identity{UserID: "alice"})
	shared := &storage.Memory{
		ID: 2, Content: "shared fact", Embedding: []float64{0, 1, 0, 0},
		UserID: "alice", Scope: storage.ScopePublic,
	}
	_, err := store.Insert(ctx, []*storage.Memory{shared})
	require.NoError(t, err)

	_, err = store.Get(ctx, 1, &storage.Identity{UserID: "bob"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	m, err := store.Get(ctx, 2, &storage.Identity{UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "shared fact", m.Content)
}

func TestClient_List_FilterAndSort(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for i, content := range []string{"first", "second", "third"} {
		m := &storage.Memory{
			ID:        int64(i + 1),
			Content:   content,
			Embedding: []float64{1, 0, 0, 0},
			UserID:    "alice",
			Category:  "note",
			CreatedAt: time.Date(2026, 1, i+1, 0, 0, 0, 0, time.UTC),
		}
		_, err := store.Insert(ctx, []*storage.Memory{m})
		require.NoError(t, err)
	}

	filter, err := storage.ParseFilter(map[string]interface{}{"category": "note"})
	require.NoError(t, err)

	memories, err := store.List(ctx, &storage.ListOptions{
		Identity: &storage.Identity{UserID: "alice"},
		Filter:   filter,
		SortBy:   storage.SortByCreatedAt,
		Order:    storage.OrderDesc,
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, memories, 3)
	assert.Equal(t, "third", memories[0].Content)
	assert.Equal(t, "first", memories[2].Content)
}

func TestClient_VectorSearch_Ranking(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	insertOne(t, store, 1, "exact match", []float64{1, 0, 0, 0}, storage.Identity{UserID: "alice"})
	insertOne(t, store, 2, "orthogonal", []float64{0, 1, 0, 0}, storage.Identity{UserID: "alice"})
	insertOne(t, store, 3, "close", []float64{0.9, 0.1, 0, 0}, storage.Identity{UserID: "alice"})

	results, err := store.VectorSearch(ctx, []float64{1, 0, 0, 0}, &storage.SearchOptions{
		Identity: &storage.Identity{UserID: "alice"},
		Limit:    2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, int64(3), results[1].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestClient_FullTextSearch(t *testing.T) {
	store := setupStore(t)
	if !store.Capabilities().FullText {
		t.Skip("fts5 not available in this sqlite build")
	}
	ctx := context.Background()

	insertOne(t, store, 1, "the user enjoys espresso in the morning", []float64{1, 0, 0, 0}, storage.Identity{UserID: "alice"})
	insertOne(t, store, 2, "the user plays tennis on weekends", []float64{0, 1, 0, 0}, storage.Identity{UserID: "alice"})

	results, err := store.FullTextSearch(ctx, "espresso", &storage.SearchOptions{
		Identity: &storage.Identity{UserID: "alice"},
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestClient_SparseAndHybridUnsupported(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.SparseSearch(ctx, map[int]float64{1: 0.5}, &storage.SearchOptions{Limit: 5})
	assert.ErrorIs(t, err, storage.ErrUnsupported)

	_, err = store.HybridSearch(ctx, &storage.HybridQuery{Dense: []float64{1, 0, 0, 0}})
	assert.ErrorIs(t, err, storage.ErrUnsupported)

	caps := store.Capabilities()
	assert.False(t, caps.Sparse)
	assert.False(t, caps.NativeHybrid)
}

func TestClient_Update(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	insertOne(t, store, 1, "old content", []float64{1, 0, 0, 0}, storage.Identity{UserID: "alice"})

	newContent := "new content"
	m, err := store.Update(ctx, 1, &storage.UpdateFields{
		Content:   &newContent,
		Embedding: []float64{0, 0, 1, 0},
		Metadata:  map[string]interface{}{"edited": true},
	}, &storage.Identity{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "new content", m.Content)
	assert.Equal(t, storage.ContentHash("new content"), m.Hash)
	assert.Equal(t, []float64{0, 0, 1, 0}, m.Embedding)

	// Owner mismatch must not update.
	_, err = store.Update(ctx, 1, &storage.UpdateFields{Metadata: map[string]interface{}{"x": 1}},
		&storage.Identity{UserID: "bob"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClient_Delete_Idempotence(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	insertOne(t, store, 1, "to delete", []float64{1, 0, 0, 0}, storage.Identity{UserID: "alice"})

	require.NoError(t, store.Delete(ctx, 1, &storage.Identity{UserID: "alice"}))
	err := store.Delete(ctx, 1, &storage.Identity{UserID: "alice"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClient_DeleteByFilter(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	insertOne(t, store, 1, "keep", []float64{1, 0, 0, 0}, storage.Identity{UserID: "alice"})
	insertOne(t, store, 2, "drop a", []float64{0, 1, 0, 0}, storage.Identity{UserID: "bob"})
	insertOne(t, store, 3, "drop b", []float64{0, 0, 1, 0}, storage.Identity{UserID: "bob"})

	n, err := store.DeleteByFilter(ctx, nil, &storage.Identity{UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = store.Get(ctx, 1, nil)
	assert.NoError(t, err)
}

func TestClient_Statistics(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	m := &storage.Memory{
		ID: 1, Content: "typed", Embedding: []float64{1, 0, 0, 0},
		UserID: "alice", MemoryType: "long_term", Category: "preference",
	}
	_, err := store.Insert(ctx, []*storage.Memory{m})
	require.NoError(t, err)

	stats, err := store.Statistics(ctx, &storage.Identity{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.ByMemoryType["long_term"])
	assert.Equal(t, int64(1), stats.ByCategory["preference"])
	assert.Equal(t, int64(1), stats.AgeBuckets["last_24h"])
}

func TestClient_Reset(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	insertOne(t, store, 1, "gone after reset", []float64{1, 0, 0, 0}, storage.Identity{})
	require.NoError(t, store.Reset(ctx))

	_, err := store.Get(ctx, 1, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
