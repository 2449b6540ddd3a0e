package core

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/embedder"
	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/storage"
	"github.com/recallhq/recall-go/pkg/storage/sqlite"
	"github.com/recallhq/recall-go/pkg/telemetry"
)

const testDims = 4

// scriptedLLM returns canned responses in call order.
type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return s.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

func (s *scriptedLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	if s.calls >= len(s.responses) {
		return "", errors.New("scriptedLLM: out of responses")
	}
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

func (s *scriptedLLM) Close() error { return nil }

// stubEmbedder maps known texts to fixed vectors so similarity is
// controllable from the test.
type stubEmbedder struct {
	vectors map[string][]float64
}

func (s *stubEmbedder) Embed(ctx context.Context, text string, action embedder.Action) ([]float64, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float64{1, 0, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string, action embedder.Action) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t, action)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return testDims }

func (s *stubEmbedder) Close() error { return nil }

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Embedder.Dimensions = testDims
	cfg.Sparse.Provider = "none"
	cfg.VectorStore.DBPath = filepath.Join(t.TempDir(), "recall_test.db")
	return cfg
}

func newTestClient(t *testing.T, provider llm.Provider, vectors map[string][]float64) *Client {
	t.Helper()
	cfg := testConfig(t)

	store, err := sqlite.NewClient(&sqlite.Config{
		DBPath:             cfg.VectorStore.DBPath,
		CollectionName:     cfg.VectorStore.CollectionName,
		EmbeddingModelDims: testDims,
	})
	require.NoError(t, err)

	if provider == nil {
		provider = &scriptedLLM{}
	}
	client, err := NewClient(cfg,
		WithStore(store),
		WithLLMProvider(provider),
		WithEmbedderProvider(&stubEmbedder{vectors: vectors}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClient_NilConfig(t *testing.T) {
	_, err := NewClient(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedder.Dimensions = 0
	_, err := NewClient(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAdd_Direct(t *testing.T) {
	client := newTestClient(t, nil, nil)
	ctx := context.Background()

	result, err := client.Add(ctx, "User prefers the window seat",
		WithUserID("alice"), WithInfer(false))
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "ADD", result.Results[0].Event)
	assert.NotZero(t, result.Results[0].ID)

	m, err := client.Get(ctx, result.Results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "User prefers the window seat", m.Content)
	assert.Equal(t, "alice", m.UserID)
}

func TestAdd_Direct_HashDedup(t *testing.T) {
	client := newTestClient(t, nil, nil)
	ctx := context.Background()

	first, err := client.Add(ctx, "User prefers the window seat",
		WithUserID("alice"), WithInfer(false))
	require.NoError(t, err)
	require.Equal(t, "ADD", first.Results[0].Event)

	// Same content modulo case and whitespace.
	second, err := client.Add(ctx, "  user PREFERS the window   seat ",
		WithUserID("alice"), WithInfer(false))
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, "NONE", second.Results[0].Event)
	assert.Equal(t, "duplicate", second.Results[0].Reason)

	// A different owner is free to store the same content.
	third, err := client.Add(ctx, "User prefers the window seat",
		WithUserID("bob"), WithInfer(false))
	require.NoError(t, err)
	assert.Equal(t, "ADD", third.Results[0].Event)
}

func TestAdd_Direct_HashDedupPerActor(t *testing.T) {
	client := newTestClient(t, nil, nil)
	ctx := context.Background()

	first, err := client.Add(ctx, "User prefers the window seat",
		WithUserID("alice"), WithActorID("travel"), WithInfer(false))
	require.NoError(t, err)
	require.Equal(t, "ADD", first.Results[0].Event)

	// A different actor under the same user is a distinct identity tuple.
	second, err := client.Add(ctx, "User prefers the window seat",
		WithUserID("alice"), WithActorID("calendar"), WithInfer(false))
	require.NoError(t, err)
	assert.Equal(t, "ADD", second.Results[0].Event)

	// The same actor repeating itself is still a duplicate.
	third, err := client.Add(ctx, "User prefers the window seat",
		WithUserID("alice"), WithActorID("travel"), WithInfer(false))
	require.NoError(t, err)
	assert.Equal(t, "NONE", third.Results[0].Event)
	assert.Equal(t, "duplicate", third.Results[0].Reason)
}

func TestAdd_CountsRequestedBeforeValidation(t *testing.T) {
	client := newTestClient(t, nil, nil)
	metrics := telemetry.New(prometheus.NewRegistry())
	client.metrics = metrics
	ctx := context.Background()

	// A rejected call still counts as requested, but never completes.
	_, err := client.Add(ctx, 42, WithInfer(false))
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AddRequested))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.AddTotal.WithLabelValues("ok")))

	_, err = client.Add(ctx, "likes espresso", WithUserID("alice"), WithInfer(false))
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AddRequested))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AddTotal.WithLabelValues("ok")))
}

func TestAdd_Direct_EmptyContent(t *testing.T) {
	client := newTestClient(t, nil, nil)

	_, err := client.Add(context.Background(), "   ", WithInfer(false))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAdd_Inferred_Pipeline(t *testing.T) {
	provider := &scriptedLLM{responses: []string{
		`{"facts": ["prefers the window seat"]}`,
		`{"memory": [{"id": "", "text": "prefers the window seat", "event": "ADD"}]}`,
	}}
	client := newTestClient(t, provider, nil)

	result, err := client.Add(context.Background(), []llm.Message{
		{Role: "user", Content: "Could I have the window seat?"},
	}, WithUserID("alice"))
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "ADD", result.Results[0].Event)
	assert.Equal(t, "prefers the window seat", result.Results[0].Content)
	assert.Equal(t, 2, provider.calls)
}

func TestAdd_Inferred_UpdateDecision(t *testing.T) {
	seed := &scriptedLLM{responses: []string{
		`{"facts": ["lives in Munich"]}`,
		`{"memory": [{"id": "", "text": "lives in Munich", "event": "ADD"}]}`,
	}}
	client := newTestClient(t, seed, map[string][]float64{
		"lives in Munich": {0, 1, 0, 0},
		"lives in Berlin": {0, 0.9, 0.1, 0},
	})
	ctx := context.Background()

	first, err := client.Add(ctx, "I live in Munich", WithUserID("alice"))
	require.NoError(t, err)
	existingID := first.Results[0].ID
	require.NotZero(t, existingID)

	// The reconciler sees the Munich memory as neighbor 0 and updates it.
	seed.responses = append(seed.responses,
		`{"facts": ["lives in Berlin"]}`,
		`{"memory": [{"id": "0", "text": "lives in Berlin", "event": "UPDATE", "old_memory": "lives in Munich"}]}`,
	)
	second, err := client.Add(ctx, "I moved to Berlin", WithUserID("alice"))
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, "UPDATE", second.Results[0].Event)
	assert.Equal(t, existingID, second.Results[0].ID)
	assert.Equal(t, "lives in Munich", second.Results[0].OldMemory)

	m, err := client.Get(ctx, existingID)
	require.NoError(t, err)
	assert.Equal(t, "lives in Berlin", m.Content)
}

func TestAdd_Inferred_ExtractionFailureIsNonFatal(t *testing.T) {
	provider := &scriptedLLM{responses: []string{"not json", "still not json"}}
	client := newTestClient(t, provider, nil)

	result, err := client.Add(context.Background(), "hello", WithUserID("alice"))
	require.NoError(t, err)
	assert.Empty(t, result.Results)
}

func TestAdd_Inferred_ReconcileFailureIsFatal(t *testing.T) {
	provider := &scriptedLLM{responses: []string{
		`{"facts": ["a fact"]}`,
		"garbage", "more garbage",
	}}
	client := newTestClient(t, provider, nil)
	ctx := context.Background()

	_, err := client.Add(ctx, "hello", WithUserID("alice"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconcileFailed)

	// No partial writes.
	memories, err := client.GetAll(ctx, WithUserIDForGetAll("alice"))
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestSearch_EmptyQuery(t *testing.T) {
	client := newTestClient(t, nil, nil)
	_, err := client.Search(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSearch_RanksAndIsolates(t *testing.T) {
	client := newTestClient(t, nil, map[string][]float64{
		"likes espresso": {1, 0, 0, 0},
		"plays tennis":   {0, 1, 0, 0},
		"espresso":       {1, 0, 0, 0},
	})
	ctx := context.Background()

	for user, content := range map[string]string{
		"alice": "likes espresso",
		"bob":   "plays tennis",
	} {
		_, err := client.Add(ctx, content, WithUserID(user), WithInfer(false))
		require.NoError(t, err)
	}

	results, err := client.Search(ctx, "espresso",
		WithUserIDForSearch("alice"), WithLimit(5))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "likes espresso", results[0].Content)
}

func TestSearch_OmitsEmbeddings(t *testing.T) {
	client := newTestClient(t, nil, map[string][]float64{
		"likes espresso": {1, 0, 0, 0},
		"espresso":       {1, 0, 0, 0},
	})
	ctx := context.Background()

	_, err := client.Add(ctx, "likes espresso", WithUserID("alice"), WithInfer(false))
	require.NoError(t, err)

	results, err := client.Search(ctx, "espresso", WithUserIDForSearch("alice"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Embedding)
	assert.Nil(t, results[0].SparseEmbedding)
}

func TestUpdate_ReembedsContent(t *testing.T) {
	client := newTestClient(t, nil, map[string][]float64{
		"old fact": {1, 0, 0, 0},
		"new fact": {0, 0, 0, 1},
	})
	ctx := context.Background()

	added, err := client.Add(ctx, "old fact", WithUserID("alice"), WithInfer(false))
	require.NoError(t, err)
	id := added.Results[0].ID

	updated, err := client.Update(ctx, id, "new fact", WithUserIDForUpdate("alice"))
	require.NoError(t, err)
	assert.Equal(t, "new fact", updated.Content)
	assert.Equal(t, []float64{0, 0, 0, 1}, updated.Embedding)
	assert.Equal(t, storage.ContentHash("new fact"), updated.Hash)
}

func TestUpdate_NotFound(t *testing.T) {
	client := newTestClient(t, nil, nil)
	_, err := client.Update(context.Background(), 99999, "content")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_ThenGetFails(t *testing.T) {
	client := newTestClient(t, nil, nil)
	ctx := context.Background()

	added, err := client.Add(ctx, "temp", WithUserID("alice"), WithInfer(false))
	require.NoError(t, err)
	id := added.Results[0].ID

	require.NoError(t, client.Delete(ctx, id, WithUserIDForDelete("alice")))
	_, err = client.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	err = client.Delete(ctx, id, WithUserIDForDelete("alice"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAll_ScopedToIdentity(t *testing.T) {
	client := newTestClient(t, nil, map[string][]float64{
		"a": {1, 0, 0, 0}, "b": {0, 1, 0, 0}, "c": {0, 0, 1, 0},
	})
	ctx := context.Background()

	for _, item := range []struct{ user, content string }{
		{"alice", "a"}, {"alice", "b"}, {"bob", "c"},
	} {
		_, err := client.Add(ctx, item.content, WithUserID(item.user), WithInfer(false))
		require.NoError(t, err)
	}

	n, err := client.DeleteAll(ctx, WithUserIDForDeleteAll("alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	remaining, err := client.GetAll(ctx, WithUserIDForGetAll("bob"))
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestStatistics(t *testing.T) {
	client := newTestClient(t, nil, nil)
	ctx := context.Background()

	_, err := client.Add(ctx, "fact", WithUserID("alice"), WithInfer(false), WithCategory("preference"))
	require.NoError(t, err)

	stats, err := client.Statistics(ctx, &storage.Identity{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.ByCategory["preference"])
}
