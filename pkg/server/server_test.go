package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/embedder"
	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/server"
	"github.com/recallhq/recall-go/pkg/storage/sqlite"
)

const testDims = 4

type staticLLM struct{}

func (staticLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return "", errors.New("static llm has no responses")
}

func (staticLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	return "", errors.New("static llm has no responses")
}

func (staticLLM) Close() error { return nil }

type staticEmbedder struct{}

func (staticEmbedder) Embed(ctx context.Context, text string, action embedder.Action) ([]float64, error) {
	return []float64{1, 0, 0, 0}, nil
}

func (staticEmbedder) EmbedBatch(ctx context.Context, texts []string, action embedder.Action) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0, 0, 0}
	}
	return out, nil
}

func (staticEmbedder) Dimensions() int { return testDims }

func (staticEmbedder) Close() error { return nil }

func setupServer(t *testing.T, mutate func(*core.Config)) http.Handler {
	t.Helper()

	cfg := core.DefaultConfig()
	cfg.Embedder.Dimensions = testDims
	cfg.Sparse.Provider = "none"
	cfg.VectorStore.DBPath = filepath.Join(t.TempDir(), "recall_test.db")
	if mutate != nil {
		mutate(cfg)
	}

	store, err := sqlite.NewClient(&sqlite.Config{
		DBPath:             cfg.VectorStore.DBPath,
		CollectionName:     cfg.VectorStore.CollectionName,
		EmbeddingModelDims: testDims,
	})
	require.NoError(t, err)

	client, err := core.NewClient(cfg,
		core.WithStore(store),
		core.WithLLMProvider(staticLLM{}),
		core.WithEmbedderProvider(staticEmbedder{}),
		core.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return server.New(client, cfg, zap.NewNop(), nil).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestHealth(t *testing.T) {
	h := setupServer(t, nil)
	w := doJSON(t, h, http.MethodGet, "/system/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "healthy"}`, w.Body.String())
}

func TestStatus_ReportsCapabilities(t *testing.T) {
	h := setupServer(t, nil)
	w := doJSON(t, h, http.MethodGet, "/system/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Store        string          `json:"store"`
		Capabilities map[string]bool `json:"capabilities"`
	}
	decode(t, w, &body)
	assert.Equal(t, "sqlite", body.Store)
	assert.Contains(t, body.Capabilities, "full_text")
	assert.False(t, body.Capabilities["native_hybrid"])
}

func TestAPIKeyAuth(t *testing.T) {
	h := setupServer(t, func(cfg *core.Config) {
		cfg.Server.APIKeys = []string{"secret"}
	})

	// Health stays open.
	w := doJSON(t, h, http.MethodGet, "/system/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/system/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, http.MethodGet, "/system/status", nil, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, http.MethodGet, "/system/status", nil, map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	h := setupServer(t, func(cfg *core.Config) {
		cfg.Server.RateLimit = 1
		cfg.Server.RateBurst = 2
	})

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		w := doJSON(t, h, http.MethodGet, "/system/status", nil, nil)
		codes[w.Code]++
	}
	assert.Equal(t, 2, codes[http.StatusOK])
	assert.Equal(t, 3, codes[http.StatusTooManyRequests])
}

func TestAddGetDeleteFlow(t *testing.T) {
	h := setupServer(t, nil)

	w := doJSON(t, h, http.MethodPost, "/memories", map[string]interface{}{
		"messages": "User prefers decaf",
		"user_id":  "alice",
		"infer":    false,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var added struct {
		Results []struct {
			ID    int64  `json:"id"`
			Event string `json:"event"`
		} `json:"results"`
	}
	decode(t, w, &added)
	require.Len(t, added.Results, 1)
	require.Equal(t, "ADD", added.Results[0].Event)
	id := added.Results[0].ID

	w = doJSON(t, h, http.MethodGet, fmt.Sprintf("/memories/%d?user_id=alice", id), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var m struct {
		Content string `json:"content"`
		UserID  string `json:"user_id"`
	}
	decode(t, w, &m)
	assert.Equal(t, "User prefers decaf", m.Content)
	assert.Equal(t, "alice", m.UserID)

	w = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/memories/%d?user_id=alice", id), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, fmt.Sprintf("/memories/%d", id), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdd_MissingMessages(t *testing.T) {
	h := setupServer(t, nil)
	w := doJSON(t, h, http.MethodPost, "/memories", map[string]interface{}{"user_id": "alice"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGet_NonIntegerID(t *testing.T) {
	h := setupServer(t, nil)
	w := doJSON(t, h, http.MethodGet, "/memories/abc", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSearch(t *testing.T) {
	h := setupServer(t, nil)

	w := doJSON(t, h, http.MethodPost, "/memories", map[string]interface{}{
		"messages": "likes espresso",
		"user_id":  "alice",
		"infer":    false,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/memories/search", map[string]interface{}{
		"query":   "espresso",
		"user_id": "alice",
		"limit":   5,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Memories []map[string]interface{} `json:"memories"`
	}
	decode(t, w, &body)
	require.Len(t, body.Memories, 1)
	assert.Equal(t, "likes espresso", body.Memories[0]["content"])
	assert.NotContains(t, body.Memories[0], "embedding")
	assert.NotContains(t, body.Memories[0], "sparse_embedding")

	// Missing query is a binding error.
	w = doJSON(t, h, http.MethodPost, "/memories/search", map[string]interface{}{"user_id": "alice"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestUpdate(t *testing.T) {
	h := setupServer(t, nil)

	w := doJSON(t, h, http.MethodPost, "/memories", map[string]interface{}{
		"messages": "old content",
		"user_id":  "alice",
		"infer":    false,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var added struct {
		Results []struct {
			ID int64 `json:"id"`
		} `json:"results"`
	}
	decode(t, w, &added)
	id := added.Results[0].ID

	w = doJSON(t, h, http.MethodPut, fmt.Sprintf("/memories/%d", id), map[string]interface{}{
		"content": "new content",
		"user_id": "alice",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var m struct {
		Content string `json:"content"`
	}
	decode(t, w, &m)
	assert.Equal(t, "new content", m.Content)

	// Wrong owner cannot update.
	w = doJSON(t, h, http.MethodPut, fmt.Sprintf("/memories/%d", id), map[string]interface{}{
		"content": "hijacked",
		"user_id": "mallory",
	}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestList_And_DeleteAll(t *testing.T) {
	h := setupServer(t, nil)

	for _, content := range []string{"fact one", "fact two"} {
		w := doJSON(t, h, http.MethodPost, "/memories", map[string]interface{}{
			"messages": content,
			"user_id":  "alice",
			"infer":    false,
		}, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, h, http.MethodGet, "/memories?user_id=alice", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Memories []json.RawMessage `json:"memories"`
	}
	decode(t, w, &listed)
	assert.Len(t, listed.Memories, 2)

	w = doJSON(t, h, http.MethodDelete, "/system/delete-all-memories", map[string]interface{}{
		"user_id": "alice",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted": 2}`, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/memories?user_id=alice", nil, nil)
	decode(t, w, &listed)
	assert.Empty(t, listed.Memories)
}

func TestAddBatch_IsolatesFailures(t *testing.T) {
	h := setupServer(t, nil)

	w := doJSON(t, h, http.MethodPost, "/memories/batch", map[string]interface{}{
		"items": []map[string]interface{}{
			{"messages": "good fact", "user_id": "alice", "infer": false},
			{"messages": "   ", "user_id": "alice", "infer": false},
		},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Results []struct {
			Index int    `json:"index"`
			Error string `json:"error"`
		} `json:"results"`
	}
	decode(t, w, &body)
	require.Len(t, body.Results, 2)
	assert.Empty(t, body.Results[0].Error)
	assert.NotEmpty(t, body.Results[1].Error)
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupServer(t, nil)
	w := doJSON(t, h, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
