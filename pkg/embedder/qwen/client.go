// Package qwen implements dense embeddings on the DashScope text embedding
// API. The API is asymmetric: queries and documents are embedded with
// different text types.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/recallhq/recall-go/pkg/embedder"
	"github.com/recallhq/recall-go/pkg/retry"
)

const defaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"

// Client implements embedder.Provider against DashScope over raw HTTP.
type Client struct {
	client     *http.Client
	apiKey     string
	model      string
	baseURL    string
	dimensions int
}

// Config configures the Qwen embedder.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// Dimensions defaults to 1536, the text-embedding-v4 width.
	Dimensions int

	HTTPClient *http.Client
}

// NewClient builds an embedder. Model defaults to text-embedding-v4.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("qwen embedder: api key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-v4"
	}
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		client:     client,
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		dimensions: dimensions,
	}, nil
}

// Embed converts one text into a vector.
func (c *Client) Embed(ctx context.Context, text string, action embedder.Action) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text}, action)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts many texts in one request.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, action embedder.Action) ([][]float64, error) {
	reqBody := map[string]interface{}{
		"model": c.model,
		"input": map[string]interface{}{
			"texts": texts,
		},
		"parameters": map[string]interface{}{
			"dimension": c.dimensions,
			"text_type": textType(action),
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("qwen embedder: marshal request: %w", err)
	}

	url := c.baseURL + "/services/embeddings/text-embedding/text-embedding"
	var vectors [][]float64
	err = retry.Do(ctx, 2, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return retry.NewPermanent(fmt.Errorf("qwen embedder: create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("qwen embedder: send request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			statusErr := fmt.Errorf("qwen embedder: api status %d: %s", resp.StatusCode, string(body))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				return statusErr
			}
			return retry.NewPermanent(statusErr)
		}

		var response struct {
			Output struct {
				Embeddings []struct {
					Embedding []float64 `json:"embedding"`
				} `json:"embeddings"`
			} `json:"output"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return retry.NewPermanent(fmt.Errorf("qwen embedder: decode response: %w", err))
		}
		if len(response.Output.Embeddings) != len(texts) {
			return retry.NewPermanent(fmt.Errorf("qwen embedder: got %d embeddings for %d texts",
				len(response.Output.Embeddings), len(texts)))
		}

		vectors = make([][]float64, len(texts))
		for i, emb := range response.Output.Embeddings {
			vectors[i] = emb.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimensions returns the configured vector width.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

func textType(action embedder.Action) string {
	if action == embedder.ActionSearch {
		return "query"
	}
	return "document"
}
