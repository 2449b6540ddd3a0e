// Package openai implements dense embeddings on the OpenAI embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/recallhq/recall-go/pkg/embedder"
	"github.com/recallhq/recall-go/pkg/retry"
)

// Client implements embedder.Provider using the OpenAI SDK.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config configures the OpenAI embedder.
type Config struct {
	APIKey  string
	BaseURL string

	// Dimensions defaults to 1536, the text-embedding-ada-002 width.
	Dimensions int
}

// NewClient builds an embedder on text-embedding-ada-002.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedder: api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      openai.AdaEmbeddingV2,
		dimensions: dimensions,
	}, nil
}

// Embed converts one text into a vector. OpenAI embeddings are symmetric,
// so the action is ignored.
func (c *Client) Embed(ctx context.Context, text string, action embedder.Action) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text}, action)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts many texts in one request. Rate limits and server
// errors are retried with backoff; client errors are not.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, _ embedder.Action) ([][]float64, error) {
	var resp openai.EmbeddingResponse
	err := retry.Do(ctx, 2, 500*time.Millisecond, func() error {
		var callErr error
		resp, callErr = c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: c.model,
			Input: texts,
		})
		if callErr == nil {
			return nil
		}
		var apiErr *openai.APIError
		if errors.As(callErr, &apiErr) &&
			apiErr.HTTPStatusCode != http.StatusTooManyRequests &&
			apiErr.HTTPStatusCode < http.StatusInternalServerError {
			return retry.NewPermanent(callErr)
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for i, item := range resp.Data {
		vec := make([]float64, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float64(v)
		}
		vectors[i] = vec
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
