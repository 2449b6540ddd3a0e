// Package qwen implements reranking on the DashScope text-rerank API.
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

	"github.com/recallhq/recall-go/pkg/reranker"
	"github.com/recallhq/recall-go/pkg/retry"
)

const defaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"

// Client implements reranker.Provider against DashScope over raw HTTP.
type Client struct {
	client  *http.Client
	apiKey  string
	model   string
	baseURL string
}

// Config configures the Qwen reranker.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	HTTPClient *http.Client
}

// NewClient builds a reranker. Model defaults to gte-rerank-v2.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("qwen reranker: api key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gte-rerank-v2"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		client:  client,
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
	}, nil
}

// Rerank scores documents against the query.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]reranker.Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	reqBody := map[string]interface{}{
		"model": c.model,
		"input": map[string]interface{}{
			"query":     query,
			"documents": documents,
		},
		"parameters": map[string]interface{}{
			"top_n":            topN,
			"return_documents": false,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("qwen reranker: marshal request: %w", err)
	}

	url := c.baseURL + "/services/rerank/text-rerank/text-rerank"
	var results []reranker.Result
	err = retry.Do(ctx, 2, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return retry.NewPermanent(fmt.Errorf("qwen reranker: create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("qwen reranker: send request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			statusErr := fmt.Errorf("qwen reranker: api status %d: %s", resp.StatusCode, string(body))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				return statusErr
			}
			return retry.NewPermanent(statusErr)
		}

		var response struct {
			Output struct {
				Results []struct {
					Index          int     `json:"index"`
					RelevanceScore float64 `json:"relevance_score"`
				} `json:"results"`
			} `json:"output"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return retry.NewPermanent(fmt.Errorf("qwen reranker: decode response: %w", err))
		}

		results = make([]reranker.Result, len(response.Output.Results))
		for i, r := range response.Output.Results {
			results[i] = reranker.Result{Index: r.Index, Score: r.RelevanceScore}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}
