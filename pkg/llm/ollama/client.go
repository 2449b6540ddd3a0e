// Package ollama implements the LLM provider on a local or remote Ollama
// server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/retry"
)

// Client implements llm.Provider against the Ollama chat API.
type Client struct {
	client  *http.Client
	apiKey  string
	model   string
	baseURL string
}

// Config configures the Ollama provider. APIKey is only needed for
// authenticated remote deployments.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// HTTPClient overrides the default client. Local models can be slow,
	// so the default timeout is 120 seconds.
	HTTPClient *http.Client
}

// NewClient builds a provider. BaseURL defaults to the local daemon.
func NewClient(cfg *Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.1"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	return &Client{
		client:  client,
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
	}, nil
}

// Generate produces text from a single prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return c.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

// GenerateWithMessages produces text from a conversation history. Ollama
// names things differently: num_predict instead of max_tokens, and a
// top-level format field for JSON mode.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	reqBody := map[string]interface{}{
		"model":    c.model,
		"messages": messages,
		"stream":   false,
		"options": map[string]interface{}{
			"temperature": options.Temperature,
			"num_predict": options.MaxTokens,
			"top_p":       options.TopP,
			"stop":        options.Stop,
		},
	}
	if options.JSONResponse {
		reqBody["format"] = "json"
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	url := c.baseURL + "/api/chat"
	var content string
	err = retry.Do(ctx, 2, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return retry.NewPermanent(fmt.Errorf("ollama: create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("ollama: send request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			statusErr := fmt.Errorf("ollama: api status %d: %s", resp.StatusCode, string(body))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				return statusErr
			}
			return retry.NewPermanent(statusErr)
		}

		var response struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return retry.NewPermanent(fmt.Errorf("ollama: decode response: %w", err))
		}
		if response.Message.Content == "" {
			return retry.NewPermanent(errors.New("ollama: empty response"))
		}
		content = response.Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}
