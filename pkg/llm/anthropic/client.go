// Package anthropic implements the LLM provider on the Anthropic Messages
// API over raw HTTP.
package anthropic

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

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

// Client implements llm.Provider against the Messages endpoint.
type Client struct {
	client  *http.Client
	apiKey  string
	model   string
	baseURL string
}

// Config configures the Anthropic provider.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// HTTPClient overrides the default 120 second client.
	HTTPClient *http.Client
}

// NewClient builds a provider. Model defaults to claude-3-5-sonnet-20240620.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
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

// GenerateWithMessages produces text from a conversation history. The
// Messages API takes the system turn as a top-level field, so it is split
// out of the message list. There is no JSON response mode; the prompt has
// to ask for JSON itself.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	var system string
	turns := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}
		turns = append(turns, msg)
	}

	reqBody := map[string]interface{}{
		"model":       c.model,
		"max_tokens":  options.MaxTokens,
		"temperature": options.Temperature,
		"top_p":       options.TopP,
		"messages":    turns,
	}
	if system != "" {
		reqBody["system"] = system
	}
	if len(options.Stop) > 0 {
		reqBody["stop_sequences"] = options.Stop
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("anthropic: marshal request: %w", err)
	}

	url := c.baseURL + "/v1/messages"
	var text string
	err = retry.Do(ctx, 2, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return retry.NewPermanent(fmt.Errorf("anthropic: create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", apiVersion)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("anthropic: send request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			statusErr := fmt.Errorf("anthropic: api status %d: %s", resp.StatusCode, string(body))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				return statusErr
			}
			return retry.NewPermanent(statusErr)
		}

		var response struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return retry.NewPermanent(fmt.Errorf("anthropic: decode response: %w", err))
		}
		if len(response.Content) == 0 {
			return retry.NewPermanent(errors.New("anthropic: empty response"))
		}
		text = response.Content[0].Text
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}
