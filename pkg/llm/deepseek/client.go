// Package deepseek implements the LLM provider on the DeepSeek chat API,
// which speaks the OpenAI protocol.
package deepseek

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/retry"
)

const defaultBaseURL = "https://api.deepseek.com"

// Client implements llm.Provider using the OpenAI SDK pointed at DeepSeek.
type Client struct {
	client *openai.Client
	model  string
}

// Config configures the DeepSeek provider.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient builds a provider. Model defaults to deepseek-chat.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("deepseek: api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = defaultBaseURL
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "deepseek-chat"
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Generate produces text from a single prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return c.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

// GenerateWithMessages produces text from a conversation history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
		Stop:        options.Stop,
	}
	if options.JSONResponse {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var resp openai.ChatCompletionResponse
	err := retry.Do(ctx, 2, 500*time.Millisecond, func() error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, req)
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
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("deepseek: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Close is a no-op; the SDK holds no long-lived resources.
func (c *Client) Close() error {
	return nil
}
