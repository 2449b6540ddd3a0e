// Package llm defines the provider contract for the language models that
// drive fact extraction and memory reconciliation.
package llm

import "context"

// Provider is the interface every LLM backend implements.
type Provider interface {
	// Generate produces text from a single user prompt.
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

	// GenerateWithMessages produces text from a conversation history with
	// system, user, and assistant messages.
	GenerateWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)

	// Close releases provider resources.
	Close() error
}

// Message is one turn of a conversation.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	Content string `json:"content"`
}

// GenerateOptions holds the tunable generation parameters.
type GenerateOptions struct {
	// Temperature controls randomness, 0.0 to 2.0.
	Temperature float64

	// MaxTokens caps the response length.
	MaxTokens int

	// TopP is the nucleus sampling cutoff.
	TopP float64

	// Stop sequences end generation early.
	Stop []string

	// JSONResponse asks the provider to emit a single JSON object. Used
	// by the extraction and reconciliation prompts, which parse the
	// output strictly.
	JSONResponse bool
}

// GenerateOption configures one generation call.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Temperature = temp
	}
}

// WithMaxTokens caps the response token count.
func WithMaxTokens(max int) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.MaxTokens = max
	}
}

// WithTopP sets the nucleus sampling cutoff.
func WithTopP(topP float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.TopP = topP
	}
}

// WithStop sets stop sequences.
func WithStop(stop ...string) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Stop = stop
	}
}

// WithJSONResponse requests strict JSON output.
func WithJSONResponse() GenerateOption {
	return func(opts *GenerateOptions) {
		opts.JSONResponse = true
	}
}

// ApplyGenerateOptions folds a slice of options over the defaults:
// Temperature 0.1, MaxTokens 2000, TopP 1.0. The low default temperature
// suits the structured prompts this service sends.
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := &GenerateOptions{
		Temperature: 0.1,
		MaxTokens:   2000,
		TopP:        1.0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
