// Package intelligence holds the LLM-backed ingest pipeline: fact
// extraction from conversations, reconciliation of new facts against
// stored memories, and retention decay scoring.
package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/logging"
)

// Extractor turns conversations into discrete fact strings.
type Extractor struct {
	llm    llm.Provider
	prompt string
	logger *zap.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithExtractionPrompt replaces the default system prompt.
func WithExtractionPrompt(prompt string) ExtractorOption {
	return func(e *Extractor) { e.prompt = prompt }
}

// WithExtractorLogger sets the logger.
func WithExtractorLogger(logger *zap.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = logger }
}

// NewExtractor builds an extractor over an LLM provider.
func NewExtractor(provider llm.Provider, opts ...ExtractorOption) *Extractor {
	e := &Extractor{llm: provider}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	return e
}

// Extract pulls facts out of a conversation. System messages are dropped
// before the conversation reaches the model. An unparseable reply gets one
// strict-JSON retry; a second failure returns the parse error.
func (e *Extractor) Extract(ctx context.Context, messages []llm.Message) ([]string, error) {
	conversation := renderConversation(messages)
	if conversation == "" {
		return nil, nil
	}

	systemPrompt := e.prompt
	if systemPrompt == "" {
		systemPrompt = factExtractionPrompt(time.Now())
	}

	llmMessages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Input:\n" + conversation},
	}

	response, err := e.llm.GenerateWithMessages(ctx, llmMessages, llm.WithJSONResponse())
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	facts, parseErr := parseFacts(response)
	if parseErr == nil {
		return facts, nil
	}

	e.logger.Warn("fact extraction reply was not valid JSON, retrying once", zap.Error(parseErr))
	llmMessages = append(llmMessages,
		llm.Message{Role: "assistant", Content: response},
		llm.Message{Role: "user", Content: strictJSONReminder},
	)
	response, err = e.llm.GenerateWithMessages(ctx, llmMessages, llm.WithJSONResponse())
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}
	facts, parseErr = parseFacts(response)
	if parseErr != nil {
		return nil, fmt.Errorf("extract facts: %w", parseErr)
	}
	return facts, nil
}

// renderConversation flattens messages into "role: content" lines,
// excluding system turns.
func renderConversation(messages []llm.Message) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role == "system" || msg.Content == "" {
			continue
		}
		parts = append(parts, msg.Role+": "+msg.Content)
	}
	return strings.Join(parts, "\n")
}

func parseFacts(response string) ([]string, error) {
	var result struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(response)), &result); err != nil {
		return nil, fmt.Errorf("invalid facts JSON: %w", err)
	}
	facts := make([]string, 0, len(result.Facts))
	for _, f := range result.Facts {
		if f = strings.TrimSpace(f); f != "" {
			facts = append(facts, f)
		}
	}
	return facts, nil
}

// stripCodeFence removes markdown code fences some models wrap JSON in.
func stripCodeFence(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}
