package intelligence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/llm"
)

// fakeLLM replays scripted responses and records the prompts it saw.
type fakeLLM struct {
	responses []string
	errs      []error
	calls     [][]llm.Message
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return f.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

func (f *fakeLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	call := len(f.calls)
	f.calls = append(f.calls, messages)
	if call < len(f.errs) && f.errs[call] != nil {
		return "", f.errs[call]
	}
	if call < len(f.responses) {
		return f.responses[call], nil
	}
	return "", errors.New("fakeLLM: no scripted response")
}

func (f *fakeLLM) Close() error { return nil }

func conversation() []llm.Message {
	return []llm.Message{
		{Role: "system", Content: "you are an assistant"},
		{Role: "user", Content: "I moved to Berlin last month"},
		{Role: "assistant", Content: "Noted!"},
	}
}

func TestExtractor_Extract(t *testing.T) {
	provider := &fakeLLM{responses: []string{`{"facts": ["Moved to Berlin last month"]}`}}
	e := NewExtractor(provider)

	facts, err := e.Extract(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, []string{"Moved to Berlin last month"}, facts)

	// System turns never reach the model's user content.
	require.Len(t, provider.calls, 1)
	sent := provider.calls[0]
	require.Len(t, sent, 2)
	assert.Equal(t, "system", sent[0].Role)
	assert.NotContains(t, sent[1].Content, "you are an assistant")
	assert.Contains(t, sent[1].Content, "user: I moved to Berlin last month")
}

func TestExtractor_Extract_CodeFence(t *testing.T) {
	provider := &fakeLLM{responses: []string{"```json\n{\"facts\": [\"likes espresso\"]}\n```"}}
	e := NewExtractor(provider)

	facts, err := e.Extract(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, []string{"likes espresso"}, facts)
}

func TestExtractor_Extract_RetriesOnceOnBadJSON(t *testing.T) {
	provider := &fakeLLM{responses: []string{
		"sure, here are the facts!",
		`{"facts": ["likes espresso"]}`,
	}}
	e := NewExtractor(provider)

	facts, err := e.Extract(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, []string{"likes espresso"}, facts)
	require.Len(t, provider.calls, 2)
	// The retry carries the bad reply plus the strict reminder.
	retry := provider.calls[1]
	assert.Equal(t, "assistant", retry[len(retry)-2].Role)
	assert.Equal(t, strictJSONReminder, retry[len(retry)-1].Content)
}

func TestExtractor_Extract_SecondParseFailureErrors(t *testing.T) {
	provider := &fakeLLM{responses: []string{"not json", "still not json"}}
	e := NewExtractor(provider)

	_, err := e.Extract(context.Background(), conversation())
	assert.Error(t, err)
	assert.Len(t, provider.calls, 2)
}

func TestExtractor_Extract_EmptyConversation(t *testing.T) {
	provider := &fakeLLM{}
	e := NewExtractor(provider)

	facts, err := e.Extract(context.Background(), []llm.Message{{Role: "system", Content: "only system"}})
	require.NoError(t, err)
	assert.Nil(t, facts)
	assert.Empty(t, provider.calls)
}

func TestExtractor_CustomPrompt(t *testing.T) {
	provider := &fakeLLM{responses: []string{`{"facts": []}`}}
	e := NewExtractor(provider, WithExtractionPrompt("custom rules"))

	_, err := e.Extract(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, "custom rules", provider.calls[0][0].Content)
}

func TestParseFacts_DropsBlankEntries(t *testing.T) {
	facts, err := parseFacts(`{"facts": ["a", "  ", "", "b"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, facts)
}
