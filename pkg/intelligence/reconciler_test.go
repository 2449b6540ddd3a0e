package intelligence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_Decide_Add(t *testing.T) {
	provider := &fakeLLM{responses: []string{
		`{"memory": [{"id": "", "text": "likes espresso", "event": "ADD"}]}`,
	}}
	r := NewReconciler(provider)

	decisions, err := r.Decide(context.Background(), []string{"likes espresso"}, nil)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, EventAdd, decisions[0].Event)
	assert.Equal(t, "likes espresso", decisions[0].Text)
	assert.Zero(t, decisions[0].MemoryID)
}

func TestReconciler_Decide_UpdateResolvesPositionalID(t *testing.T) {
	provider := &fakeLLM{responses: []string{
		`{"memory": [{"id": "1", "text": "lives in Berlin", "event": "UPDATE", "old_memory": "lives in Munich"}]}`,
	}}
	r := NewReconciler(provider)

	neighbors := []Neighbor{
		{ID: 900001, Content: "works remotely"},
		{ID: 900002, Content: "lives in Munich"},
	}
	decisions, err := r.Decide(context.Background(), []string{"lives in Berlin"}, neighbors)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, EventUpdate, decisions[0].Event)
	assert.Equal(t, int64(900002), decisions[0].MemoryID)
	assert.Equal(t, "lives in Munich", decisions[0].OldText)

	// The prompt exposes positional ids, never the real ones.
	prompt := provider.calls[0][0].Content
	assert.NotContains(t, prompt, "900002")
}

func TestReconciler_Decide_UnknownIDDowngradesToNone(t *testing.T) {
	provider := &fakeLLM{responses: []string{
		`{"memory": [{"id": "7", "text": "x", "event": "DELETE"}]}`,
	}}
	r := NewReconciler(provider)

	decisions, err := r.Decide(context.Background(), []string{"x"}, []Neighbor{{ID: 1, Content: "a"}})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, EventNone, decisions[0].Event)
	assert.Equal(t, "unknown memory id in model reply", decisions[0].Reason)
}

func TestReconciler_Decide_UpdateWithoutTextDowngrades(t *testing.T) {
	provider := &fakeLLM{responses: []string{
		`{"memory": [{"id": "0", "event": "UPDATE"}]}`,
	}}
	r := NewReconciler(provider)

	decisions, err := r.Decide(context.Background(), []string{"fact"}, []Neighbor{{ID: 5, Content: "old"}})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, EventNone, decisions[0].Event)
	assert.Equal(t, "update without replacement text", decisions[0].Reason)
}

func TestReconciler_Decide_MemoryFieldAlias(t *testing.T) {
	provider := &fakeLLM{responses: []string{
		`{"memory": [{"id": "", "memory": "aliased content", "event": "add"}]}`,
	}}
	r := NewReconciler(provider)

	decisions, err := r.Decide(context.Background(), []string{"aliased content"}, nil)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, EventAdd, decisions[0].Event)
	assert.Equal(t, "aliased content", decisions[0].Text)
}

func TestReconciler_Decide_RetryThenError(t *testing.T) {
	provider := &fakeLLM{responses: []string{"not json", "also not json"}}
	r := NewReconciler(provider)

	decisions, err := r.Decide(context.Background(), []string{"fact"}, nil)
	assert.Error(t, err)
	assert.Nil(t, decisions)
	assert.Len(t, provider.calls, 2)
}

func TestReconciler_Decide_EmptyFacts(t *testing.T) {
	provider := &fakeLLM{}
	r := NewReconciler(provider)

	decisions, err := r.Decide(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, decisions)
	assert.Empty(t, provider.calls)
}

func TestReconciler_Resolve_SkipsUnknownEvents(t *testing.T) {
	r := NewReconciler(&fakeLLM{})
	decisions := r.resolve([]rawAction{
		{Event: "MERGE", Text: "x"},
		{Event: "NONE", Text: "kept"},
	}, nil)
	require.Len(t, decisions, 1)
	assert.Equal(t, EventNone, decisions[0].Event)
}
