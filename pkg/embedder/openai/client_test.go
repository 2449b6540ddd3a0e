package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(&Config{})
	assert.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(&Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, 1536, client.Dimensions())

	client, err = NewClient(&Config{APIKey: "sk-test", Dimensions: 256})
	require.NoError(t, err)
	assert.Equal(t, 256, client.Dimensions())
}
