package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentive-dev/agentive/message"
)

func TestBedrockBody(t *testing.T) {
	b := NewBedrockWithClient(nil, "anthropic.claude-test")
	payload, err := b.body(&Request{
		Messages: []message.Message{
			message.System("Be brief."),
			message.User("hi"),
		},
		MaxTokens: 512,
	})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(payload, &body))

	assert.Equal(t, bedrockAnthropicVersion, body["anthropic_version"])
	assert.Equal(t, "Be brief.", body["system"])
	assert.EqualValues(t, 512, body["max_tokens"])
	// Model and stream are carried by the SDK operation, never the body.
	assert.NotContains(t, body, "model")
	assert.NotContains(t, body, "stream")
}

func TestBedrockName(t *testing.T) {
	assert.Equal(t, "bedrock", NewBedrockWithClient(nil, "m").Name())
}
