package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentive-dev/agentive/message"
)

func TestSplitSystem(t *testing.T) {
	partsOnly := message.Message{
		Role:  message.RoleSystem,
		Parts: []message.Part{{Type: message.PartText, Text: "Be brief."}},
	}
	msgs := []message.Message{
		message.System("You are helpful."),
		partsOnly,
		message.User("hi"),
	}

	system, rest := splitSystem(msgs)
	assert.Equal(t, "You are helpful.\n\nBe brief.", system)
	require.Len(t, rest, 1)
	assert.Equal(t, message.RoleUser, rest[0].Role)
}

func TestSplitSystemNoSystemTurns(t *testing.T) {
	msgs := []message.Message{message.User("hi")}
	system, rest := splitSystem(msgs)
	assert.Empty(t, system)
	assert.Len(t, rest, 1)
}
