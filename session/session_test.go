package session

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentive-dev/agentive/agent"
	"github.com/agentive-dev/agentive/message"
)

func chtemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestSaveAndLoad(t *testing.T) {
	chtemp(t)

	ec := agent.NewContext("worker", "Be helpful.", 10)
	ec.AddMessage(message.User("hello"))
	ec.AddMessage(message.Assistant("hi there"))

	sess, err := New("trip", ec)
	require.NoError(t, err)
	require.NoError(t, sess.Save())
	assert.True(t, Exists("trip"))

	loaded, err := Load("trip")
	require.NoError(t, err)
	assert.Equal(t, "trip", loaded.Name)
	require.Len(t, loaded.Context.Messages, 2)
	assert.Equal(t, "hello", loaded.Context.Messages[0].Content)
	assert.Equal(t, "worker", loaded.Context.AgentName)
}

func TestLoadPatchesDanglingCalls(t *testing.T) {
	chtemp(t)

	ec := agent.NewContext("worker", "", 10)
	ec.AddMessage(message.User("fetch it"))
	turn := message.Assistant("")
	turn.ToolCalls = []message.ToolCall{{ID: "call_1", Name: "read_file"}}
	ec.AddMessage(turn)

	sess, err := New("interrupted", ec)
	require.NoError(t, err)
	require.NoError(t, sess.Save())

	loaded, err := Load("interrupted")
	require.NoError(t, err)
	last := loaded.Context.Messages[len(loaded.Context.Messages)-1]
	assert.Equal(t, message.RoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Contains(t, last.Content, "interrupted")
	assert.True(t, loaded.Context.NeedsResponse)
}

func TestLoadMissing(t *testing.T) {
	chtemp(t)
	_, err := Load("never-saved")
	assert.Error(t, err)
	assert.False(t, Exists("never-saved"))
}
