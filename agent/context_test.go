package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentive-dev/agentive/message"
)

func interruptedContext() *ExecutionContext {
	ec := NewContext("worker", "Be helpful.", 10)
	ec.AddMessage(message.User("fetch both files"))
	turn := message.Assistant("")
	turn.ToolCalls = []message.ToolCall{
		{ID: "call_1", Name: "read_file", Args: map[string]any{"path": "a.txt"}},
		{ID: "call_2", Name: "read_file", Args: map[string]any{"path": "b.txt"}},
	}
	ec.AddMessage(turn)
	// Only the first call was answered before the interruption.
	ec.AddMessage(message.ToolResult("call_1", "read_file", "contents of a"))
	ec.Iteration = 1
	return ec
}

func TestAddMessageNeedsResponse(t *testing.T) {
	ec := NewContext("a", "", 5)
	ec.AddMessage(message.User("hi"))
	assert.True(t, ec.NeedsResponse)

	ec.AddMessage(message.Assistant("hello"))
	assert.False(t, ec.NeedsResponse, "settled assistant turn ends the exchange")

	turn := message.Assistant("")
	turn.ToolCalls = []message.ToolCall{{ID: "c1", Name: "x"}}
	ec.AddMessage(turn)
	assert.True(t, ec.NeedsResponse, "tool calls keep the exchange open")

	ec.AddMessage(message.ToolResult("c1", "x", "done"))
	assert.True(t, ec.NeedsResponse)
}

func TestPatchDanglingToolCalls(t *testing.T) {
	ec := interruptedContext()
	patched := ec.PatchDanglingToolCalls()
	assert.Equal(t, 1, patched)

	last := ec.Messages[len(ec.Messages)-1]
	assert.Equal(t, message.RoleTool, last.Role)
	assert.Equal(t, "call_2", last.ToolCallID)
	assert.Contains(t, last.Content, "interrupted")
	assert.True(t, ec.NeedsResponse)
}

func TestPatchDanglingToolCallsIdempotent(t *testing.T) {
	ec := interruptedContext()
	require.Equal(t, 1, ec.PatchDanglingToolCalls())
	before := len(ec.Messages)

	assert.Equal(t, 0, ec.PatchDanglingToolCalls())
	assert.Len(t, ec.Messages, before, "second patch must not add messages")
}

func TestPatchDanglingToolCallsClean(t *testing.T) {
	ec := NewContext("a", "", 5)
	ec.AddMessage(message.User("hi"))
	ec.AddMessage(message.Assistant("hello"))
	assert.Equal(t, 0, ec.PatchDanglingToolCalls())
}

func TestSerializeRoundTrip(t *testing.T) {
	ec := interruptedContext()
	ec.MergeDeps(map[string]any{"workdir": "/tmp/job"})
	ec.AddUsage(message.Usage{Requests: 1, InputTokens: 120, OutputTokens: 40, TotalTokens: 160})

	data, err := ec.Serialize()
	require.NoError(t, err)

	restored, err := DeserializeContext(data)
	require.NoError(t, err)
	assert.Equal(t, ec.AgentName, restored.AgentName)
	assert.Equal(t, ec.SystemPrompt, restored.SystemPrompt)
	assert.Equal(t, ec.Iteration, restored.Iteration)
	assert.Equal(t, ec.MaxIterations, restored.MaxIterations)
	assert.Equal(t, ec.NeedsResponse, restored.NeedsResponse)
	assert.Equal(t, ec.Usage, restored.Usage)
	assert.Equal(t, "/tmp/job", restored.Deps["workdir"])

	require.Len(t, restored.Messages, len(ec.Messages))
	for i := range ec.Messages {
		assert.Equal(t, ec.Messages[i].Role, restored.Messages[i].Role)
		assert.Equal(t, ec.Messages[i].Content, restored.Messages[i].Content)
		assert.Equal(t, ec.Messages[i].ToolCallID, restored.Messages[i].ToolCallID)
		assert.Len(t, restored.Messages[i].ToolCalls, len(ec.Messages[i].ToolCalls))
	}
}

func TestSerializeCarriesVersion(t *testing.T) {
	ec := NewContext("a", "", 5)
	data, err := ec.Serialize()
	require.NoError(t, err)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.EqualValues(t, 1, snap["version"])
}

func TestDeserializeUnknownVersion(t *testing.T) {
	_, err := DeserializeContext([]byte(`{"version": 99, "messages": []}`))
	var serErr *SerializationError
	require.ErrorAs(t, err, &serErr)
	assert.Equal(t, 99, serErr.Version)
}

func TestDeserializeCorrupt(t *testing.T) {
	_, err := DeserializeContext([]byte(`{"version": 1,`))
	var serErr *SerializationError
	require.ErrorAs(t, err, &serErr)
	require.Error(t, serErr.Err)
}

func TestDeserializedContextResumes(t *testing.T) {
	ec := interruptedContext()
	data, err := ec.Serialize()
	require.NoError(t, err)

	restored, err := DeserializeContext(data)
	require.NoError(t, err)
	restored.PatchDanglingToolCalls()
	assert.True(t, restored.NeedsResponse, "patched context is ready for another model call")
	assert.NotNil(t, restored.Deps, "deps map usable after restore")
}

func TestToolCallsTranscriptOrder(t *testing.T) {
	ec := interruptedContext()
	turn := message.Assistant("")
	turn.ToolCalls = []message.ToolCall{{ID: "call_3", Name: "write_file"}}
	ec.AddMessage(turn)

	calls := ec.ToolCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "call_2", calls[1].ID)
	assert.Equal(t, "call_3", calls[2].ID)
}

func TestMaxIterationsReached(t *testing.T) {
	ec := NewContext("a", "", 2)
	assert.False(t, ec.MaxIterationsReached())
	ec.IncrementIteration()
	assert.False(t, ec.MaxIterationsReached())
	ec.IncrementIteration()
	assert.True(t, ec.MaxIterationsReached())

	unbounded := NewContext("b", "", 0)
	unbounded.Iteration = 1000
	assert.False(t, unbounded.MaxIterationsReached())
}
