package agent

import "github.com/agentive-dev/agentive/message"

// EventType tags a progress event emitted by a run.
type EventType string

const (
	// EventAssistantMessage fires after each model response is appended.
	EventAssistantMessage EventType = "assistant_message"
	// EventTextDelta fires for each incremental text piece on streaming
	// runs.
	EventTextDelta EventType = "text_delta"
	// EventToolCall fires before a tool call is dispatched.
	EventToolCall EventType = "tool_call"
	// EventToolResult fires after a tool result is appended.
	EventToolResult EventType = "tool_result"
	// EventRunFinished fires once on terminal success.
	EventRunFinished EventType = "run_finished"
	// EventRunFailed fires once on any non-success terminal state.
	EventRunFailed EventType = "run_failed"
)

// Event is one typed progress notification. The consumer owns the
// channel it arrives on and chooses how to consume it; the loop blocks
// on an undrained channel, so size the buffer accordingly.
type Event struct {
	Type      EventType
	Iteration int
	Message   *message.Message
	ToolCall  *message.ToolCall
	Text      string
	Err       error
}
