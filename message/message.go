// Package message defines the conversation turn model shared by the agent
// loop, the tool executor and every provider translator.
package message

import "time"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies the kind of a structured content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one element of a structured content list. Image parts carry
// either a URL or inline base64 data with its media type.
type Part struct {
	Type      PartType `json:"type"`
	Text      string   `json:"text,omitempty"`
	MediaType string   `json:"media_type,omitempty"`
	Data      string   `json:"data,omitempty"`
	URL       string   `json:"url,omitempty"`
}

// ToolCall is a model-issued request to invoke a named tool. It is owned
// by the assistant message that issued it; the matching tool message
// references it by id.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Usage accumulates per-run counters. Merged additively every iteration.
type Usage struct {
	Requests     int `json:"requests"`
	ToolCalls    int `json:"tool_calls"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add merges another Usage into this one.
func (u *Usage) Add(o Usage) {
	u.Requests += o.Requests
	u.ToolCalls += o.ToolCalls
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.TotalTokens += o.TotalTokens
}

// Message is one immutable conversation turn. Content holds plain text;
// Parts, when non-empty, holds the structured form instead. A tool-role
// message carries the ToolCallID (and tool name) of the assistant tool
// call it answers.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Parts      []Part     `json:"parts,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`

	Model     string    `json:"model,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// System builds a system message.
func System(text string) Message {
	return Message{Role: RoleSystem, Content: text, Timestamp: time.Now().UTC()}
}

// User builds a plain-text user message.
func User(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: time.Now().UTC()}
}

// UserParts builds a structured user message.
func UserParts(parts ...Part) Message {
	return Message{Role: RoleUser, Parts: parts, Timestamp: time.Now().UTC()}
}

// Assistant builds a plain-text assistant message.
func Assistant(text string) Message {
	return Message{Role: RoleAssistant, Content: text, Timestamp: time.Now().UTC()}
}

// ToolResult builds a tool-role message answering the given tool call.
func ToolResult(callID, toolName, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		ToolName:   toolName,
		Timestamp:  time.Now().UTC(),
	}
}

// HasToolCalls reports whether this turn requests tool execution.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Text returns the textual content of the message. Structured parts are
// flattened; non-text parts contribute a bracketed placeholder so nothing
// disappears silently.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if out != "" {
			out += "\n"
		}
		out += p.Describe()
	}
	return out
}

// Describe renders a part as text. Non-text parts downgrade to a
// deterministic textual description for providers that cannot carry them.
func (p Part) Describe() string {
	switch p.Type {
	case PartText:
		return p.Text
	case PartImage:
		if p.URL != "" {
			return "[image: " + p.URL + "]"
		}
		return "[image: " + p.MediaType + " data]"
	default:
		return "[" + string(p.Type) + "]"
	}
}
