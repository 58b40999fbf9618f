package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentive-dev/agentive/message"
	"github.com/agentive-dev/agentive/tool"
)

// CancelCheck is polled by the loop before new work starts. Returning
// true stops the run cooperatively; it does not hard-kill an in-flight
// upstream request.
type CancelCheck func() bool

// ExecutionContext is the full mutable state of one agent run. It is
// owned by the loop; nothing mutates it concurrently within a run. The
// Deps map is shared by reference with collaborators — a caller sharing
// it across concurrent runs owns the synchronization.
type ExecutionContext struct {
	AgentName     string
	SystemPrompt  string
	Messages      []message.Message
	Usage         message.Usage
	Deps          map[string]any
	Iteration     int
	MaxIterations int
	NeedsResponse bool
	StartedAt     time.Time

	// CancelCheck and Approval are live callbacks; they are never
	// serialized.
	CancelCheck CancelCheck
	Approval    tool.ApprovalHandler
}

// NewContext creates the state for a fresh run.
func NewContext(agentName, systemPrompt string, maxIterations int) *ExecutionContext {
	return &ExecutionContext{
		AgentName:     agentName,
		SystemPrompt:  systemPrompt,
		Deps:          map[string]any{},
		MaxIterations: maxIterations,
		StartedAt:     time.Now().UTC(),
	}
}

// AddMessage appends a turn and recomputes NeedsResponse: an assistant
// turn without tool calls settles the conversation, anything else leaves
// it awaiting a model response.
func (ec *ExecutionContext) AddMessage(m message.Message) {
	ec.Messages = append(ec.Messages, m)
	ec.NeedsResponse = !(m.Role == message.RoleAssistant && !m.HasToolCalls())
}

// AddToolCall appends a call to the most recent assistant turn. Used
// when assembling a turn incrementally from a stream.
func (ec *ExecutionContext) AddToolCall(tc message.ToolCall) {
	for i := len(ec.Messages) - 1; i >= 0; i-- {
		if ec.Messages[i].Role == message.RoleAssistant {
			ec.Messages[i].ToolCalls = append(ec.Messages[i].ToolCalls, tc)
			ec.NeedsResponse = true
			return
		}
	}
}

// AddUsage merges usage counters additively.
func (ec *ExecutionContext) AddUsage(u message.Usage) {
	ec.Usage.Add(u)
}

// MergeDeps merges tool- or hook-provided state into the extension map.
func (ec *ExecutionContext) MergeDeps(deps map[string]any) {
	if len(deps) == 0 {
		return
	}
	if ec.Deps == nil {
		ec.Deps = map[string]any{}
	}
	for k, v := range deps {
		ec.Deps[k] = v
	}
}

// IncrementIteration advances the iteration counter.
func (ec *ExecutionContext) IncrementIteration() {
	ec.Iteration++
}

// SetNeedsResponse overrides the computed needs-response flag.
func (ec *ExecutionContext) SetNeedsResponse(v bool) {
	ec.NeedsResponse = v
}

// MaxIterationsReached reports whether another model call is allowed.
func (ec *ExecutionContext) MaxIterationsReached() bool {
	return ec.MaxIterations > 0 && ec.Iteration >= ec.MaxIterations
}

// ToolCalls returns every tool call issued so far, in transcript order.
func (ec *ExecutionContext) ToolCalls() []message.ToolCall {
	var calls []message.ToolCall
	for _, m := range ec.Messages {
		calls = append(calls, m.ToolCalls...)
	}
	return calls
}

// PatchDanglingToolCalls synthesizes an "interrupted" result for every
// tool call that has no matching tool-role message, restoring the
// transcript invariant after an interrupted run. It returns how many
// results were synthesized; running it again is a no-op.
func (ec *ExecutionContext) PatchDanglingToolCalls() int {
	answered := make(map[string]bool)
	for _, m := range ec.Messages {
		if m.Role == message.RoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = true
		}
	}
	patched := 0
	for _, m := range ec.Messages {
		if m.Role != message.RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if answered[tc.ID] {
				continue
			}
			answered[tc.ID] = true
			ec.Messages = append(ec.Messages, message.ToolResult(tc.ID, tc.Name,
				fmt.Sprintf("Tool %q was interrupted before completing. Retry the call if its result is still needed.", tc.Name)))
			patched++
		}
	}
	if patched > 0 {
		ec.NeedsResponse = true
	}
	return patched
}

const snapshotVersion = 1

// contextSnapshot is the persisted form of a run. Callbacks, handles and
// live connections are deliberately absent.
type contextSnapshot struct {
	Version       int                `json:"version"`
	AgentName     string             `json:"agent_name,omitempty"`
	SystemPrompt  string             `json:"system_prompt,omitempty"`
	Messages      []message.Message  `json:"messages"`
	ToolCalls     []message.ToolCall `json:"tool_calls,omitempty"`
	Deps          map[string]any     `json:"deps,omitempty"`
	Usage         message.Usage      `json:"usage"`
	NeedsResponse bool               `json:"needs_response"`
	Iteration     int                `json:"iteration"`
	MaxIterations int                `json:"max_iterations"`
	StartedAt     time.Time          `json:"started_at"`
}

// Serialize renders the context as a versioned JSON snapshot.
func (ec *ExecutionContext) Serialize() ([]byte, error) {
	snap := contextSnapshot{
		Version:       snapshotVersion,
		AgentName:     ec.AgentName,
		SystemPrompt:  ec.SystemPrompt,
		Messages:      ec.Messages,
		ToolCalls:     ec.ToolCalls(),
		Deps:          ec.Deps,
		Usage:         ec.Usage,
		NeedsResponse: ec.NeedsResponse,
		Iteration:     ec.Iteration,
		MaxIterations: ec.MaxIterations,
		StartedAt:     ec.StartedAt,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, &SerializationError{Version: snapshotVersion, Err: err}
	}
	return data, nil
}

// DeserializeContext restores a context from a snapshot. Unknown
// versions are rejected explicitly, never migrated by guesswork.
func DeserializeContext(data []byte) (*ExecutionContext, error) {
	var snap contextSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &SerializationError{Err: err}
	}
	if snap.Version != snapshotVersion {
		return nil, &SerializationError{Version: snap.Version}
	}
	deps := snap.Deps
	if deps == nil {
		deps = map[string]any{}
	}
	return &ExecutionContext{
		AgentName:     snap.AgentName,
		SystemPrompt:  snap.SystemPrompt,
		Messages:      snap.Messages,
		Deps:          deps,
		Usage:         snap.Usage,
		Iteration:     snap.Iteration,
		MaxIterations: snap.MaxIterations,
		NeedsResponse: snap.NeedsResponse,
		StartedAt:     snap.StartedAt,
	}, nil
}
