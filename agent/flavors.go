package agent

import (
	"regexp"
	"strings"

	"github.com/agentive-dev/agentive/message"
	"github.com/agentive-dev/agentive/tool"
)

// Flavor is the behavior variant of an agent. The loop holds a Flavor
// value instead of branching on a type tag, so new variants plug in
// without touching the state machine.
type Flavor interface {
	// Init prepares the context before the first request.
	Init(ec *ExecutionContext) error
	// BuildOutboundMessages assembles the transcript sent upstream,
	// system prompt included.
	BuildOutboundMessages(ec *ExecutionContext) []message.Message
	// ProcessResponse may transform the model's reply before it is
	// appended.
	ProcessResponse(ec *ExecutionContext, m message.Message) (message.Message, error)
	// ExtractOutput produces the run's final answer from a settled
	// context.
	ExtractOutput(ec *ExecutionContext) string
	// Tools returns flavor-provided tools registered before the first
	// request.
	Tools() []tool.Tool
}

// ToolFlavor is the basic tool-calling agent.
type ToolFlavor struct {
	// Extra tools registered alongside the caller's registry.
	Extra []tool.Tool
}

func (f *ToolFlavor) Init(*ExecutionContext) error { return nil }

func (f *ToolFlavor) BuildOutboundMessages(ec *ExecutionContext) []message.Message {
	out := make([]message.Message, 0, len(ec.Messages)+1)
	if ec.SystemPrompt != "" {
		out = append(out, message.System(ec.SystemPrompt))
	}
	return append(out, ec.Messages...)
}

func (f *ToolFlavor) ProcessResponse(_ *ExecutionContext, m message.Message) (message.Message, error) {
	return m, nil
}

func (f *ToolFlavor) ExtractOutput(ec *ExecutionContext) string {
	for i := len(ec.Messages) - 1; i >= 0; i-- {
		if ec.Messages[i].Role == message.RoleAssistant {
			return ec.Messages[i].Text()
		}
	}
	return ""
}

func (f *ToolFlavor) Tools() []tool.Tool { return f.Extra }

const reasonDirective = "Before answering or calling a tool, reason step by step inside a <thinking> block. " +
	"The block is discarded before the answer is shown, so keep the final reply outside it."

var thinkingBlock = regexp.MustCompile(`(?s)<thinking>.*?</thinking>\s*`)

// ReasonFlavor is the structured-reasoning variant: it directs the model
// to think aloud in a tagged block and strips that block from the final
// output.
type ReasonFlavor struct {
	ToolFlavor
}

func (f *ReasonFlavor) BuildOutboundMessages(ec *ExecutionContext) []message.Message {
	out := make([]message.Message, 0, len(ec.Messages)+1)
	prompt := reasonDirective
	if ec.SystemPrompt != "" {
		prompt = ec.SystemPrompt + "\n\n" + reasonDirective
	}
	out = append(out, message.System(prompt))
	return append(out, ec.Messages...)
}

func (f *ReasonFlavor) ExtractOutput(ec *ExecutionContext) string {
	raw := f.ToolFlavor.ExtractOutput(ec)
	return strings.TrimSpace(thinkingBlock.ReplaceAllString(raw, ""))
}
