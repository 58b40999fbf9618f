// Package terminal provides the interactive command-line front end: a
// prompt loop, approval confirmations and progress rendering.
package terminal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/agentive-dev/agentive/agent"
	"github.com/agentive-dev/agentive/message"
	"github.com/agentive-dev/agentive/session"
	"github.com/agentive-dev/agentive/tool"
)

// Mode decides how approval-gated tool calls are handled.
type Mode string

const (
	// ModeAuto approves every gated call without asking.
	ModeAuto Mode = "auto"
	// ModePrompt asks the user before each gated call.
	ModePrompt Mode = "prompt"
)

// Verbosity controls how much tool activity is printed.
type Verbosity string

const (
	VerbosityNone Verbosity = "none"
	VerbosityInfo Verbosity = "info"
	VerbosityAll  Verbosity = "all"
)

// Terminal drives an interactive session with one agent.
type Terminal struct {
	agent     *agent.Agent
	sess      *session.Session
	mode      Mode
	verbosity Verbosity
	events    <-chan agent.Event
	in        *bufio.Reader
	out       io.Writer
}

// New creates a terminal over the given agent and session. The events
// channel must be the one the agent emits on.
func New(a *agent.Agent, sess *session.Session, mode Mode, verbosity Verbosity, events <-chan agent.Event) *Terminal {
	return &Terminal{
		agent:     a,
		sess:      sess,
		mode:      mode,
		verbosity: verbosity,
		events:    events,
		in:        bufio.NewReader(os.Stdin),
		out:       os.Stdout,
	}
}

// Run starts the interactive loop. An initial prompt, when given, is
// processed before reading from stdin. /quit or EOF ends the session.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	go t.render()

	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	for {
		fmt.Fprint(t.out, "You: ")
		line, err := t.in.ReadString('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			return nil
		}
		if err := t.processTurn(ctx, input); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
		}
	}
}

func (t *Terminal) processTurn(ctx context.Context, input string) error {
	ec := t.sess.Context
	// The iteration budget applies per user turn, not across the
	// session's lifetime, so a long conversation never starves later
	// turns of model calls.
	ec.Iteration = 0
	ec.Approval = t.approvalHandler()
	ec.AddMessage(message.User(input))

	res, runErr := t.agent.RunContext(ctx, ec)
	if res != nil && res.Output != "" {
		fmt.Fprintf(t.out, "Agent: %s\n", res.Output)
	}
	if err := t.sess.Save(); err != nil {
		fmt.Fprintf(t.out, "Warning: failed to save session: %v\n", err)
	}
	return runErr
}

// approvalHandler maps the terminal mode onto the executor's approval
// contract. In prompt mode the user may approve, reject, or edit the
// call's arguments as JSON.
func (t *Terminal) approvalHandler() tool.ApprovalHandler {
	if t.mode == ModeAuto {
		return func(context.Context, message.ToolCall) (tool.Approval, error) {
			return tool.Approval{Decision: tool.Approve}, nil
		}
	}
	return func(_ context.Context, call message.ToolCall) (tool.Approval, error) {
		args, _ := json.Marshal(call.Args)
		fmt.Fprintf(t.out, "Agent wants to call tool `%s` with args: %s\n", call.Name, args)
		for {
			fmt.Fprint(t.out, "Allow this? (y/n/e[dit]): ")
			line, err := t.in.ReadString('\n')
			if err != nil {
				return tool.Approval{}, err
			}
			switch strings.TrimSpace(strings.ToLower(line)) {
			case "y", "yes":
				return tool.Approval{Decision: tool.Approve}, nil
			case "n", "no":
				return tool.Approval{Decision: tool.Reject, Reason: "the user rejected this tool call"}, nil
			case "e", "edit":
				fmt.Fprint(t.out, "Replacement args (JSON object): ")
				raw, err := t.in.ReadString('\n')
				if err != nil {
					return tool.Approval{}, err
				}
				var edited map[string]any
				if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &edited); err != nil {
					fmt.Fprintf(t.out, "Not a valid JSON object: %v\n", err)
					continue
				}
				return tool.Approval{Decision: tool.Edit, Args: edited}, nil
			}
		}
	}
}

// render prints progress events for the lifetime of the terminal.
func (t *Terminal) render() {
	for ev := range t.events {
		switch ev.Type {
		case agent.EventToolCall:
			if t.verbosity == VerbosityAll {
				fmt.Fprintf(t.out, "[tool] calling `%s` with args: %v\n", ev.ToolCall.Name, ev.ToolCall.Args)
			} else if t.verbosity == VerbosityInfo {
				fmt.Fprintf(t.out, "[tool] calling `%s`\n", ev.ToolCall.Name)
			}
		case agent.EventToolResult:
			if t.verbosity == VerbosityAll && ev.Message != nil {
				fmt.Fprintf(t.out, "[tool] `%s` output: %s\n", ev.Message.ToolName, ev.Message.Content)
			}
		case agent.EventRunFailed:
			if ev.Err != nil && t.verbosity != VerbosityNone {
				fmt.Fprintf(t.out, "[run] failed: %v\n", ev.Err)
			}
		}
	}
}
