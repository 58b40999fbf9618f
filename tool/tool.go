// Package tool defines the tools an agent can invoke, the registry that
// resolves them by name, and the executor that runs them with approval,
// retry, timeout and concurrency handling.
package tool

import (
	"context"
	"sync"
	"time"

	"github.com/agentive-dev/agentive/errors"
	"github.com/agentive-dev/agentive/message"
	"github.com/agentive-dev/agentive/provider"
)

// Handler implements a tool. It receives the decoded call arguments and
// returns the textual result plus any context updates the tool requests.
type Handler func(ctx context.Context, args map[string]any) (*Result, error)

// Result is what a tool handler produces.
type Result struct {
	// Content is the text handed back to the model.
	Content string
	// Deps are tool-requested context updates merged into the run's
	// extension state map.
	Deps map[string]any
}

// Tool describes one invocable action. Tools are immutable once
// registered; names are unique within a run.
type Tool struct {
	Name        string
	Description string
	// Parameters is the canonical JSON-schema object for the arguments.
	Parameters map[string]any
	Handler    Handler
	// RequiresApproval gates the call behind the approval handler.
	RequiresApproval bool
	// Retries is the exact number of re-attempts after a failed first
	// attempt.
	Retries int
	// Timeout bounds each attempt; zero means no per-call timeout.
	Timeout time.Duration
}

// Registry holds the tools available to a run, in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a duplicate name is an error.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("tool name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; ok {
		return errors.New("tool %q is already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Declarations renders the registry in the canonical form handed to
// provider translators.
func (r *Registry) Declarations() []provider.ToolDef {
	tools := r.List()
	if len(tools) == 0 {
		return nil
	}
	defs := make([]provider.ToolDef, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, provider.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return defs
}

// Decision is the outcome of an approval prompt.
type Decision int

const (
	// Approve runs the call as issued.
	Approve Decision = iota
	// Reject short-circuits to a synthetic rejection result without
	// invoking the handler.
	Reject
	// Edit runs the call with the replacement arguments.
	Edit
)

// Approval is an approval handler's answer for one tool call.
type Approval struct {
	Decision Decision
	// Args replaces the call arguments when Decision is Edit.
	Args map[string]any
	// Reason is surfaced to the model on rejection.
	Reason string
}

// ApprovalHandler decides whether an approval-gated call may run.
type ApprovalHandler func(ctx context.Context, call message.ToolCall) (Approval, error)
