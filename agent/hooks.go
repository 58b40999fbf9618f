package agent

import (
	"context"

	"github.com/agentive-dev/agentive/tool"
)

// Hook is the extension contract for plugins: memory injection,
// summarization, sub-agent delegation and the like. Hooks run in the
// order they were installed, at fixed points in the loop, and receive
// everything explicitly; there is no ambient registration.
type Hook interface {
	// PrepareContext may mutate the context before the first request.
	PrepareContext(ctx context.Context, ec *ExecutionContext) error
	// ExtraTools returns tools to register before the first request.
	ExtraTools(ctx context.Context) []tool.Tool
	// SystemPrompt returns an additional system prompt contribution,
	// or "".
	SystemPrompt(ctx context.Context) string
	// OnModelError is consulted after a failed model request; returning
	// true asks the loop to retry the request once.
	OnModelError(ctx context.Context, ec *ExecutionContext, err error) bool
}

// NopHook implements Hook with no-ops, for embedding.
type NopHook struct{}

func (NopHook) PrepareContext(context.Context, *ExecutionContext) error { return nil }

func (NopHook) ExtraTools(context.Context) []tool.Tool { return nil }

func (NopHook) SystemPrompt(context.Context) string { return "" }

func (NopHook) OnModelError(context.Context, *ExecutionContext, error) bool { return false }
