package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/agentive-dev/agentive/log"
	"github.com/agentive-dev/agentive/message"
)

// Execution is the outcome of one tool call. Failures never escape the
// executor: the Message always holds a tool-role result the model can
// read, and Err records the underlying failure for observers.
type Execution struct {
	Call    message.ToolCall
	Message message.Message
	Deps    map[string]any
	Err     error
}

const defaultConcurrency = 4

// Executor resolves and runs tool calls against a registry.
type Executor struct {
	registry      *Registry
	approval      ApprovalHandler
	concurrency   int
	retryInterval time.Duration
	logger        log.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithApproval installs the handler consulted for approval-gated tools.
// Without one, gated tools are rejected.
func WithApproval(h ApprovalHandler) ExecutorOption {
	return func(e *Executor) { e.approval = h }
}

// WithConcurrency bounds how many calls of one assistant turn run in
// parallel.
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithRetryInterval sets the initial delay between retry attempts. The
// retry count is contractual; the delay is policy.
func WithRetryInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.retryInterval = d }
}

// WithLogger replaces the executor's logger.
func WithLogger(l log.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:      registry,
		concurrency:   defaultConcurrency,
		retryInterval: 100 * time.Millisecond,
		logger:        log.Default,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs one tool call. An unknown tool, a rejection, or a handler
// that keeps failing all produce a synthetic tool-result message so the
// model can recover conversationally. A non-nil approval handler
// overrides the executor-level one for this call, letting each run carry
// its own approval surface.
func (e *Executor) Execute(ctx context.Context, call message.ToolCall, approval ApprovalHandler) Execution {
	t, ok := e.registry.Get(call.Name)
	if !ok {
		e.logger.Warnf("tool %q not found", call.Name)
		return Execution{
			Call:    call,
			Message: message.ToolResult(call.ID, call.Name, fmt.Sprintf("Tool %q is not available. Check the tool name and try again.", call.Name)),
		}
	}

	args := call.Args
	if t.RequiresApproval {
		approval, err := e.resolveApproval(ctx, call, approval)
		if err != nil {
			return Execution{
				Call:    call,
				Message: message.ToolResult(call.ID, call.Name, fmt.Sprintf("Tool %q could not be approved: %v", call.Name, err)),
				Err:     err,
			}
		}
		switch approval.Decision {
		case Reject:
			reason := approval.Reason
			if reason == "" {
				reason = "the user rejected this tool call"
			}
			return Execution{
				Call:    call,
				Message: message.ToolResult(call.ID, call.Name, fmt.Sprintf("Tool %q was not executed: %s.", call.Name, reason)),
			}
		case Edit:
			if approval.Args != nil {
				args = approval.Args
			}
		}
	}

	res, err := e.run(ctx, t, args)
	if err != nil {
		e.logger.Warnf("tool %q failed after %d attempts: %v", call.Name, t.Retries+1, err)
		return Execution{
			Call:    call,
			Message: message.ToolResult(call.ID, call.Name, fmt.Sprintf("Tool %q failed: %v. You may retry or proceed without it.", call.Name, err)),
			Err:     err,
		}
	}
	return Execution{
		Call:    call,
		Message: message.ToolResult(call.ID, call.Name, res.Content),
		Deps:    res.Deps,
	}
}

func (e *Executor) resolveApproval(ctx context.Context, call message.ToolCall, h ApprovalHandler) (Approval, error) {
	if h == nil {
		h = e.approval
	}
	if h == nil {
		return Approval{Decision: Reject, Reason: "no approval handler is configured"}, nil
	}
	return h(ctx, call)
}

// run invokes the handler with the tool's exact retry budget. A timed-out
// attempt is indistinguishable from any other handler failure.
func (e *Executor) run(ctx context.Context, t Tool, args map[string]any) (*Result, error) {
	attempt := func() (*Result, error) {
		runCtx := ctx
		cancel := func() {}
		if t.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		}
		defer cancel()
		res, err := t.Handler(runCtx, args)
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = &Result{}
		}
		return res, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInterval
	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(t.Retries)+1),
	)
}

// ExecuteAll runs every call of one assistant turn, in parallel up to
// the concurrency limit. Results come back in call-issued order
// regardless of completion order, so transcripts stay reproducible.
func (e *Executor) ExecuteAll(ctx context.Context, calls []message.ToolCall, approval ApprovalHandler) []Execution {
	if len(calls) == 0 {
		return nil
	}
	results := make([]Execution, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.Execute(gctx, call, approval)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
