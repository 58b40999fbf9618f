package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/agentive-dev/agentive/log"
	"github.com/agentive-dev/agentive/message"
	"github.com/agentive-dev/agentive/provider"
	"github.com/agentive-dev/agentive/tool"
)

// DefaultMaxIterations bounds a run when no explicit limit is
// configured.
const DefaultMaxIterations = 10

// Agent drives the request/execute loop for one configuration: a
// provider client, a flavor, a tool registry and any hooks. One Agent
// may serve many runs; per-run state lives in the ExecutionContext.
type Agent struct {
	name         string
	client       provider.Client
	flavor       Flavor
	registry     *tool.Registry
	executor     *tool.Executor
	hooks        []Hook
	maxIter      int
	maxTokens    int
	temperature  *float64
	systemPrompt string
	events       chan<- Event
	logger       log.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithFlavor selects the behavior variant. The default is a plain
// ToolFlavor.
func WithFlavor(f Flavor) AgentOption {
	return func(a *Agent) { a.flavor = f }
}

// WithRegistry supplies the tool registry. Without one the agent runs
// tool-less.
func WithRegistry(r *tool.Registry) AgentOption {
	return func(a *Agent) { a.registry = r }
}

// WithExecutor replaces the default executor built over the registry.
func WithExecutor(e *tool.Executor) AgentOption {
	return func(a *Agent) { a.executor = e }
}

// WithHooks installs hooks, run in the given order.
func WithHooks(hooks ...Hook) AgentOption {
	return func(a *Agent) { a.hooks = append(a.hooks, hooks...) }
}

// WithMaxIterations bounds how many model calls one run may make.
// Zero or negative keeps the default.
func WithMaxIterations(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.maxIter = n
		}
	}
}

// WithMaxTokens sets the per-request output token limit.
func WithMaxTokens(n int) AgentOption {
	return func(a *Agent) { a.maxTokens = n }
}

// WithTemperature sets the sampling temperature for every request.
func WithTemperature(t float64) AgentOption {
	return func(a *Agent) { a.temperature = &t }
}

// WithSystemPrompt sets the base system prompt for fresh runs.
func WithSystemPrompt(p string) AgentOption {
	return func(a *Agent) { a.systemPrompt = p }
}

// WithEvents installs a progress channel. The loop blocks sending to
// it, so the consumer must keep draining until the run returns.
func WithEvents(ch chan<- Event) AgentOption {
	return func(a *Agent) { a.events = ch }
}

// WithAgentLogger replaces the agent's logger.
func WithAgentLogger(l log.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// New creates an agent around a provider client.
func New(name string, client provider.Client, opts ...AgentOption) *Agent {
	a := &Agent{
		name:    name,
		client:  client,
		flavor:  &ToolFlavor{},
		maxIter: DefaultMaxIterations,
		logger:  log.Default,
	}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = tool.NewRegistry()
	}
	if a.executor == nil {
		a.executor = tool.NewExecutor(a.registry, tool.WithLogger(a.logger))
	}
	return a
}

// Result is the outcome of a run. Context is always populated, even on
// failure, so callers can persist and later resume the transcript.
type Result struct {
	Output  string
	Context *ExecutionContext
}

// Run starts a fresh run from a single user prompt.
func (a *Agent) Run(ctx context.Context, prompt string) (*Result, error) {
	ec := NewContext(a.name, a.systemPrompt, a.maxIter)
	ec.AddMessage(message.User(prompt))
	return a.RunContext(ctx, ec)
}

// RunContext drives the loop over an existing context until a terminal
// state: the model settles without tool calls (success), the iteration
// limit is hit, cancellation is observed, or a model request fails.
// The returned Result is non-nil in every case and carries the context
// as it stood when the run ended.
func (a *Agent) RunContext(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	if err := a.prepare(ctx, ec); err != nil {
		return a.fail(ec, err)
	}

	for {
		if err := a.checkCancel(ctx, ec); err != nil {
			return a.fail(ec, err)
		}
		if !ec.NeedsResponse {
			return a.success(ec)
		}
		if ec.MaxIterationsReached() {
			return a.fail(ec, &MaxIterationsError{Limit: ec.MaxIterations})
		}
		ec.IncrementIteration()

		resp, err := a.request(ctx, ec)
		if err != nil {
			return a.fail(ec, err)
		}
		if err := a.absorb(ctx, ec, resp); err != nil {
			return a.fail(ec, err)
		}
	}
}

// RunStream is RunContext over the provider's streaming surface: text
// deltas are forwarded as events as they arrive, and the assembled
// message then flows through the same absorb path as the blocking call.
func (a *Agent) RunStream(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	if err := a.prepare(ctx, ec); err != nil {
		return a.fail(ec, err)
	}

	for {
		if err := a.checkCancel(ctx, ec); err != nil {
			return a.fail(ec, err)
		}
		if !ec.NeedsResponse {
			return a.success(ec)
		}
		if ec.MaxIterationsReached() {
			return a.fail(ec, &MaxIterationsError{Limit: ec.MaxIterations})
		}
		ec.IncrementIteration()

		resp, err := a.requestStream(ctx, ec)
		if err != nil {
			return a.fail(ec, err)
		}
		if err := a.absorb(ctx, ec, resp); err != nil {
			return a.fail(ec, err)
		}
	}
}

// prepare runs once per run: flavor init, hook contributions, and
// registration of flavor- and hook-provided tools. On a resumed
// context (Iteration > 0) prompt contributions are skipped so they are
// not applied twice.
func (a *Agent) prepare(ctx context.Context, ec *ExecutionContext) error {
	if err := a.flavor.Init(ec); err != nil {
		return err
	}
	if ec.Iteration == 0 {
		for _, h := range a.hooks {
			if err := h.PrepareContext(ctx, ec); err != nil {
				return err
			}
			if extra := h.SystemPrompt(ctx); extra != "" {
				if ec.SystemPrompt != "" {
					ec.SystemPrompt += "\n\n"
				}
				ec.SystemPrompt += extra
			}
		}
	}

	var extras []tool.Tool
	extras = append(extras, a.flavor.Tools()...)
	for _, h := range a.hooks {
		extras = append(extras, h.ExtraTools(ctx)...)
	}
	for _, t := range extras {
		if _, ok := a.registry.Get(t.Name); ok {
			continue
		}
		if err := a.registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) checkCancel(ctx context.Context, ec *ExecutionContext) error {
	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}
	if ec.CancelCheck != nil && ec.CancelCheck() {
		return ErrCancelled
	}
	return nil
}

func (a *Agent) buildRequest(ec *ExecutionContext) *provider.Request {
	return &provider.Request{
		Messages:    a.flavor.BuildOutboundMessages(ec),
		Tools:       a.registry.Declarations(),
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}
}

// request performs one blocking model call. On failure the hooks are
// consulted once; a hook returning true buys a single immediate retry.
// Every wire attempt counts against Usage.Requests, retries included.
func (a *Agent) request(ctx context.Context, ec *ExecutionContext) (*message.Message, error) {
	req := a.buildRequest(ec)
	ec.AddUsage(message.Usage{Requests: 1})
	resp, err := a.client.Chat(ctx, req)
	if err != nil && a.wantRetry(ctx, ec, err) {
		ec.AddUsage(message.Usage{Requests: 1})
		resp, err = a.client.Chat(ctx, req)
	}
	if err != nil {
		return nil, &ModelRequestError{Provider: a.client.Name(), Err: err}
	}
	return resp, nil
}

func (a *Agent) requestStream(ctx context.Context, ec *ExecutionContext) (*message.Message, error) {
	ec.AddUsage(message.Usage{Requests: 1})
	resp, err := a.consumeStream(ctx, ec)
	if err != nil && a.wantRetry(ctx, ec, err) {
		ec.AddUsage(message.Usage{Requests: 1})
		resp, err = a.consumeStream(ctx, ec)
	}
	if err != nil {
		return nil, &ModelRequestError{Provider: a.client.Name(), Err: err}
	}
	return resp, nil
}

// consumeStream drains one streaming call, forwarding text deltas as
// events. The final message comes from the terminal done event; a
// stream that errors without one fails the request.
func (a *Agent) consumeStream(ctx context.Context, ec *ExecutionContext) (*message.Message, error) {
	stream, err := a.client.ChatStream(ctx, a.buildRequest(ec))
	if err != nil {
		return nil, err
	}
	var final *message.Message
	var lastErr error
	for ev := range stream {
		switch ev.Type {
		case provider.StreamTextDelta:
			a.emit(Event{Type: EventTextDelta, Iteration: ec.Iteration, Text: ev.Text})
		case provider.StreamDone:
			final = ev.Message
		case provider.StreamError:
			lastErr = ev.Err
		}
	}
	if final == nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("stream ended without a final message")
	}
	return final, nil
}

func (a *Agent) wantRetry(ctx context.Context, ec *ExecutionContext, err error) bool {
	for _, h := range a.hooks {
		if h.OnModelError(ctx, ec, err) {
			a.logger.Warnf("retrying model request after error: %v", err)
			return true
		}
	}
	return false
}

// absorb appends the model response to the context and, when it carries
// tool calls, executes them and appends the results in call-issued
// order.
func (a *Agent) absorb(ctx context.Context, ec *ExecutionContext, resp *message.Message) error {
	if resp.Usage != nil {
		ec.AddUsage(*resp.Usage)
	}

	processed, err := a.flavor.ProcessResponse(ec, *resp)
	if err != nil {
		return err
	}
	ec.AddMessage(processed)
	a.emit(Event{Type: EventAssistantMessage, Iteration: ec.Iteration, Message: &processed})

	if !processed.HasToolCalls() {
		return nil
	}

	ec.AddUsage(message.Usage{ToolCalls: len(processed.ToolCalls)})
	for i := range processed.ToolCalls {
		a.emit(Event{Type: EventToolCall, Iteration: ec.Iteration, ToolCall: &processed.ToolCalls[i]})
	}
	for _, exec := range a.executor.ExecuteAll(ctx, processed.ToolCalls, ec.Approval) {
		ec.AddMessage(exec.Message)
		ec.MergeDeps(exec.Deps)
		a.emit(Event{Type: EventToolResult, Iteration: ec.Iteration, Message: &exec.Message, Err: exec.Err})
	}
	return nil
}

func (a *Agent) success(ec *ExecutionContext) (*Result, error) {
	out := a.flavor.ExtractOutput(ec)
	a.emit(Event{Type: EventRunFinished, Iteration: ec.Iteration, Text: out})
	a.logger.Infof("run finished after %d iteration(s), %s", ec.Iteration, time.Since(ec.StartedAt).Round(time.Millisecond))
	return &Result{Output: out, Context: ec}, nil
}

func (a *Agent) fail(ec *ExecutionContext, err error) (*Result, error) {
	a.emit(Event{Type: EventRunFailed, Iteration: ec.Iteration, Err: err})
	a.logger.Warnf("run failed after %d iteration(s): %v", ec.Iteration, err)
	return &Result{Context: ec}, err
}

func (a *Agent) emit(ev Event) {
	if a.events == nil {
		return
	}
	a.events <- ev
}
