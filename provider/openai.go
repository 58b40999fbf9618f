package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/agentive-dev/agentive/errors"
	"github.com/agentive-dev/agentive/message"
	"github.com/agentive-dev/agentive/sse"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	chatCompletionsPath  = "/chat/completions"
)

// OpenAI translates to and from the OpenAI chat-completions dialect,
// including every OpenAI-compatible endpoint reachable via
// OPENAI_BASE_URL.
type OpenAI struct {
	core
	model string
}

// NewOpenAI creates an OpenAI translator. It reads OPENAI_API_KEY and,
// optionally, OPENAI_BASE_URL from the environment unless overridden by
// options.
func NewOpenAI(model string, opts ...Option) (*OpenAI, error) {
	c := newCore(defaultOpenAIBaseURL)
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
	for _, o := range opts {
		o(&c)
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	return &OpenAI{core: c, model: model}, nil
}

// Name returns the provider name.
func (o *OpenAI) Name() string { return "openai" }

// Wire shapes for the chat-completions dialect.

type oaRequest struct {
	Model         string           `json:"model"`
	Messages      []oaMessage      `json:"messages"`
	Tools         []oaTool         `json:"tools,omitempty"`
	MaxTokens     int              `json:"max_tokens,omitempty"`
	Temperature   *float64         `json:"temperature,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
	StreamOptions *oaStreamOptions `json:"stream_options,omitempty"`
}

type oaStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaMessage struct {
	Role       string       `json:"role"`
	Content    any          `json:"content,omitempty"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaPart struct {
	Type     string      `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL *oaImageURL `json:"image_url,omitempty"`
}

type oaImageURL struct {
	URL string `json:"url"`
}

type oaToolCall struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Function oaFunction `json:"function"`
}

type oaFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaTool struct {
	Type     string        `json:"type"`
	Function oaFunctionDef `json:"function"`
}

type oaFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaUsage `json:"usage"`
	Error *oaError `json:"error"`
}

type oaError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// encodeOpenAIRequest renders the outbound request body. System turns
// collapse into a single leading system message; the dialect has no
// top-level system field.
func encodeOpenAIRequest(model string, req *Request) oaRequest {
	system, rest := splitSystem(req.Messages)
	msgs := make([]oaMessage, 0, len(rest)+1)
	if system != "" {
		msgs = append(msgs, oaMessage{Role: "system", Content: system})
	}
	for _, m := range rest {
		msgs = append(msgs, encodeOpenAIMessage(m))
	}
	return oaRequest{
		Model:       model,
		Messages:    msgs,
		Tools:       encodeOpenAITools(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func encodeOpenAIMessage(m message.Message) oaMessage {
	switch m.Role {
	case message.RoleAssistant:
		out := oaMessage{Role: "assistant"}
		if m.Content != "" {
			out.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Args)
			if err != nil {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, oaToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: oaFunction{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		return out
	case message.RoleTool:
		return oaMessage{Role: "tool", Content: m.Content, ToolCallID: m.ToolCallID}
	default:
		if len(m.Parts) > 0 {
			parts := make([]oaPart, 0, len(m.Parts))
			for _, p := range m.Parts {
				parts = append(parts, encodeOpenAIPart(p))
			}
			return oaMessage{Role: "user", Content: parts}
		}
		return oaMessage{Role: "user", Content: m.Content}
	}
}

func encodeOpenAIPart(p message.Part) oaPart {
	switch p.Type {
	case message.PartImage:
		url := p.URL
		if url == "" {
			url = fmt.Sprintf("data:%s;base64,%s", p.MediaType, p.Data)
		}
		return oaPart{Type: "image_url", ImageURL: &oaImageURL{URL: url}}
	default:
		return oaPart{Type: "text", Text: p.Text}
	}
}

func encodeOpenAITools(tools []ToolDef) []oaTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]oaTool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, oaTool{
			Type: "function",
			Function: oaFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// decodeOpenAIMessage rebuilds an assistant message from the wire shape.
// Arguments arrive as a JSON string; ids missing from the wire are
// synthesized so correlation always succeeds.
func decodeOpenAIMessage(wire oaMessage) message.Message {
	m := message.Message{Role: message.RoleAssistant, Content: oaContentString(wire.Content)}
	for _, tc := range wire.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": tc.Function.Arguments}
			}
		}
		id := tc.ID
		if id == "" {
			id = newCallID()
		}
		m.ToolCalls = append(m.ToolCalls, message.ToolCall{ID: id, Name: tc.Function.Name, Args: args})
	}
	return m
}

// oaContentString flattens the content union. Decoded JSON yields a
// string, nil, or a list of part objects.
func oaContentString(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case []any:
		var b strings.Builder
		for _, item := range c {
			part, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := part["text"].(string); ok {
				b.WriteString(text)
			}
		}
		return b.String()
	default:
		return ""
	}
}

func decodeOpenAIUsage(u *oaUsage) *message.Usage {
	if u == nil {
		return nil
	}
	return &message.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}

// Chat issues one non-streaming model call.
func (o *OpenAI) Chat(ctx context.Context, req *Request) (*message.Message, error) {
	body := encodeOpenAIRequest(o.model, req)
	raw, err := o.post(ctx, body)
	if err != nil {
		return nil, err
	}
	var resp oaResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to parse OpenAI response")
	}
	if len(resp.Choices) == 0 {
		m := message.Assistant("")
		return &m, nil
	}
	m := decodeOpenAIMessage(resp.Choices[0].Message)
	m.Model = resp.Model
	m.Usage = decodeOpenAIUsage(resp.Usage)
	return &m, nil
}

func (o *OpenAI) post(ctx context.Context, body oaRequest) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal OpenAI request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+chatCompletionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create OpenAI request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.httpc.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send request to OpenAI")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read OpenAI response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, openAIError(resp.StatusCode, raw)
	}
	return raw, nil
}

func openAIError(status int, raw []byte) error {
	var envelope oaResponse
	_ = json.Unmarshal(raw, &envelope)
	apiErr := &APIError{Provider: "openai", StatusCode: status, Message: string(raw)}
	if envelope.Error != nil {
		apiErr.Kind = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

// Streaming chunk shapes. Tool-call fragments are keyed by index and
// accumulate the id, name and argument text across deltas.

type oaStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string             `json:"content"`
			ToolCalls []oaStreamToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaUsage `json:"usage"`
}

type oaStreamToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaStreamState struct {
	text  strings.Builder
	calls map[int]*oaPartialCall
	model string
	usage *message.Usage
}

type oaPartialCall struct {
	id   string
	name string
	args strings.Builder
}

func newOAStreamState() *oaStreamState {
	return &oaStreamState{calls: map[int]*oaPartialCall{}}
}

// apply folds one chunk into the state and returns the text delta it
// carried, if any.
func (s *oaStreamState) apply(chunk oaStreamChunk) string {
	if chunk.Model != "" {
		s.model = chunk.Model
	}
	if chunk.Usage != nil {
		s.usage = decodeOpenAIUsage(chunk.Usage)
	}
	if len(chunk.Choices) == 0 {
		return ""
	}
	delta := chunk.Choices[0].Delta
	for _, frag := range delta.ToolCalls {
		pc, ok := s.calls[frag.Index]
		if !ok {
			pc = &oaPartialCall{}
			s.calls[frag.Index] = pc
		}
		if frag.ID != "" {
			pc.id = frag.ID
		}
		if frag.Function.Name != "" {
			pc.name = frag.Function.Name
		}
		pc.args.WriteString(frag.Function.Arguments)
	}
	if delta.Content != "" {
		s.text.WriteString(delta.Content)
	}
	return delta.Content
}

// finish assembles the final assistant message from accumulated state.
func (s *oaStreamState) finish() *message.Message {
	m := message.Assistant(s.text.String())
	m.Model = s.model
	m.Usage = s.usage
	indices := make([]int, 0, len(s.calls))
	for i := range s.calls {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		pc := s.calls[i]
		var args map[string]any
		if raw := pc.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args = map[string]any{"_raw": raw}
			}
		}
		id := pc.id
		if id == "" {
			id = newCallID()
		}
		m.ToolCalls = append(m.ToolCalls, message.ToolCall{ID: id, Name: pc.name, Args: args})
	}
	return &m
}

// ChatStream issues one streaming model call. Events arrive on the
// returned channel; the channel closes after the terminal event.
func (o *OpenAI) ChatStream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	body := encodeOpenAIRequest(o.model, req)
	body.Stream = true
	body.StreamOptions = &oaStreamOptions{IncludeUsage: true}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal OpenAI request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+chatCompletionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create OpenAI request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := o.httpc.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send request to OpenAI")
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, openAIError(resp.StatusCode, raw)
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		state := newOAStreamState()
		err := readSSEStream(ctx, resp.Body, func(ev sse.Event) error {
			switch ev.Type {
			case sse.EventParseError:
				out <- StreamEvent{Type: StreamError, Err: errors.Wrapf(ev.Err, "malformed OpenAI stream payload %q", ev.Raw)}
				return nil
			case sse.EventDone:
				return errStreamDone
			}
			var chunk oaStreamChunk
			if err := json.Unmarshal(ev.Data, &chunk); err != nil {
				out <- StreamEvent{Type: StreamError, Err: errors.Wrapf(err, "unexpected OpenAI stream chunk")}
				return nil
			}
			if text := state.apply(chunk); text != "" {
				out <- StreamEvent{Type: StreamTextDelta, Text: text}
			}
			return nil
		})
		if err != nil {
			out <- StreamEvent{Type: StreamError, Err: err}
			return
		}
		final := state.finish()
		for i := range final.ToolCalls {
			out <- StreamEvent{Type: StreamToolCall, ToolCall: &final.ToolCalls[i]}
		}
		out <- StreamEvent{Type: StreamDone, Message: final}
	}()
	return out, nil
}
