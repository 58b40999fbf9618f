package provider

import (
	"bytes"
	"context"
	"encoding/json"
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
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicMessagesPath   = "/v1/messages"
	anthropicVersion        = "2023-06-01"
)

// Anthropic translates to and from the Anthropic messages dialect:
// content-block unions, a top-level system field, and typed SSE events.
type Anthropic struct {
	core
	model string
}

// NewAnthropic creates an Anthropic translator. It reads
// ANTHROPIC_API_KEY from the environment unless overridden by options.
func NewAnthropic(model string, opts ...Option) (*Anthropic, error) {
	c := newCore(defaultAnthropicBaseURL)
	for _, o := range opts {
		o(&c)
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	return &Anthropic{core: c, model: model}, nil
}

// Name returns the provider name.
func (a *Anthropic) Name() string { return "anthropic" }

// Wire shapes for the messages dialect. anRequest doubles as the Bedrock
// body, which replaces the model field with anthropic_version.

type anRequest struct {
	Model            string      `json:"model,omitempty"`
	AnthropicVersion string      `json:"anthropic_version,omitempty"`
	MaxTokens        int         `json:"max_tokens"`
	System           string      `json:"system,omitempty"`
	Messages         []anMessage `json:"messages"`
	Tools            []anTool    `json:"tools,omitempty"`
	Temperature      *float64    `json:"temperature,omitempty"`
	Stream           bool        `json:"stream,omitempty"`
}

type anMessage struct {
	Role    string    `json:"role"`
	Content []anBlock `json:"content"`
}

// anBlock is the content-block union: text, image, tool_use and
// tool_result blocks share one struct discriminated by Type.
type anBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	Source    *anImageSource `json:"source,omitempty"`
}

type anImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anResponse struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	Role       string    `json:"role"`
	Content    []anBlock `json:"content"`
	StopReason string    `json:"stop_reason"`
	Usage      *anUsage  `json:"usage"`
}

type anErrorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// encodeAnthropicRequest renders the outbound body. The model field is
// left to the caller so the same encoding serves Bedrock.
func encodeAnthropicRequest(req *Request) anRequest {
	system, rest := splitSystem(req.Messages)
	msgs := make([]anMessage, 0, len(rest))
	for _, m := range rest {
		msgs = append(msgs, encodeAnthropicMessage(m))
	}
	return anRequest{
		MaxTokens:   maxTokens(req),
		System:      system,
		Messages:    msgs,
		Tools:       encodeAnthropicTools(req.Tools),
		Temperature: req.Temperature,
	}
}

func encodeAnthropicMessage(m message.Message) anMessage {
	switch m.Role {
	case message.RoleAssistant:
		var blocks []anBlock
		if m.Content != "" {
			blocks = append(blocks, anBlock{Type: "text", Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, anBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Args})
		}
		return anMessage{Role: "assistant", Content: blocks}
	case message.RoleTool:
		// The dialect has no tool role; results travel as user turns
		// with a tool_result block correlated by tool_use_id.
		return anMessage{Role: "user", Content: []anBlock{{
			Type:      "tool_result",
			ToolUseID: m.ToolCallID,
			Content:   m.Content,
		}}}
	default:
		if len(m.Parts) > 0 {
			blocks := make([]anBlock, 0, len(m.Parts))
			for _, p := range m.Parts {
				blocks = append(blocks, encodeAnthropicPart(p))
			}
			return anMessage{Role: "user", Content: blocks}
		}
		return anMessage{Role: "user", Content: []anBlock{{Type: "text", Text: m.Content}}}
	}
}

func encodeAnthropicPart(p message.Part) anBlock {
	switch p.Type {
	case message.PartImage:
		if p.URL != "" {
			return anBlock{Type: "image", Source: &anImageSource{Type: "url", URL: p.URL}}
		}
		return anBlock{Type: "image", Source: &anImageSource{Type: "base64", MediaType: p.MediaType, Data: p.Data}}
	default:
		return anBlock{Type: "text", Text: p.Text}
	}
}

func encodeAnthropicTools(tools []ToolDef) []anTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anTool, 0, len(tools))
	for _, t := range tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, anTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

// decodeAnthropicBlocks assembles an assistant message from response
// content blocks.
func decodeAnthropicBlocks(blocks []anBlock) message.Message {
	m := message.Assistant("")
	var text strings.Builder
	for _, b := range blocks {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "tool_use":
			id := b.ID
			if id == "" {
				id = newCallID()
			}
			m.ToolCalls = append(m.ToolCalls, message.ToolCall{ID: id, Name: b.Name, Args: b.Input})
		}
	}
	m.Content = text.String()
	return m
}

func decodeAnthropicUsage(u *anUsage) *message.Usage {
	if u == nil {
		return nil
	}
	return &message.Usage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.InputTokens + u.OutputTokens,
	}
}

// Chat issues one non-streaming model call.
func (a *Anthropic) Chat(ctx context.Context, req *Request) (*message.Message, error) {
	body := encodeAnthropicRequest(req)
	body.Model = a.model
	raw, err := a.post(ctx, body)
	if err != nil {
		return nil, err
	}
	var resp anResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to parse Anthropic response")
	}
	m := decodeAnthropicBlocks(resp.Content)
	m.Model = resp.Model
	m.Usage = decodeAnthropicUsage(resp.Usage)
	return &m, nil
}

func (a *Anthropic) post(ctx context.Context, body anRequest) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal Anthropic request")
	}
	httpReq, err := a.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpc.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send request to Anthropic")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read Anthropic response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, anthropicError(resp.StatusCode, raw)
	}
	return raw, nil
}

func (a *Anthropic) newRequest(ctx context.Context, payload []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+anthropicMessagesPath, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	return httpReq, nil
}

func anthropicError(status int, raw []byte) error {
	var envelope anErrorEnvelope
	_ = json.Unmarshal(raw, &envelope)
	apiErr := &APIError{Provider: "anthropic", StatusCode: status, Message: string(raw)}
	if envelope.Error.Message != "" {
		apiErr.Kind = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

// Streaming event shapes. Tool-use input arrives as input_json_delta
// fragments accumulated per block index until content_block_stop.

type anStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	Message *struct {
		Model string   `json:"model"`
		Usage *anUsage `json:"usage"`
	} `json:"message,omitempty"`

	ContentBlock *anBlock `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta,omitempty"`

	Usage *anUsage `json:"usage,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anStreamState struct {
	model  string
	text   strings.Builder
	blocks map[int]*anPartialBlock
	order  []int
	input  int
	output int
}

type anPartialBlock struct {
	typ  string
	id   string
	name string
	json strings.Builder
	done bool
}

func newANStreamState() *anStreamState {
	return &anStreamState{blocks: map[int]*anPartialBlock{}}
}

// apply folds one stream event into the state. It returns the text delta
// carried by the event and, when a tool_use block completes, the
// assembled tool call.
func (s *anStreamState) apply(ev anStreamEvent) (string, *message.ToolCall, bool) {
	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			s.model = ev.Message.Model
			if ev.Message.Usage != nil {
				s.input = ev.Message.Usage.InputTokens
			}
		}
	case "content_block_start":
		if ev.ContentBlock != nil {
			s.blocks[ev.Index] = &anPartialBlock{
				typ:  ev.ContentBlock.Type,
				id:   ev.ContentBlock.ID,
				name: ev.ContentBlock.Name,
			}
			s.order = append(s.order, ev.Index)
		}
	case "content_block_delta":
		if ev.Delta == nil {
			break
		}
		switch ev.Delta.Type {
		case "text_delta":
			s.text.WriteString(ev.Delta.Text)
			return ev.Delta.Text, nil, false
		case "input_json_delta":
			if b, ok := s.blocks[ev.Index]; ok {
				b.json.WriteString(ev.Delta.PartialJSON)
			}
		}
	case "content_block_stop":
		if b, ok := s.blocks[ev.Index]; ok && b.typ == "tool_use" && !b.done {
			b.done = true
			return "", s.finishCall(b), false
		}
	case "message_delta":
		if ev.Usage != nil {
			s.output = ev.Usage.OutputTokens
		}
	case "message_stop":
		return "", nil, true
	}
	return "", nil, false
}

func (s *anStreamState) finishCall(b *anPartialBlock) *message.ToolCall {
	var args map[string]any
	if raw := b.json.String(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			args = map[string]any{"_raw": raw}
		}
	}
	id := b.id
	if id == "" {
		id = newCallID()
	}
	return &message.ToolCall{ID: id, Name: b.name, Args: args}
}

// finish assembles the final assistant message.
func (s *anStreamState) finish() *message.Message {
	m := message.Assistant(s.text.String())
	m.Model = s.model
	m.Usage = &message.Usage{
		InputTokens:  s.input,
		OutputTokens: s.output,
		TotalTokens:  s.input + s.output,
	}
	sort.Ints(s.order)
	for _, i := range s.order {
		b := s.blocks[i]
		if b.typ != "tool_use" {
			continue
		}
		m.ToolCalls = append(m.ToolCalls, *s.finishCall(b))
	}
	return &m
}

// ChatStream issues one streaming model call.
func (a *Anthropic) ChatStream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	body := encodeAnthropicRequest(req)
	body.Model = a.model
	body.Stream = true
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal Anthropic request")
	}
	httpReq, err := a.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpc.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send request to Anthropic")
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, anthropicError(resp.StatusCode, raw)
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		state := newANStreamState()
		err := readSSEStream(ctx, resp.Body, func(ev sse.Event) error {
			switch ev.Type {
			case sse.EventDone:
				return errStreamDone
			case sse.EventParseError:
				out <- StreamEvent{Type: StreamError, Err: errors.Wrapf(ev.Err, "malformed Anthropic stream payload %q", ev.Raw)}
				return nil
			}
			var event anStreamEvent
			if err := json.Unmarshal(ev.Data, &event); err != nil {
				out <- StreamEvent{Type: StreamError, Err: errors.Wrapf(err, "unexpected Anthropic stream event")}
				return nil
			}
			if event.Type == "error" && event.Error != nil {
				return &APIError{Provider: "anthropic", Kind: event.Error.Type, Message: event.Error.Message}
			}
			text, call, done := state.apply(event)
			if text != "" {
				out <- StreamEvent{Type: StreamTextDelta, Text: text}
			}
			if call != nil {
				out <- StreamEvent{Type: StreamToolCall, ToolCall: call}
			}
			if done {
				return errStreamDone
			}
			return nil
		})
		if err != nil {
			out <- StreamEvent{Type: StreamError, Err: err}
			return
		}
		out <- StreamEvent{Type: StreamDone, Message: state.finish()}
	}()
	return out, nil
}
