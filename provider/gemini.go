package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/agentive-dev/agentive/errors"
	"github.com/agentive-dev/agentive/message"
	"github.com/agentive-dev/agentive/sse"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini translates to and from the Gemini generateContent dialect:
// contents of role-tagged parts, functionCall/functionResponse parts and
// a top-level systemInstruction.
type Gemini struct {
	core
	model string
}

// NewGemini creates a Gemini translator. It reads GEMINI_API_KEY from
// the environment unless overridden by options.
func NewGemini(model string, opts ...Option) (*Gemini, error) {
	c := newCore(defaultGeminiBaseURL)
	for _, o := range opts {
		o(&c)
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}
	return &Gemini{core: c, model: model}, nil
}

// Name returns the provider name.
func (g *Gemini) Name() string { return "gemini" }

// Wire shapes for the generateContent dialect.

type gmRequest struct {
	SystemInstruction *gmContent          `json:"systemInstruction,omitempty"`
	Contents          []gmContent         `json:"contents"`
	Tools             []gmTool            `json:"tools,omitempty"`
	GenerationConfig  *gmGenerationConfig `json:"generationConfig,omitempty"`
}

type gmContent struct {
	Role  string   `json:"role,omitempty"`
	Parts []gmPart `json:"parts"`
}

type gmPart struct {
	Text             string              `json:"text,omitempty"`
	InlineData       *gmBlob             `json:"inlineData,omitempty"`
	FileData         *gmFileData         `json:"fileData,omitempty"`
	FunctionCall     *gmFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *gmFunctionResponse `json:"functionResponse,omitempty"`
}

type gmBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type gmFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type gmFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type gmFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type gmTool struct {
	FunctionDeclarations []gmFunctionDecl `json:"functionDeclarations"`
}

type gmFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type gmGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type gmUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type gmResponse struct {
	Candidates []struct {
		Content      gmContent `json:"content"`
		FinishReason string    `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *gmUsage `json:"usageMetadata"`
	ModelVersion  string   `json:"modelVersion"`
	Error         *gmError `json:"error"`
}

type gmError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// encodeGeminiRequest renders the outbound body. System turns become the
// systemInstruction; assistant turns are relabeled "model"; tool results
// travel as user turns carrying a functionResponse part correlated by
// function name, since the dialect has no tool role and no call ids.
func encodeGeminiRequest(req *Request) gmRequest {
	system, rest := splitSystem(req.Messages)
	out := gmRequest{Tools: encodeGeminiTools(req.Tools)}
	if system != "" {
		out.SystemInstruction = &gmContent{Parts: []gmPart{{Text: system}}}
	}
	for _, m := range rest {
		out.Contents = append(out.Contents, encodeGeminiContent(m))
	}
	if req.MaxTokens > 0 || req.Temperature != nil {
		out.GenerationConfig = &gmGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}
	return out
}

func encodeGeminiContent(m message.Message) gmContent {
	switch m.Role {
	case message.RoleAssistant:
		var parts []gmPart
		if m.Content != "" {
			parts = append(parts, gmPart{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			parts = append(parts, gmPart{FunctionCall: &gmFunctionCall{Name: tc.Name, Args: tc.Args}})
		}
		return gmContent{Role: "model", Parts: parts}
	case message.RoleTool:
		return gmContent{Role: "user", Parts: []gmPart{{
			FunctionResponse: &gmFunctionResponse{
				Name:     m.ToolName,
				Response: map[string]any{"result": m.Content},
			},
		}}}
	default:
		if len(m.Parts) > 0 {
			parts := make([]gmPart, 0, len(m.Parts))
			for _, p := range m.Parts {
				parts = append(parts, encodeGeminiPart(p))
			}
			return gmContent{Role: "user", Parts: parts}
		}
		return gmContent{Role: "user", Parts: []gmPart{{Text: m.Content}}}
	}
}

func encodeGeminiPart(p message.Part) gmPart {
	switch p.Type {
	case message.PartImage:
		if p.URL != "" {
			return gmPart{FileData: &gmFileData{MimeType: p.MediaType, FileURI: p.URL}}
		}
		return gmPart{InlineData: &gmBlob{MimeType: p.MediaType, Data: p.Data}}
	default:
		return gmPart{Text: p.Text}
	}
}

func encodeGeminiTools(tools []ToolDef) []gmTool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]gmFunctionDecl, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, gmFunctionDecl{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  geminiSchema(t.Parameters),
		})
	}
	return []gmTool{{FunctionDeclarations: decls}}
}

// decodeGeminiContent assembles an assistant message from candidate
// parts. The dialect carries no call ids, so each functionCall gets a
// synthesized one.
func decodeGeminiContent(content gmContent) message.Message {
	m := message.Assistant("")
	var text strings.Builder
	for _, p := range content.Parts {
		switch {
		case p.FunctionCall != nil:
			m.ToolCalls = append(m.ToolCalls, message.ToolCall{
				ID:   newCallID(),
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			})
		case p.Text != "":
			text.WriteString(p.Text)
		}
	}
	m.Content = text.String()
	return m
}

func decodeGeminiUsage(u *gmUsage) *message.Usage {
	if u == nil {
		return nil
	}
	return &message.Usage{
		InputTokens:  u.PromptTokenCount,
		OutputTokens: u.CandidatesTokenCount,
		TotalTokens:  u.TotalTokenCount,
	}
}

// Chat issues one non-streaming model call.
func (g *Gemini) Chat(ctx context.Context, req *Request) (*message.Message, error) {
	raw, err := g.post(ctx, encodeGeminiRequest(req), fmt.Sprintf("/models/%s:generateContent", g.model))
	if err != nil {
		return nil, err
	}
	var resp gmResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to parse Gemini response")
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.New("received an empty response from Gemini")
	}
	m := decodeGeminiContent(resp.Candidates[0].Content)
	m.Model = resp.ModelVersion
	m.Usage = decodeGeminiUsage(resp.UsageMetadata)
	return &m, nil
}

func (g *Gemini) post(ctx context.Context, body gmRequest, path string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal Gemini request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Gemini request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.httpc.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send request to Gemini")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read Gemini response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, geminiError(resp.StatusCode, raw)
	}
	return raw, nil
}

func geminiError(status int, raw []byte) error {
	var envelope gmResponse
	_ = json.Unmarshal(raw, &envelope)
	apiErr := &APIError{Provider: "gemini", StatusCode: status, Message: string(raw)}
	if envelope.Error != nil {
		apiErr.Kind = envelope.Error.Status
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

// ChatStream issues one streaming model call. Each SSE event carries a
// full response chunk; there is no [DONE] sentinel, the stream simply
// ends after the chunk with a finishReason.
func (g *Gemini) ChatStream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	payload, err := json.Marshal(encodeGeminiRequest(req))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal Gemini request")
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Gemini request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.httpc.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send request to Gemini")
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, geminiError(resp.StatusCode, raw)
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		final := message.Assistant("")
		var text strings.Builder
		err := readSSEStream(ctx, resp.Body, func(ev sse.Event) error {
			switch ev.Type {
			case sse.EventParseError:
				out <- StreamEvent{Type: StreamError, Err: errors.Wrapf(ev.Err, "malformed Gemini stream payload %q", ev.Raw)}
				return nil
			case sse.EventDone:
				return errStreamDone
			}
			var chunk gmResponse
			if err := json.Unmarshal(ev.Data, &chunk); err != nil {
				out <- StreamEvent{Type: StreamError, Err: errors.Wrapf(err, "unexpected Gemini stream chunk")}
				return nil
			}
			if chunk.ModelVersion != "" {
				final.Model = chunk.ModelVersion
			}
			if chunk.UsageMetadata != nil {
				final.Usage = decodeGeminiUsage(chunk.UsageMetadata)
			}
			if len(chunk.Candidates) == 0 {
				return nil
			}
			piece := decodeGeminiContent(chunk.Candidates[0].Content)
			if piece.Content != "" {
				text.WriteString(piece.Content)
				out <- StreamEvent{Type: StreamTextDelta, Text: piece.Content}
			}
			for i := range piece.ToolCalls {
				final.ToolCalls = append(final.ToolCalls, piece.ToolCalls[i])
				out <- StreamEvent{Type: StreamToolCall, ToolCall: &piece.ToolCalls[i]}
			}
			return nil
		})
		if err != nil {
			out <- StreamEvent{Type: StreamError, Err: err}
			return
		}
		final.Content = text.String()
		out <- StreamEvent{Type: StreamDone, Message: &final}
	}()
	return out, nil
}
