package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentive-dev/agentive/message"
	"github.com/agentive-dev/agentive/sse"
)

// ToolDef is the canonical tool declaration handed to a translator:
// name, description and a JSON-schema object for the parameters.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is the provider-independent form of one model call. Messages
// holds the full transcript including system turns; each translator
// extracts system messages into its own top-level field.
type Request struct {
	Model       string
	Messages    []message.Message
	Tools       []ToolDef
	MaxTokens   int
	Temperature *float64
}

// Client is the interface every provider translator implements.
type Client interface {
	Name() string
	Chat(ctx context.Context, req *Request) (*message.Message, error)
	ChatStream(ctx context.Context, req *Request) (<-chan StreamEvent, error)
}

// StreamEventType tags incremental results on a streaming call.
type StreamEventType string

const (
	// StreamTextDelta carries an incremental piece of assistant text.
	StreamTextDelta StreamEventType = "text_delta"
	// StreamToolCall carries one fully assembled tool call.
	StreamToolCall StreamEventType = "tool_call"
	// StreamDone terminates the stream and carries the final assembled
	// assistant message including usage.
	StreamDone StreamEventType = "done"
	// StreamError carries a stream-level failure or a tagged SSE parse
	// error; the stream continues after parse errors.
	StreamError StreamEventType = "error"
)

// StreamEvent is one incremental result from a streaming call.
type StreamEvent struct {
	Type     StreamEventType
	Text     string
	ToolCall *message.ToolCall
	Message  *message.Message
	Err      error
}

// APIError is an upstream error envelope with HTTP metadata.
type APIError struct {
	Provider   string
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error (%d, %s): %s", e.Provider, e.StatusCode, e.Kind, e.Message)
}

const defaultMaxTokens = 4096

// core holds the transport settings shared by the HTTP-based translators.
type core struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

func newCore(baseURL string) core {
	return core{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 120 * time.Second},
	}
}

// Option configures an HTTP-based translator.
type Option func(*core)

// WithAPIKey sets the API key explicitly instead of reading it from the
// environment.
func WithAPIKey(key string) Option { return func(c *core) { c.apiKey = key } }

// WithBaseURL overrides the API base URL, useful for tests and proxies.
func WithBaseURL(url string) Option { return func(c *core) { c.baseURL = strings.TrimSuffix(url, "/") } }

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *core) { c.httpc = hc } }

// splitSystem extracts system-role turns into a single system string,
// joined with a blank line when there are several, and returns the
// remaining transcript.
func splitSystem(msgs []message.Message) (string, []message.Message) {
	var system []string
	rest := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == message.RoleSystem {
			system = append(system, m.Text())
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// newCallID synthesizes a tool-call id for providers that omit one, so
// call/result correlation always succeeds.
func newCallID() string {
	return "call_" + uuid.NewString()
}

// maxTokens resolves the request's token limit with the shared default.
func maxTokens(req *Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}

// errStreamDone stops readSSEStream once a terminal event was seen.
var errStreamDone = fmt.Errorf("stream done")

// readSSEStream pumps body through the shared SSE parser, invoking handle
// for every complete event. Transport fragmentation is absorbed by
// carrying the parser remainder between reads.
func readSSEStream(ctx context.Context, body io.Reader, handle func(sse.Event) error) error {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, readErr := body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			events, rest := sse.Parse(buf)
			buf = append(buf[:0], rest...)
			for _, ev := range events {
				if err := handle(ev); err != nil {
					if err == errStreamDone {
						return nil
					}
					return err
				}
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
