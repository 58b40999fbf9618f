package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentive-dev/agentive/message"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewOpenAI("gpt-test", WithAPIKey("test-key"), WithBaseURL(srv.URL))
	require.NoError(t, err)
	return c
}

func TestEncodeOpenAIRequestSystemCollapse(t *testing.T) {
	req := &Request{Messages: []message.Message{
		message.System("You are helpful."),
		message.User("hi"),
		message.System("Be brief."),
	}}
	body := encodeOpenAIRequest("gpt-test", req)

	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "You are helpful.\n\nBe brief.", body.Messages[0].Content)
	assert.Equal(t, "user", body.Messages[1].Role)
}

func TestEncodeOpenAIToolCallArguments(t *testing.T) {
	turn := message.Assistant("checking")
	turn.ToolCalls = []message.ToolCall{{ID: "call_1", Name: "lookup", Args: map[string]any{"key": "v"}}}
	body := encodeOpenAIRequest("gpt-test", &Request{Messages: []message.Message{
		message.User("go"),
		turn,
		message.ToolResult("call_1", "lookup", "found"),
	}})

	require.Len(t, body.Messages, 3)
	tc := body.Messages[1].ToolCalls[0]
	assert.Equal(t, "function", tc.Type)
	assert.JSONEq(t, `{"key":"v"}`, tc.Function.Arguments, "arguments travel as a JSON string")

	result := body.Messages[2]
	assert.Equal(t, "tool", result.Role)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, "found", result.Content)
}

func TestOpenAIRoundTripToolCalls(t *testing.T) {
	// Encoding an assistant turn and decoding the wire form back must
	// preserve call count, order, names and arguments.
	turn := message.Assistant("")
	for i := 0; i < 4; i++ {
		turn.ToolCalls = append(turn.ToolCalls, message.ToolCall{
			ID:   fmt.Sprintf("call_%d", i),
			Name: fmt.Sprintf("tool_%d", i),
			Args: map[string]any{"n": float64(i)},
		})
	}
	wire := encodeOpenAIMessage(turn)
	decoded := decodeOpenAIMessage(wire)

	require.Len(t, decoded.ToolCalls, 4)
	for i, tc := range decoded.ToolCalls {
		assert.Equal(t, fmt.Sprintf("call_%d", i), tc.ID)
		assert.Equal(t, fmt.Sprintf("tool_%d", i), tc.Name)
		assert.Equal(t, map[string]any{"n": float64(i)}, tc.Args)
	}
}

func TestDecodeOpenAIMessageMalformedArguments(t *testing.T) {
	decoded := decodeOpenAIMessage(oaMessage{
		Role: "assistant",
		ToolCalls: []oaToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: oaFunction{Name: "lookup", Arguments: "{not json"},
		}},
	})
	require.Len(t, decoded.ToolCalls, 1)
	assert.Equal(t, "{not json", decoded.ToolCalls[0].Args["_raw"], "malformed arguments are preserved, not dropped")
}

func TestDecodeOpenAIMessageMissingCallID(t *testing.T) {
	decoded := decodeOpenAIMessage(oaMessage{
		Role: "assistant",
		ToolCalls: []oaToolCall{{
			Function: oaFunction{Name: "lookup", Arguments: "{}"},
		}},
	})
	require.Len(t, decoded.ToolCalls, 1)
	assert.NotEmpty(t, decoded.ToolCalls[0].ID, "missing id is synthesized")
}

func TestOpenAIChat(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body oaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body.Model)

		fmt.Fprint(w, `{
			"model": "gpt-test-1",
			"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12}
		}`)
	})

	m, err := client.Chat(context.Background(), &Request{Messages: []message.Message{message.User("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, "gpt-test-1", m.Model)
	require.NotNil(t, m.Usage)
	assert.Equal(t, message.Usage{InputTokens: 10, OutputTokens: 2, TotalTokens: 12}, *m.Usage)
}

func TestOpenAIChatAPIError(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limited", "type": "rate_limit_error"}}`)
	})

	_, err := client.Chat(context.Background(), &Request{Messages: []message.Message{message.User("hi")}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "openai", apiErr.Provider)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limit_error", apiErr.Kind)
	assert.Equal(t, "rate limited", apiErr.Message)
}

func TestOpenAIChatStream(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		var body oaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Stream)
		require.NotNil(t, body.StreamOptions)
		assert.True(t, body.StreamOptions.IncludeUsage)

		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			// Tool-call arguments fragmented across deltas, keyed by index.
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_9","function":{"name":"lookup","arguments":"{\"key\""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"v\"}"}}]}}]}`,
			`{"model":"gpt-test-1","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := client.ChatStream(context.Background(), &Request{Messages: []message.Message{message.User("hi")}})
	require.NoError(t, err)

	var text string
	var calls []message.ToolCall
	var final *message.Message
	for ev := range stream {
		switch ev.Type {
		case StreamTextDelta:
			text += ev.Text
		case StreamToolCall:
			calls = append(calls, *ev.ToolCall)
		case StreamDone:
			final = ev.Message
		case StreamError:
			t.Fatalf("unexpected stream error: %v", ev.Err)
		}
	}

	assert.Equal(t, "Hello", text)
	require.Len(t, calls, 1)
	assert.Equal(t, "call_9", calls[0].ID)
	assert.Equal(t, "lookup", calls[0].Name)
	assert.Equal(t, map[string]any{"key": "v"}, calls[0].Args)

	require.NotNil(t, final)
	assert.Equal(t, "Hello", final.Content)
	require.Len(t, final.ToolCalls, 1)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 8, final.Usage.TotalTokens)
}

func TestOpenAIChatStreamMalformedChunk(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {malformed\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"still here\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := client.ChatStream(context.Background(), &Request{Messages: []message.Message{message.User("hi")}})
	require.NoError(t, err)

	var text string
	var errCount int
	for ev := range stream {
		switch ev.Type {
		case StreamTextDelta:
			text += ev.Text
		case StreamError:
			errCount++
		}
	}
	assert.Equal(t, 1, errCount, "malformed payload is reported")
	assert.Equal(t, "still here", text, "stream continues past it")
}
