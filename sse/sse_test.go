package sse

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSingleEvent(t *testing.T) {
	events, rest := Parse([]byte("data: {\"a\":1}\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, EventData, events[0].Type)
	assert.JSONEq(t, `{"a":1}`, string(events[0].Data))
	assert.Empty(t, rest)
}

func TestParsePartialBuffer(t *testing.T) {
	// First chunk ends mid-event; the partial segment must be returned
	// untouched so the caller can prepend it to the next chunk.
	events, rest := Parse([]byte("data: {\"a\":1}\n\ndata"))
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"a":1}`, string(events[0].Data))
	assert.Equal(t, "data", string(rest))

	events, rest = Parse(append(rest, []byte(": {\"b\":2}\n\n")...))
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"b":2}`, string(events[0].Data))
	assert.Empty(t, rest)
}

func TestParseCRLFDelimiter(t *testing.T) {
	events, rest := Parse([]byte("data: {\"a\":1}\r\n\r\ndata: {\"b\":2}\n\n"))
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"a":1}`, string(events[0].Data))
	assert.JSONEq(t, `{"b":2}`, string(events[1].Data))
	assert.Empty(t, rest)
}

func TestParseMultipleDataLines(t *testing.T) {
	// An event may split its payload across several data: lines; they are
	// joined with newlines before decoding.
	events, _ := Parse([]byte("data: {\"a\":\ndata: 1}\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, EventData, events[0].Type)
	assert.JSONEq(t, `{"a":1}`, string(events[0].Data))
}

func TestParseSkipsCommentsAndFields(t *testing.T) {
	input := ": keep-alive\n\nid: 42\nretry: 100\nevent: message_start\ndata: {\"ok\":true}\n\n"
	events, rest := Parse([]byte(input))
	require.Len(t, events, 1)
	assert.Equal(t, "message_start", events[0].Name)
	assert.JSONEq(t, `{"ok":true}`, string(events[0].Data))
	assert.Empty(t, rest)
}

func TestParseDoneSentinel(t *testing.T) {
	events, _ := Parse([]byte("data: [DONE]\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, EventDone, events[0].Type)
}

func TestParseMalformedPayload(t *testing.T) {
	events, _ := Parse([]byte("data: {not json\n\ndata: {\"ok\":1}\n\n"))
	require.Len(t, events, 2)
	assert.Equal(t, EventParseError, events[0].Type)
	assert.Equal(t, "{not json", events[0].Raw)
	assert.Error(t, events[0].Err)
	assert.Equal(t, EventData, events[1].Type)
}

func TestParseIncompleteOnly(t *testing.T) {
	events, rest := Parse([]byte("data: {\"a\":1}"))
	assert.Empty(t, events)
	assert.Equal(t, "data: {\"a\":1}", string(rest))
}

// Feeding a stream in arbitrary byte-wise slices must yield the same
// events as feeding it whole.
func TestParseChunkingProperty(t *testing.T) {
	full := []byte("event: a\ndata: {\"n\":1}\n\n: comment\n\ndata: [DONE]\n\ndata: {\"n\":2}\r\n\r\n")
	whole, wholeRest := Parse(full)
	require.Empty(t, wholeRest)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("chunked parse equals whole parse", prop.ForAll(
		func(cut int) bool {
			var got []Event
			buf := append([]byte(nil), full[:cut]...)
			events, rest := Parse(buf)
			got = append(got, events...)
			events, rest = Parse(append(rest, full[cut:]...))
			got = append(got, events...)
			if len(rest) != 0 || len(got) != len(whole) {
				return false
			}
			for i := range got {
				if got[i].Type != whole[i].Type || string(got[i].Data) != string(whole[i].Data) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(full)),
	))

	properties.TestingRun(t)
}
