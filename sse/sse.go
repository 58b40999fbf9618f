// Package sse implements an incremental Server-Sent-Events decoder shared
// by all provider translators. Parse is a pure function of its input
// buffer, so a stream can be decoded chunk by chunk regardless of how the
// transport fragments it.
package sse

import (
	"bytes"
	"encoding/json"
)

// EventType tags the kind of a decoded event.
type EventType string

const (
	// EventData carries a decoded JSON payload.
	EventData EventType = "data"
	// EventDone is synthesized for the literal "[DONE]" sentinel.
	EventDone EventType = "done"
	// EventParseError carries a payload that failed JSON decoding. The
	// raw payload is preserved so the consumer can log or surface it.
	EventParseError EventType = "parse_error"
)

// Event is one decoded SSE event.
type Event struct {
	Type EventType
	// Name is the value of the event: field, when present.
	Name string
	// Data is the JSON payload of a data event.
	Data json.RawMessage
	// Raw is the undecodable payload of a parse-error event.
	Raw string
	// Err is the decode failure of a parse-error event.
	Err error
}

const doneSentinel = "[DONE]"

var (
	delimLF   = []byte("\n\n")
	delimCRLF = []byte("\r\n\r\n")
)

// Parse splits buf into complete SSE events and returns the unconsumed
// trailing bytes. Events are delimited by a blank line; both \n\n and
// \r\n\r\n are accepted. Within a segment, comment lines (leading ':')
// and non-data fields are skipped, and multiple data: lines are joined
// with newlines before decoding.
func Parse(buf []byte) ([]Event, []byte) {
	var events []Event
	rest := buf
	for {
		seg, tail, ok := nextSegment(rest)
		if !ok {
			break
		}
		rest = tail
		if ev, ok := decodeSegment(seg); ok {
			events = append(events, ev)
		}
	}
	return events, rest
}

// nextSegment cuts the earliest complete event segment off buf.
func nextSegment(buf []byte) (seg, tail []byte, ok bool) {
	i := bytes.Index(buf, delimLF)
	j := bytes.Index(buf, delimCRLF)
	switch {
	case j >= 0 && (i < 0 || j < i):
		return buf[:j], buf[j+len(delimCRLF):], true
	case i >= 0:
		return buf[:i], buf[i+len(delimLF):], true
	default:
		return nil, buf, false
	}
}

// decodeSegment turns one complete segment into an event. Segments with
// no data lines (comments, id/retry-only events) produce no event.
func decodeSegment(seg []byte) (Event, bool) {
	var name string
	var data [][]byte
	for _, line := range bytes.Split(seg, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		field, value := splitField(line)
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			name = string(value)
		default:
			// id:, retry: and unknown fields are ignored.
		}
	}
	if len(data) == 0 {
		return Event{}, false
	}
	payload := bytes.Join(data, []byte("\n"))
	if string(payload) == doneSentinel {
		return Event{Type: EventDone, Name: name}, true
	}
	var probe any
	if err := json.Unmarshal(payload, &probe); err != nil {
		return Event{Type: EventParseError, Name: name, Raw: string(payload), Err: err}, true
	}
	return Event{Type: EventData, Name: name, Data: json.RawMessage(payload)}, true
}

// splitField splits "field: value", trimming the single optional space
// after the colon per the SSE grammar.
func splitField(line []byte) (string, []byte) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return string(line), nil
	}
	value := line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:i]), value
}
